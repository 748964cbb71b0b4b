package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant mirrors one commerce-platform product variant plus its warehouse metadata.
type Variant struct {
	ID                string          `gorm:"column:id;primaryKey"`
	ProductID         string          `gorm:"column:product_id;not null;default:''"`
	SKU               string          `gorm:"column:sku;not null;default:''"`
	Title             string          `gorm:"column:title;not null;default:''"`
	ProductType       string          `gorm:"column:product_type;not null;default:''"`
	PickNumber        *string         `gorm:"column:pick_number"`
	WarehouseLocation *string         `gorm:"column:warehouse_location"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	WeightGrams       *int            `gorm:"column:weight_grams"`
	CustomsCode       *string         `gorm:"column:customs_code"`
	CountryOfOrigin   *string         `gorm:"column:country_of_origin"`
	Archived          bool            `gorm:"column:archived;not null;default:false"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
