package models

import "time"

// ChangeCacheEntry persists one change-detection verdict per fulfillment order.
// Changes holds the JSON-encoded diff entries.
type ChangeCacheEntry struct {
	OrderID       string    `gorm:"column:order_id;primaryKey"`
	OrderNumber   string    `gorm:"column:order_number;not null;default:''"`
	LastCheckedAt time.Time `gorm:"column:last_checked_at;not null"`
	HasChanges    bool      `gorm:"column:has_changes;not null;default:false"`
	Tagged        bool      `gorm:"column:tagged;not null;default:false"`
	Changes       string    `gorm:"column:changes;type:text;not null;default:'[]'"`
	Error         *string   `gorm:"column:error"`
}
