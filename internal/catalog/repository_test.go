package catalog

import (
	"context"
	"testing"

	"github.com/angelmondragon/opsconsole/internal/picks"
	"github.com/angelmondragon/opsconsole/pkg/db/models"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:catalog_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Variant{}))
	return db
}

func pick(s string) *string { return &s }

func seedVariants(t *testing.T, repo *Repository) {
	t.Helper()
	require.NoError(t, repo.db.Create(&[]models.Variant{
		{ID: "v1", SKU: "WDG-RED", Title: "Widget Red", ProductType: "Widgets", PickNumber: pick("101"), Price: decimal.RequireFromString("12.50")},
		{ID: "v2", SKU: "WDG-BLU", Title: "Widget Blue", ProductType: "Widgets", PickNumber: pick("102")},
		{ID: "v3", SKU: "WDG-GRN", Title: "Widget Green", ProductType: "Widgets", PickNumber: pick("104")},
		{ID: "v4", SKU: "WDG-YEL", Title: "Widget Yellow", ProductType: "Widgets"},
		{ID: "v5", SKU: "WDG-OLD", Title: "Widget Old", ProductType: "Widgets", PickNumber: pick("103"), Archived: true},
	}).Error)
}

func variantsByID(t *testing.T, repo *Repository, ids ...string) []models.Variant {
	t.Helper()
	var rows []models.Variant
	require.NoError(t, repo.db.Where("id IN ?", ids).Order("id ASC").Find(&rows).Error)
	return rows
}

func TestRepositoryListVariants(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	seedVariants(t, repo)
	ctx := context.Background()

	active, err := repo.ListVariants(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 4)
	assert.Equal(t, "WDG-BLU", active[0].SKU)

	all, err := repo.ListVariants(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	var red models.Variant
	for _, v := range all {
		if v.ID == "v1" {
			red = v
		}
	}
	assert.True(t, red.Price.Equal(decimal.RequireFromString("12.5")))
}

func TestRepositoryUpdatePickNumbers(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	seedVariants(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.UpdatePickNumbers(ctx, map[string]string{"v4": " 0105 ", "v2": ""}))

	rows := variantsByID(t, repo, "v2", "v4")
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].PickNumber)
	require.NotNil(t, rows[1].PickNumber)
	assert.Equal(t, "105", *rows[1].PickNumber)
}

func TestRepositoryApplyEditsRollsBackOnUnknownVariant(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	seedVariants(t, repo)
	ctx := context.Background()

	err := repo.ApplyEdits(ctx, []picks.Edit{
		{VariantID: "v4", PickNumber: pick("105"), SKU: pick("WDG-YLW")},
		{VariantID: "ghost", PickNumber: pick("106")},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	rows := variantsByID(t, repo, "v4")
	assert.Nil(t, rows[0].PickNumber)
	assert.Equal(t, "WDG-YEL", rows[0].SKU)
}

func TestRepositoryApplyEditsMapsUniqueIndexToConflict(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	seedVariants(t, repo)
	ctx := context.Background()
	require.NoError(t, repo.db.Exec("CREATE UNIQUE INDEX idx_variants_sku_unique ON variants (sku)").Error)

	err := repo.ApplyEdits(ctx, []picks.Edit{
		{VariantID: "v4", PickNumber: pick("105")},
		{VariantID: "v2", SKU: pick("WDG-RED")},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	rows := variantsByID(t, repo, "v2", "v4")
	assert.Equal(t, "WDG-BLU", rows[0].SKU)
	assert.Nil(t, rows[1].PickNumber)
}
