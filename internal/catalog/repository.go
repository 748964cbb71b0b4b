package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/opsconsole/internal/picks"
	"github.com/angelmondragon/opsconsole/pkg/db"
	"github.com/angelmondragon/opsconsole/pkg/db/models"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"gorm.io/gorm"
)

// Repository persists catalog variants.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListVariants returns variants ordered by SKU then id.
func (r *Repository) ListVariants(ctx context.Context, includeArchived bool) ([]models.Variant, error) {
	var rows []models.Variant
	query := r.db.WithContext(ctx).Order("sku ASC").Order("id ASC")
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdatePickNumbers sets pick numbers by variant id in one transaction.
// An empty value clears the pick number.
func (r *Repository) UpdatePickNumbers(ctx context.Context, pickNumbers map[string]string) error {
	ids := make([]string, 0, len(pickNumbers))
	for id := range pickNumbers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	edits := make([]picks.Edit, 0, len(ids))
	for _, id := range ids {
		value := pickNumbers[id]
		edits = append(edits, picks.Edit{VariantID: id, PickNumber: &value})
	}
	return r.ApplyEdits(ctx, edits)
}

// ApplyEdits writes SKU and pick-number edits in one transaction. Any
// unknown variant rolls back the whole batch.
func (r *Repository) ApplyEdits(ctx context.Context, edits []picks.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, edit := range edits {
			updates := map[string]any{}
			if edit.SKU != nil {
				updates["sku"] = strings.TrimSpace(*edit.SKU)
			}
			if edit.PickNumber != nil {
				updates["pick_number"] = normalizePickNumber(*edit.PickNumber)
			}
			if len(updates) == 0 {
				continue
			}
			res := tx.Model(&models.Variant{}).Where("id = ?", edit.VariantID).Updates(updates)
			if res.Error != nil {
				if db.IsUniqueViolation(res.Error, "") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, res.Error, fmt.Sprintf("variant %s violates a unique index", edit.VariantID))
				}
				return fmt.Errorf("update variant %s: %w", edit.VariantID, res.Error)
			}
			if res.RowsAffected == 0 {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("variant %s not found", edit.VariantID))
			}
		}
		return nil
	})
}

func normalizePickNumber(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if n, ok := picks.ParsePickNumber(trimmed); ok {
		trimmed = fmt.Sprint(n)
	}
	return &trimmed
}

func toPickVariant(v models.Variant) picks.Variant {
	out := picks.Variant{
		ID:          v.ID,
		SKU:         v.SKU,
		Title:       v.Title,
		ProductType: v.ProductType,
		Archived:    v.Archived,
	}
	if v.PickNumber != nil {
		out.PickNumber = *v.PickNumber
	}
	return out
}

func toPickVariants(rows []models.Variant) []picks.Variant {
	out := make([]picks.Variant, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPickVariant(row))
	}
	return out
}
