package changecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/opsconsole/internal/reconcile"
	"github.com/angelmondragon/opsconsole/pkg/db/models"
	"gorm.io/gorm"
)

const saveBatchSize = 200

// DBStore keeps one row per order in change_cache_entries.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	return &DBStore{db: db}, nil
}

func (s *DBStore) LoadAll(ctx context.Context) (map[string]Entry, error) {
	var rows []models.ChangeCacheEntry
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: load rows: %v", ErrCorrupt, err)
	}
	entries := make(map[string]Entry, len(rows))
	for _, row := range rows {
		entry, err := entryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries[row.OrderID] = entry
	}
	return entries, nil
}

// SaveAll replaces the table contents in a single transaction.
func (s *DBStore) SaveAll(ctx context.Context, entries map[string]Entry) error {
	rows := make([]models.ChangeCacheEntry, 0, len(entries))
	for id, entry := range entries {
		row, err := rowFromEntry(id, entry)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ChangeCacheEntry{}).Error; err != nil {
			return fmt.Errorf("clear change cache: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, saveBatchSize).Error; err != nil {
			return fmt.Errorf("insert change cache: %w", err)
		}
		return nil
	})
}

func entryFromRow(row models.ChangeCacheEntry) (Entry, error) {
	var changes []reconcile.ItemDiffEntry
	if row.Changes != "" {
		if err := json.Unmarshal([]byte(row.Changes), &changes); err != nil {
			return Entry{}, fmt.Errorf("%w: order %s: %v", ErrCorrupt, row.OrderID, err)
		}
	}
	if len(changes) == 0 {
		changes = nil
	}
	entry := Entry{
		LastChecked: row.LastCheckedAt.UnixMilli(),
		HasChanges:  row.HasChanges,
		Changes:     changes,
		OrderNumber: row.OrderNumber,
		Tagged:      row.Tagged,
	}
	if row.Error != nil {
		entry.Error = *row.Error
	}
	return entry, nil
}

func rowFromEntry(orderID string, entry Entry) (models.ChangeCacheEntry, error) {
	changes := entry.Changes
	if changes == nil {
		changes = []reconcile.ItemDiffEntry{}
	}
	encoded, err := json.Marshal(changes)
	if err != nil {
		return models.ChangeCacheEntry{}, fmt.Errorf("encode changes for order %s: %w", orderID, err)
	}
	row := models.ChangeCacheEntry{
		OrderID:       orderID,
		OrderNumber:   entry.OrderNumber,
		LastCheckedAt: time.UnixMilli(entry.LastChecked).UTC(),
		HasChanges:    entry.HasChanges,
		Tagged:        entry.Tagged,
		Changes:       string(encoded),
	}
	if entry.Error != "" {
		errText := entry.Error
		row.Error = &errText
	}
	return row, nil
}
