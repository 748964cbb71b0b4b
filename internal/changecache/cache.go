// Package changecache remembers the last change-detection verdict per
// fulfillment order so settled orders are not re-checked on every run.
package changecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/opsconsole/internal/reconcile"
)

const (
	// FreshnessWindow is how long a settled verdict suppresses a re-check.
	FreshnessWindow = 6 * time.Hour
	// RetentionWindow bounds how long any verdict is kept.
	RetentionWindow = 7 * 24 * time.Hour

	ErrorNoMatchingOrder = "no matching order found"
)

// ErrCorrupt marks persisted cache data that cannot be read back.
var ErrCorrupt = errors.New("change cache corrupt")

// Entry is the cached verdict for one fulfillment order.
type Entry struct {
	LastChecked int64                     `json:"lastChecked"`
	HasChanges  bool                      `json:"hasChanges"`
	Changes     []reconcile.ItemDiffEntry `json:"changes"`
	OrderNumber string                    `json:"orderNumber"`
	Tagged      bool                      `json:"tagged"`
	Error       string                    `json:"error,omitempty"`
}

// CheckedAt returns LastChecked as a time.
func (e Entry) CheckedAt() time.Time {
	return time.UnixMilli(e.LastChecked)
}

// Cache is the in-process view used by a change-detection run.
type Cache interface {
	Get(orderID string) (Entry, bool)
	Put(orderID string, entry Entry)
	EvictOlderThan(window time.Duration, now time.Time) int
	Len() int
}

// Store persists the whole cache at once.
type Store interface {
	LoadAll(ctx context.Context) (map[string]Entry, error)
	SaveAll(ctx context.Context, entries map[string]Entry) error
}

// ShouldSkip reports whether a cached verdict still settles the order.
// Unresolved changes that were never tagged are always re-checked.
func ShouldSkip(entry *Entry, now time.Time, freshness time.Duration) bool {
	if entry == nil {
		return false
	}
	if now.Sub(entry.CheckedAt()) >= freshness {
		return false
	}
	return !entry.HasChanges || entry.Tagged
}

// MemoryCache is a mutex-guarded map implementation of Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache copies entries into a new cache.
func NewMemoryCache(entries map[string]Entry) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]Entry, len(entries))}
	for id, entry := range entries {
		c.entries[id] = entry
	}
	return c
}

func (c *MemoryCache) Get(orderID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[orderID]
	return entry, ok
}

func (c *MemoryCache) Put(orderID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = entry
}

// EvictOlderThan drops entries last checked before now-window and returns how many were removed.
func (c *MemoryCache) EvictOlderThan(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window).UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if entry.LastChecked < cutoff {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of every entry, suitable for Store.SaveAll.
func (c *MemoryCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for id, entry := range c.entries {
		out[id] = entry
	}
	return out
}
