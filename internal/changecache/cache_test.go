package changecache

import (
	"testing"
	"time"

	"github.com/angelmondragon/opsconsole/internal/reconcile"
)

func TestShouldSkipSettledEntryUntilFreshnessLapses(t *testing.T) {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(nil)
	cache.Put("1001", Entry{LastChecked: checked.UnixMilli(), OrderNumber: "5001"})

	entry, ok := cache.Get("1001")
	if !ok {
		t.Fatal("expected cached entry")
	}
	now := checked.Add(time.Minute)
	if !ShouldSkip(&entry, now, FreshnessWindow) {
		t.Fatal("expected skip on first check")
	}
	if !ShouldSkip(&entry, now, FreshnessWindow) {
		t.Fatal("expected skip on immediate second check")
	}
	if ShouldSkip(&entry, checked.Add(FreshnessWindow), FreshnessWindow) {
		t.Fatal("expected re-check once freshness window elapsed")
	}
}

func TestShouldSkipRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour).UnixMilli()
	cases := []struct {
		name  string
		entry *Entry
		want  bool
	}{
		{name: "missing", entry: nil, want: false},
		{name: "no changes", entry: &Entry{LastChecked: fresh}, want: true},
		{name: "changes tagged", entry: &Entry{LastChecked: fresh, HasChanges: true, Tagged: true}, want: true},
		{name: "changes untagged", entry: &Entry{LastChecked: fresh, HasChanges: true}, want: false},
		{name: "no match marker", entry: &Entry{LastChecked: fresh, Error: ErrorNoMatchingOrder}, want: true},
		{name: "stale", entry: &Entry{LastChecked: now.Add(-7 * time.Hour).UnixMilli()}, want: false},
	}
	for _, tc := range cases {
		if got := ShouldSkip(tc.entry, now, FreshnessWindow); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestEvictOlderThan(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(map[string]Entry{
		"old":    {LastChecked: now.Add(-8 * 24 * time.Hour).UnixMilli()},
		"edge":   {LastChecked: now.Add(-RetentionWindow).UnixMilli()},
		"recent": {LastChecked: now.Add(-time.Hour).UnixMilli()},
	})

	removed := cache.EvictOlderThan(RetentionWindow, now)
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok := cache.Get("old"); ok {
		t.Fatal("expected old entry evicted")
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", cache.Len())
	}
	if _, ok := cache.Get("edge"); !ok {
		t.Fatal("entry exactly at the retention edge must be kept")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	cache := NewMemoryCache(map[string]Entry{"1": {OrderNumber: "A"}})
	snap := cache.Snapshot()
	snap["2"] = Entry{}
	if cache.Len() != 1 {
		t.Fatal("snapshot mutation leaked into cache")
	}

	src := map[string]Entry{"1": {OrderNumber: "A", Changes: []reconcile.ItemDiffEntry{{Kind: reconcile.KindAdded, SKU: "X"}}}}
	c2 := NewMemoryCache(src)
	delete(src, "1")
	if c2.Len() != 1 {
		t.Fatal("constructor should copy the input map")
	}
}
