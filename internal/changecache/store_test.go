package changecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/angelmondragon/opsconsole/internal/reconcile"
	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/db/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func sampleEntries() map[string]Entry {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	return map[string]Entry{
		"1001": {LastChecked: checked, OrderNumber: "5001"},
		"1002": {
			LastChecked: checked,
			HasChanges:  true,
			OrderNumber: "5002",
			Changes: []reconcile.ItemDiffEntry{
				{Kind: reconcile.KindQuantityChanged, SKU: "WDG-100", Name: "Widget", CommerceQuantity: 3, FulfillmentQuantity: 5, Difference: 2, Direction: reconcile.DirectionIncreased},
			},
		},
		"1003": {LastChecked: checked, OrderNumber: "5003", Error: ErrorNoMatchingOrder},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	empty, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.SaveAll(ctx, sampleEntries()))
	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries(), loaded)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files should be renamed away")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileStoreEmptyFileIsEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	entries, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore(" ")
	assert.Error(t, err)
}

type fakeKV struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = value.(string)
	f.ttl = ttl
	return nil
}

func (f *fakeKV) ChangeCacheKey(scope string) string { return "oc:change_cache:" + scope }

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store, err := NewRedisStore(kv)
	require.NoError(t, err)

	empty, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.SaveAll(ctx, sampleEntries()))
	assert.Contains(t, kv.data, "oc:change_cache:orders")
	assert.Equal(t, RetentionWindow, kv.ttl)

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries(), loaded)
}

func TestRedisStoreCorruptAndUnavailable(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	kv.data["oc:change_cache:orders"] = "[]garbage"
	store, err := NewRedisStore(kv)
	require.NoError(t, err)

	_, err = store.LoadAll(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	kv.getErr = errors.New("connection refused")
	_, err = store.LoadAll(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:changecache_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChangeCacheEntry{}))
	return db
}

func TestDBStoreReplacesAllRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store, err := NewDBStore(db)
	require.NoError(t, err)

	require.NoError(t, store.SaveAll(ctx, sampleEntries()))
	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries(), loaded)

	only := map[string]Entry{"1002": sampleEntries()["1002"]}
	require.NoError(t, store.SaveAll(ctx, only))

	var count int64
	require.NoError(t, db.Model(&models.ChangeCacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.SaveAll(ctx, nil))
	require.NoError(t, db.Model(&models.ChangeCacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDBStoreCorruptChanges(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.ChangeCacheEntry{
		OrderID:       "1",
		LastCheckedAt: time.Now().UTC(),
		Changes:       "{broken",
	}).Error)

	store, err := NewDBStore(db)
	require.NoError(t, err)
	_, err = store.LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	fileStore, err := NewStore(config.CacheConfig{Backend: config.CacheBackendFile, FilePath: filepath.Join(t.TempDir(), "c.json")}, Backends{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fileStore)

	redisStore, err := NewStore(config.CacheConfig{Backend: config.CacheBackendRedis}, Backends{Redis: newFakeKV()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, redisStore)

	dbStore, err := NewStore(config.CacheConfig{Backend: config.CacheBackendDB}, Backends{DB: newTestDB(t)})
	require.NoError(t, err)
	assert.IsType(t, &DBStore{}, dbStore)

	_, err = NewStore(config.CacheConfig{Backend: config.CacheBackendRedis}, Backends{})
	assert.Error(t, err)
	_, err = NewStore(config.CacheConfig{Backend: "etcd"}, Backends{})
	assert.Error(t, err)
}
