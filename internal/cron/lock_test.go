package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryRedis struct {
	values map[string]string
	getErr error
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockAcquireRelease(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	first, err := NewRedisLock(store, "oc:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "oc:lock:cron", time.Minute)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second replica must not acquire a held lock")
	}
	// A non-owner release leaves the lock in place.
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, ok := store.values["oc:lock:cron"]; !ok {
		t.Fatal("lock deleted by non-owner")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, ok := store.values["oc:lock:cron"]; ok {
		t.Fatal("owner release should delete the key")
	}
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	lock, _ := NewRedisLock(store, "k", 0)
	ctx := context.Background()
	_, _ = lock.Acquire(ctx)
	delete(store.values, "k")
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release after expiry: %v", err)
	}

	store.getErr = errors.New("boom")
	_, _ = lock.Acquire(ctx)
	if err := lock.Release(ctx); err == nil {
		t.Fatal("expected read error")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected client error")
	}
	if _, err := NewRedisLock(&memoryRedis{}, "", 0); err == nil {
		t.Fatal("expected key error")
	}
}
