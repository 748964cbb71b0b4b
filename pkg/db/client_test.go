package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/opsconsole/pkg/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    "file::memory:",
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: "mysql", DSN: "x"}, nil); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite}, nil); err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "change_cache_entries_pkey"`)
	if !IsUniqueViolation(err, "") {
		t.Fatal("expected generic duplicate detection")
	}
	if !IsUniqueViolation(err, "change_cache_entries_pkey") {
		t.Fatal("expected constraint match")
	}
	if IsUniqueViolation(err, "variants_pkey") {
		t.Fatal("did not expect other constraint to match")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil is never a violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: variants.sku"), "variants.sku") {
		t.Fatal("expected sqlite unique failure to match")
	}
	if !IsUniqueViolation(fmt.Errorf("update: %w", gorm.ErrDuplicatedKey), "") {
		t.Fatal("expected translated gorm error to match")
	}
	if IsUniqueViolation(errors.New("variants_pkey missing"), "variants_pkey") {
		t.Fatal("constraint name alone is not a violation")
	}
}
