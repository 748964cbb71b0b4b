package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/migrate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestVariantsMigrationKeepsDuplicatesLoadable(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_variants.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no variants migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS variants",
		"CREATE INDEX IF NOT EXISTS idx_variants_active_pick_number",
		"DROP TABLE IF EXISTS variants",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
	if strings.Contains(content, "UNIQUE INDEX") {
		t.Error("pick numbers must not be unique at the database level")
	}
}

func TestRunUpOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migrate_up?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	if err := migrate.Run(ctx, sqlDB, migrate.Dialect(config.DriverSQLite), "migrations", "up"); err != nil {
		t.Fatalf("goose up: %v", err)
	}

	for _, table := range []string{"variants", "change_cache_entries"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}
}

func TestRunRequiresDB(t *testing.T) {
	if err := migrate.Run(context.Background(), nil, "postgres", "migrations", "up"); err == nil {
		t.Fatal("expected error without db")
	}
}

func TestDialect(t *testing.T) {
	if got := migrate.Dialect(config.DriverSQLite); got != "sqlite3" {
		t.Fatalf("expected sqlite3, got %s", got)
	}
	if got := migrate.Dialect(config.DriverPostgres); got != "postgres" {
		t.Fatalf("expected postgres, got %s", got)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Pick Audit!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_pick_audit.sql") {
		t.Fatalf("unexpected migration path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}
