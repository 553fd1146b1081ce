package migrate_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/migrate"
)

func TestOutboxMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_outbox_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no outbox migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CHECK (status IN ('pending', 'failed', 'dead', 'acked'))",
		"ux_outbox_events_company_idempotency",
		"ON outbox_events (company_key, idempotency_key)",
		"DROP TABLE IF EXISTS outbox_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDir(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunUpOnSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := migrate.Run(context.Background(), db, "sqlite", "", "up"); err != nil {
		t.Fatalf("goose up: %v", err)
	}

	for _, table := range []string{"outbox_events", "outbox_dlq", "outbox_receipts", "cart_drafts"} {
		var name string
		row := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table)
		if err := row.Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var digest string
	if err := db.QueryRow("SELECT name FROM pragma_table_info('outbox_events') WHERE name = 'payload_digest'").Scan(&digest); err != nil {
		t.Fatalf("payload_digest column missing: %v", err)
	}

	files, err := migrate.EmbeddedFiles()
	if err != nil || len(files) != 5 {
		t.Fatalf("expected 5 embedded migrations, got %v err=%v", files, err)
	}
}

func TestDialect(t *testing.T) {
	if d, _ := migrate.Dialect("postgres"); d != "postgres" {
		t.Fatalf("unexpected dialect %s", d)
	}
	if d, _ := migrate.Dialect("sqlite"); d != "sqlite3" {
		t.Fatalf("unexpected dialect %s", d)
	}
	if _, err := migrate.Dialect("oracle"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)

	path, err := migrate.CreateSQLMigration(dir, "Add Shift Totals!", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260305103000_add_shift_totals.sql" {
		t.Fatalf("unexpected file %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "add shift totals", now); err == nil {
		t.Fatal("expected duplicate file error")
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestValidateDirRejectsUnbalancedBlocks(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20260305103000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil || !strings.Contains(err.Error(), "unbalanced") {
		t.Fatalf("expected unbalanced error, got %v", err)
	}
}

func TestShouldAutoRun(t *testing.T) {
	cases := []struct {
		name   string
		driver string
		env    string
		flag   bool
		want   bool
	}{
		{name: "flag off", driver: config.DriverSQLite, env: config.AppEnvProd, flag: false, want: false},
		{name: "sqlite prod", driver: config.DriverSQLite, env: config.AppEnvProd, flag: true, want: true},
		{name: "postgres dev", driver: config.DriverPostgres, env: config.AppEnvDev, flag: true, want: true},
		{name: "postgres prod", driver: config.DriverPostgres, env: config.AppEnvProd, flag: true, want: false},
	}
	for _, tc := range cases {
		cfg := &config.Config{}
		cfg.DB.Driver = tc.driver
		cfg.App.Env = tc.env
		cfg.FeatureFlags.AutoMigrate = tc.flag
		got, reason := migrate.ShouldAutoRun(cfg)
		if got != tc.want {
			t.Fatalf("%s: expected %v got %v (%s)", tc.name, tc.want, got, reason)
		}
		if reason == "" {
			t.Fatalf("%s: expected a reason", tc.name)
		}
	}
}
