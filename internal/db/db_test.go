package db

import (
	"context"
	"strings"
	"testing"
)

func TestDSNCarriesPragmas(t *testing.T) {
	got := dsn("/tmp/x.sqlite3")
	for _, want := range []string{"busy_timeout%285000%29", "foreign_keys%281%29", "_txlock=immediate"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q missing %q", got, want)
		}
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	var fk int
	if err := database.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}
}

func TestEnsureSchemaAppliesMigrations(t *testing.T) {
	database := NewTestDB(t)

	var name string
	err := database.QueryRowContext(context.Background(),
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_claims_tip_checkout_id'`,
	).Scan(&name)
	if err != nil {
		t.Fatalf("expected checkout id index from migrations: %v", err)
	}
}
