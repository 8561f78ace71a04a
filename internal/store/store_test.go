package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type mockExecer struct {
	sql string
	err error
}

func (m *mockExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.sql = sql
	return pgconn.CommandTag{}, m.err
}

func TestSchema_DeclaresTables(t *testing.T) {
	for _, table := range []string{"usage_counters", "artifact_cache", "resources", "documents", "profiles", "generation_log"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Schema is missing table %s", table)
		}
	}
	if !strings.Contains(Schema, "PRIMARY KEY (actor_key, operation, period_key)") {
		t.Error("usage_counters must be unique per actor, operation and period")
	}
}

func TestMigrate(t *testing.T) {
	db := &mockExecer{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if db.sql != Schema {
		t.Error("Migrate should execute the embedded schema")
	}

	db.err = errors.New("permission denied")
	if err := Migrate(context.Background(), db); err == nil {
		t.Error("Expected error")
	}
}

func TestConnect_InvalidDSN(t *testing.T) {
	if _, err := Connect(context.Background(), "postgres://%zz"); err == nil {
		t.Error("Expected parse error")
	}
}
