package seeder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type mockDB struct {
	statements []string
	args       [][]any
	failOn     string
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.failOn != "" && strings.Contains(sql, m.failOn) {
		return pgconn.CommandTag{}, errors.New("insert failed")
	}
	m.statements = append(m.statements, sql)
	m.args = append(m.args, args)
	return pgconn.CommandTag{}, nil
}

type mockIssuer struct {
	userID string
}

func (m *mockIssuer) Issue(userID string, now time.Time, ttl time.Duration) (string, error) {
	m.userID = userID
	return "token", nil
}

func TestSeed(t *testing.T) {
	db := &mockDB{}
	issuer := &mockIssuer{}
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	if err := Seed(context.Background(), db, issuer, now, zerolog.Nop()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	// 1 profile + 2 resources + 5 documents
	if len(db.statements) != 8 {
		t.Errorf("Expected 8 statements, got %d", len(db.statements))
	}
	for _, s := range db.statements {
		if !strings.Contains(s, "ON CONFLICT") {
			t.Errorf("Seed statements must be idempotent: %s", s)
		}
	}
	if db.args[0][1] != DemoPlan {
		t.Errorf("Expected demo plan %s, got %v", DemoPlan, db.args[0][1])
	}
	if issuer.userID != DemoUserID {
		t.Errorf("Expected token for %s, got %q", DemoUserID, issuer.userID)
	}
}

func TestSeed_Error(t *testing.T) {
	db := &mockDB{failOn: "INSERT INTO documents"}
	if err := Seed(context.Background(), db, nil, time.Now(), zerolog.Nop()); err == nil {
		t.Error("Expected error")
	}
}
