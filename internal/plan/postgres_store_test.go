package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/vnmchuo/review-digest/internal/pgtest"
	"github.com/vnmchuo/review-digest/internal/quota"
)

func TestPostgresStore_GetProfileOverrides(t *testing.T) {
	db := &pgtest.DB{QueryRowFunc: func(sql string, args []any) pgx.Row {
		return pgtest.Row{Values: []any{"u1", Pro, int64(7), nil, int64(0)}}
	}}

	p, err := NewPostgresStore(db).GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.UserID != "u1" || p.Plan != Pro {
		t.Errorf("Unexpected profile %+v", p)
	}
	if n, ok := p.Overrides[quota.OpAnalyze]; !ok || n != 7 {
		t.Errorf("Expected analyze override 7, got %v", p.Overrides)
	}
	if _, ok := p.Overrides[quota.OpReviews]; ok {
		t.Error("NULL column must not produce an override")
	}
	if n, ok := p.Overrides[quota.OpImport]; !ok || n != 0 {
		t.Errorf("Explicit zero must be kept as an override, got %v", p.Overrides)
	}
}

func TestPostgresStore_GetProfileNoOverrides(t *testing.T) {
	db := &pgtest.DB{QueryRowFunc: func(sql string, args []any) pgx.Row {
		return pgtest.Row{Values: []any{"u2", Free, nil, nil, nil}}
	}}

	p, err := NewPostgresStore(db).GetProfile(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if len(p.Overrides) != 0 {
		t.Errorf("Expected no overrides, got %v", p.Overrides)
	}
}

func TestPostgresStore_GetProfileErrors(t *testing.T) {
	db := &pgtest.DB{QueryRowFunc: func(sql string, args []any) pgx.Row {
		return pgtest.Row{Err: pgx.ErrNoRows}
	}}
	if _, err := NewPostgresStore(db).GetProfile(context.Background(), "nobody"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound, got %v", err)
	}

	boom := errors.New("conn refused")
	db = &pgtest.DB{QueryRowFunc: func(sql string, args []any) pgx.Row {
		return pgtest.Row{Err: boom}
	}}
	_, err := NewPostgresStore(db).GetProfile(context.Background(), "u1")
	if !errors.Is(err, boom) || errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Expected wrapped query error, got %v", err)
	}
}
