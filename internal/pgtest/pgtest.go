// Package pgtest provides in-memory stand-ins for the pgx values the
// Postgres stores read and write, so store tests run without a database.
package pgtest

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call is one statement seen by a DB or Tx.
type Call struct {
	SQL  string
	Args []any
}

// Row scans Values into the destinations, or fails with Err.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(dest, r.Values)
}

// Rows iterates Data. Methods the stores never call are left to the
// embedded nil interface and panic if reached.
type Rows struct {
	pgx.Rows
	Data    [][]any
	ScanErr error
	IterErr error
	Closed  bool
	pos     int
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	return assign(dest, r.Data[r.pos-1])
}

func (r *Rows) Err() error { return r.IterErr }

func (r *Rows) Close() { r.Closed = true }

// DB answers each method through its func field and records every call.
type DB struct {
	QueryFunc    func(sql string, args []any) (pgx.Rows, error)
	QueryRowFunc func(sql string, args []any) pgx.Row
	ExecFunc     func(sql string, args []any) (pgconn.CommandTag, error)
	BeginFunc    func() (pgx.Tx, error)
	Calls        []Call
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.Calls = append(d.Calls, Call{SQL: sql, Args: args})
	return d.QueryFunc(sql, args)
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.Calls = append(d.Calls, Call{SQL: sql, Args: args})
	return d.QueryRowFunc(sql, args)
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.Calls = append(d.Calls, Call{SQL: sql, Args: args})
	return d.ExecFunc(sql, args)
}

func (d *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return d.BeginFunc()
}

// Tx is a transaction double. Rollback after Commit is a no-op, as in pgx.
type Tx struct {
	pgx.Tx
	QueryRowFunc func(sql string, args []any) pgx.Row
	ExecFunc     func(sql string, args []any) (pgconn.CommandTag, error)
	CommitErr    error
	Committed    bool
	RolledBack   bool
	Calls        []Call
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.Calls = append(t.Calls, Call{SQL: sql, Args: args})
	return t.QueryRowFunc(sql, args)
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.Calls = append(t.Calls, Call{SQL: sql, Args: args})
	return t.ExecFunc(sql, args)
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

// Tag builds a command tag such as "INSERT 0 1".
func Tag(s string) pgconn.CommandTag {
	return pgconn.NewCommandTag(s)
}

// assign copies vals into the pointers in dest. A nil value zeroes the
// target, which leaves nullable pointer targets nil.
func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("pgtest: %d values for %d destinations", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("pgtest: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()):
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v)
			target.Set(p)
		default:
			return fmt.Errorf("pgtest: cannot scan %T into %s", vals[i], target.Type())
		}
	}
	return nil
}
