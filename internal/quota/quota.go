package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrStoreUnavailable = errors.New("usage store unavailable")

// Operation is a metered action.
type Operation string

const (
	OpAnalyze Operation = "analyze"
	OpReviews Operation = "reviews"
	OpImport  Operation = "import"
)

// Operations lists every metered operation in display order.
var Operations = []Operation{OpAnalyze, OpReviews, OpImport}

// Window is the admission granularity of a counter. Storage is always per
// UTC day; a monthly window sums the month-to-date days before deciding.
type Window int

const (
	Daily Window = iota
	Monthly
)

func (w Window) String() string {
	if w == Monthly {
		return "monthly"
	}
	return "daily"
}

const DayLayout = "2006-01-02"

// Period is the slice of daily rows a decision looks at. Day is the row that
// gets incremented; From and To bound the admission sum (inclusive).
type Period struct {
	Window Window
	Day    string
	From   string
	To     string
}

// PeriodFor resolves the current period in UTC.
func PeriodFor(w Window, now time.Time) Period {
	now = now.UTC()
	day := now.Format(DayLayout)
	if w == Monthly {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Window: Monthly, Day: day, From: start.Format(DayLayout), To: day}
	}
	return Period{Window: Daily, Day: day, From: day, To: day}
}

// Key identifies the period for logs and responses.
func (p Period) Key() string {
	if p.Window == Monthly {
		return p.From[:7]
	}
	return p.Day
}

// Days enumerates every day from From to To. The current day is last.
func (p Period) Days() []string {
	from, err := time.Parse(DayLayout, p.From)
	if err != nil {
		return []string{p.Day}
	}
	to, err := time.Parse(DayLayout, p.To)
	if err != nil {
		return []string{p.Day}
	}
	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayLayout))
	}
	return days
}

// Decision is what a store reports for one consume attempt. Used is the
// count after the increment when allowed, or the unchanged count otherwise.
type Decision struct {
	Allowed bool
	Used    int64
}

// Store persists daily usage counters. Consume must be atomic per
// (actorKey, operation, period): concurrent callers can never push the
// summed count past the ceiling.
type Store interface {
	Consume(ctx context.Context, actorKey string, op Operation, p Period, ceiling int64) (Decision, error)
	Used(ctx context.Context, actorKey string, op Operation, p Period) (int64, error)
}

type Result struct {
	Allowed   bool
	Used      int64
	Remaining int64
	Limit     int64
	Period    Period
}

type Ledger struct {
	store  Store
	clock  quartz.Clock
	tracer trace.Tracer
}

func NewLedger(store Store, clock quartz.Clock, tracer trace.Tracer) *Ledger {
	return &Ledger{store: store, clock: clock, tracer: tracer}
}

// CheckAndConsume admits one use of op when the ceiling allows it. Store
// failures are returned wrapped in ErrStoreUnavailable with Allowed=false.
// Used is left at zero when the ceiling is zero.
func (l *Ledger) CheckAndConsume(ctx context.Context, actorKey string, op Operation, window Window, ceiling int64) (Result, error) {
	period := PeriodFor(window, l.clock.Now())

	ctx, span := l.tracer.Start(ctx, "quota.check_and_consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor_key", actorKey),
		attribute.String("operation", string(op)),
		attribute.String("period", period.Key()),
		attribute.Int64("ceiling", ceiling),
	)

	res := Result{Limit: ceiling, Period: period}

	// A zero ceiling denies without consulting the store.
	if ceiling <= 0 {
		span.SetAttributes(attribute.Bool("allowed", false))
		return res, nil
	}

	d, err := l.store.Consume(ctx, actorKey, op, period, ceiling)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	res.Allowed = d.Allowed
	res.Used = d.Used
	res.Remaining = remaining(ceiling, d.Used)
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.Int64("used", d.Used))
	return res, nil
}

// UsageToday sums today's rows per operation. Monthly admission does not
// apply here: this is a per-day snapshot.
func (l *Ledger) UsageToday(ctx context.Context, actorKey string, ops []Operation) (map[Operation]int64, error) {
	period := PeriodFor(Daily, l.clock.Now())
	usage := make(map[Operation]int64, len(ops))
	for _, op := range ops {
		used, err := l.store.Used(ctx, actorKey, op, period)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		usage[op] = used
	}
	return usage, nil
}

// Today returns the current UTC day key.
func (l *Ledger) Today() string {
	return l.clock.Now().UTC().Format(DayLayout)
}

func remaining(ceiling, used int64) int64 {
	if r := ceiling - used; r > 0 {
		return r
	}
	return 0
}
