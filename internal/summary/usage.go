package summary

import (
	"context"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/quota"
)

type OperationUsage struct {
	Used      int64
	Limit     int64
	Remaining int64
}

// Usage is today's counters measured against the actor's current policy.
type Usage struct {
	Day          string
	Plan         string
	PerOperation map[quota.Operation]OperationUsage
}

// GetUsage is read-only. Anonymous actors get KindSignInRequired.
func (s *Service) GetUsage(ctx context.Context, a actor.Actor) (*Usage, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "summary.GetUsage")
	defer span.End()

	if !a.IsIdentified() {
		return nil, newError(KindSignInRequired, nil)
	}

	policy := s.deps.Policies.PolicyFor(ctx, a)
	used, err := s.deps.Ledger.UsageToday(ctx, a.Key(), quota.Operations)
	if err != nil {
		span.RecordError(err)
		return nil, newError(KindStoreUnavailable, err)
	}

	u := &Usage{
		Day:          s.deps.Ledger.Today(),
		Plan:         policy.Plan,
		PerOperation: make(map[quota.Operation]OperationUsage, len(quota.Operations)),
	}
	for _, op := range quota.Operations {
		limit := policy.Ceiling(op)
		remaining := limit - used[op]
		if remaining < 0 {
			remaining = 0
		}
		u.PerOperation[op] = OperationUsage{Used: used[op], Limit: limit, Remaining: remaining}
	}
	return u, nil
}
