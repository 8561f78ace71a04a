package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/vnmchuo/review-digest/internal/provider"
)

var ErrNoBackend = errors.New("all generation backends unavailable")

// Backend pairs a provider with the model it should be asked for.
type Backend struct {
	Provider provider.Provider
	Model    string
}

// Router sends a completion to the first healthy backend in order, falling
// over to the next one when a call fails. Each backend has its own breaker.
type Router struct {
	backends []Backend
	breakers map[string]*gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

func NewRouter(backends []Backend, logger zerolog.Logger) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, b := range backends {
		name := b.Provider.Name()
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
			},
		}
		breakers[name] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		backends: backends,
		breakers: breakers,
		logger:   logger,
	}
}

// Candidates lists backends whose breaker is not open, in priority order.
func (r *Router) Candidates() []Backend {
	var out []Backend
	for _, b := range r.backends {
		if r.breakers[b.Provider.Name()].State() == gobreaker.StateOpen {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Complete fills req.Model from the chosen backend. A context error stops
// the fallover immediately.
func (r *Router) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	candidates := r.Candidates()
	if len(candidates) == 0 {
		return nil, ErrNoBackend
	}

	var errs []error
	for _, b := range candidates {
		req.Model = b.Model
		resp, err := r.execute(ctx, &req, b.Provider)
		if err == nil {
			if resp.Model == "" {
				resp.Model = b.Model
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn().Err(err).Str("provider", b.Provider.Name()).Msg("generation backend failed")
		errs = append(errs, fmt.Errorf("%s: %w", b.Provider.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

func (r *Router) execute(ctx context.Context, req *provider.Request, p provider.Provider) (*provider.Response, error) {
	cb := r.breakers[p.Name()]
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}
