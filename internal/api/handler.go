package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/review-digest/config"
	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/summary"
	"github.com/vnmchuo/review-digest/internal/worker"
)

type Summaries interface {
	GetArtifact(ctx context.Context, resourceID string, a actor.Actor, force bool) (*summary.Result, error)
	GetUsage(ctx context.Context, a actor.Actor) (*summary.Usage, error)
}

type Sweeper interface {
	Run(ctx context.Context, batchSize int) ([]string, error)
}

// SweepStatus reports the most recent scheduled sweep.
type SweepStatus interface {
	Last() worker.Run
}

type Handler struct {
	summaries  Summaries
	sweeper    Sweeper
	schedule   SweepStatus
	cronSecret string
	batchSize  int
	tracer     trace.Tracer
	logger     zerolog.Logger
}

func NewHandler(summaries Summaries, sweeper Sweeper, cronSecret string, batchSize int, tracer trace.Tracer, logger zerolog.Logger) *Handler {
	return &Handler{
		summaries:  summaries,
		sweeper:    sweeper,
		cronSecret: cronSecret,
		batchSize:  config.ClampBatchSize(batchSize),
		tracer:     tracer,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetSweepStatus exposes the timer-driven sweep on /internal/sweep/status.
// Without it the endpoint reports the sweep as unscheduled.
func (h *Handler) SetSweepStatus(s SweepStatus) {
	h.schedule = s
}

// HandleArtifact serves GET (cached when fresh) and POST (forced refresh).
// GET also accepts ?force=1.
func (h *Handler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceID := chi.URLParam(r, "resourceID")
	force := r.Method == http.MethodPost || isTruthy(r.URL.Query().Get("force"))
	a := actor.FromContext(ctx)

	ctx, span := h.tracer.Start(ctx, "api.artifact")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", actor.GetRequestID(ctx)),
		attribute.String("actor", a.Key()),
	)

	res, err := h.summaries.GetArtifact(ctx, resourceID, a, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":        res.Body,
		"cached":      res.ServedFromCache,
		"computed_at": res.ComputedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := h.summaries.GetUsage(ctx, actor.FromContext(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	perOp := make(map[string]interface{}, len(u.PerOperation))
	for op, usage := range u.PerOperation {
		perOp[string(op)] = map[string]int64{
			"used":      usage.Used,
			"limit":     usage.Limit,
			"remaining": usage.Remaining,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":           u.Day,
		"plan":          u.Plan,
		"per_operation": perOp,
	})
}

// HandleSweep is guarded by a shared secret. An empty configured secret
// rejects every call.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	batch := h.batchSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		batch = config.ClampBatchSize(n)
	}

	processed, err := h.sweeper.Run(r.Context(), batch)
	if err != nil {
		h.logger.Error().Err(err).Msg("sweep aborted")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "sweep aborted",
			"kind":  string(summary.KindStoreUnavailable),
		})
		return
	}
	if processed == nil {
		processed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"processed": processed})
}

// HandleSweepStatus reports the last scheduled sweep run. It shares the
// sweep endpoint's secret.
func (h *Handler) HandleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if h.schedule == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"scheduled": false})
		return
	}

	run := h.schedule.Last()
	body := map[string]interface{}{
		"scheduled": true,
		"status":    run.Status,
	}
	if !run.StartedAt.IsZero() {
		body["started_at"] = run.StartedAt.UTC().Format(time.RFC3339)
	}
	if !run.FinishedAt.IsZero() {
		body["finished_at"] = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	if run.Err != nil {
		body["error"] = run.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) authorized(r *http.Request) bool {
	given := r.Header.Get("X-Cron-Secret")
	return h.cronSecret != "" && subtle.ConstantTimeCompare([]byte(given), []byte(h.cronSecret)) == 1
}

var kindStatus = map[summary.Kind]int{
	summary.KindInvalidInput:     http.StatusBadRequest,
	summary.KindSignInRequired:   http.StatusUnauthorized,
	summary.KindQuotaExceeded:    http.StatusTooManyRequests,
	summary.KindNoInputData:      http.StatusNotFound,
	summary.KindGenerationFailed: http.StatusBadGateway,
	summary.KindStoreUnavailable: http.StatusServiceUnavailable,
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *summary.Error
	if !errors.As(err, &e) {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unclassified error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status, ok := kindStatus[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", actor.GetRequestID(r.Context())).Msg("request failed")
	}

	body := map[string]interface{}{
		"error": e.Message(),
		"kind":  e.Kind,
	}
	if e.Kind == summary.KindQuotaExceeded || e.Kind == summary.KindSignInRequired {
		body["remaining"] = e.Remaining
		if e.Plan != "" {
			body["plan"] = e.Plan
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isTruthy(s string) bool {
	switch s {
	case "1", "true", "yes":
		return true
	}
	return false
}
