package worker

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Run describes the most recent execution of a job.
type Run struct {
	Status     JobStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Scheduler runs a job every interval until its context ends. Ticks that
// arrive while the job is still running are dropped, so runs never overlap.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	clock    quartz.Clock
	logger   zerolog.Logger

	mu   sync.Mutex
	last Run
}

func NewScheduler(name string, interval time.Duration, job Job, clock quartz.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		clock:    clock,
		logger:   logger.With().Str("component", "worker").Str("job", name).Logger(),
		last:     Run{Status: JobStatusPending},
	}
}

// Start begins ticking. Job errors are recorded and logged but never stop
// the schedule; only ctx does.
func (s *Scheduler) Start(ctx context.Context) quartz.Waiter {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	return s.clock.TickerFunc(ctx, s.interval, func() error {
		s.runOnce(ctx)
		return nil
	}, "scheduler", s.name)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	started := s.clock.Now()
	s.setLast(Run{Status: JobStatusRunning, StartedAt: started})

	err := s.job(ctx)

	run := Run{Status: JobStatusDone, StartedAt: started, FinishedAt: s.clock.Now(), Err: err}
	if err != nil {
		run.Status = JobStatusFailed
		s.logger.Error().Err(err).Msg("scheduled job failed")
	}
	s.setLast(run)
}

func (s *Scheduler) setLast(r Run) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// Last returns the most recent run.
func (s *Scheduler) Last() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
