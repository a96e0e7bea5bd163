// Package scheduler drives recurring insertion runs from cron expressions
// stored as ScheduledRun records.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// Runner is the interface the scheduler uses to launch insertion runs.
// Satisfied by the insertion Service (avoids an import cycle).
type Runner interface {
	Run(ctx context.Context, req *schema.InsertionRequest) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, req *schema.InsertionRequest) error

func (f RunnerFunc) Run(ctx context.Context, req *schema.InsertionRequest) error {
	return f(ctx, req)
}

// Scheduler polls the store for due scheduled runs and launches them.
type Scheduler struct {
	store  store.Store
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // scheduled-run IDs currently executing (dedup)
}

// TickInterval is how often the scheduler checks for due runs.
const TickInterval = 60 * time.Second

// New creates a Scheduler.
func New(s store.Store, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background loop. It ticks immediately, then every
// TickInterval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches every enabled scheduled run whose next_run_at has passed.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			if !s.tryAcquire(job.ID) {
				continue // previous launch still running
			}
			if err := s.launch(ctx, job, now); err != nil {
				s.logger.Error("scheduled run failed",
					slog.String("scheduled_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(job.ID)
		}
	}
}

// launch runs one scheduled insertion and advances its timestamps.
func (s *Scheduler) launch(ctx context.Context, job *store.ScheduledRun, now time.Time) error {
	s.logger.Info("launching scheduled run",
		slog.String("scheduled_id", job.ID),
		slog.String("name", job.Name),
	)

	runErr := s.runner.Run(ctx, &job.Request)
	if runErr != nil {
		s.logger.Error("scheduled run execution failed",
			slog.String("scheduled_id", job.ID),
			slog.String("error", runErr.Error()),
		)
	}

	nextRun, err := s.NextRun(job.CronSpec, now)
	if err != nil {
		return fmt.Errorf("calculate next run for %q: %w", job.ID, err)
	}
	if err := s.store.UpdateScheduledRun(ctx, job.ID, store.ScheduledRunUpdate{
		LastRunAt: &now,
		NextRunAt: &nextRun,
	}); err != nil {
		return fmt.Errorf("update scheduled run %q: %w", job.ID, err)
	}
	return runErr
}

// tryAcquire marks a scheduled run in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronSpec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronSpec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronSpec, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
