// Package scheduler runs the periodic notification passes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs named jobs on cron specifications in a fixed timezone.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// New creates a scheduler evaluating specs in timezone.
func New(timezone string, logger *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	logger = logger.Named("scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		location: loc,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}, nil
}

// Add schedules fn under name, replacing any job of the same name.
// spec is a standard five field cron expression.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("Running job", zap.String("job", name))
		fn()
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id

	s.logger.Info("Scheduled job",
		zap.String("job", name),
		zap.String("spec", spec),
		zap.Time("next", s.cron.Entry(id).Next))
	return nil
}

// Next returns when the named job runs next. ok is false for unknown
// jobs and before the scheduler is started.
func (s *Scheduler) Next(name string) (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, found := s.entries[name]
	if !found {
		return time.Time{}, false
	}
	next = s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
