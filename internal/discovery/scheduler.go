package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mileusna/crontab"
)

// DefaultSyncTimeout bounds one scheduled sync.
const DefaultSyncTimeout = 10 * time.Minute

// Syncer is the part of Engine the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error)
}

// Scheduler runs Sync on a cron schedule.
type Scheduler struct {
	syncer   Syncer
	schedule string
	opts     SyncOptions
	onStart  bool
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stopped bool
	runs    sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSyncOnStart runs one sync as soon as Run is called.
func WithSyncOnStart(on bool) SchedulerOption {
	return func(s *Scheduler) {
		s.onStart = on
	}
}

// WithSyncOptions sets the options of each scheduled run.
func WithSyncOptions(opts SyncOptions) SchedulerOption {
	return func(s *Scheduler) {
		s.opts = opts
	}
}

// WithSyncTimeout bounds each run.
func WithSyncTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler validates schedule (standard five-field cron syntax) and
// creates a scheduler. An empty schedule disables periodic runs. Nothing
// runs until Run is called.
func NewScheduler(syncer Syncer, schedule string, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		syncer:   syncer,
		schedule: schedule,
		timeout:  DefaultSyncTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if schedule != "" {
		// crontab only parses on AddJob, and its ticker starts in New.
		check := crontab.New()
		err := check.AddJob(schedule, func() {})
		check.Shutdown()
		if err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
		}
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx ends. In-flight syncs see
// ctx cancelled and Run waits for them before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	var ctab *crontab.Crontab
	if s.schedule != "" {
		ctab = crontab.New()
		if err := ctab.AddJob(s.schedule, func() { s.start(ctx) }); err != nil {
			ctab.Shutdown()
			return fmt.Errorf("invalid sync schedule %q: %w", s.schedule, err)
		}
		s.logger.Info("model sync scheduled", slog.String("schedule", s.schedule))
	}
	if s.onStart {
		go s.start(ctx)
	}

	<-ctx.Done()
	if ctab != nil {
		ctab.Shutdown()
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.runs.Wait()
	return nil
}

// start runs one sync unless Run is already shutting down.
func (s *Scheduler) start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.syncer.Sync(ctx, s.opts)
	if errors.Is(err, ErrSyncInProgress) {
		s.logger.Info("scheduled sync skipped, previous run still in progress")
		return
	}
	if err != nil {
		s.logger.Error("scheduled sync failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled sync complete",
		slog.Int("providers", len(report.Providers)),
		slog.Duration("duration", report.Duration))
}
