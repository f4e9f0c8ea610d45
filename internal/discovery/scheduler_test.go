package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSyncer struct {
	calls chan SyncOptions
	err   error
}

func (s *countingSyncer) Sync(_ context.Context, opts SyncOptions) (*SyncReport, error) {
	s.calls <- opts
	if s.err != nil {
		return nil, s.err
	}
	return &SyncReport{}, nil
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	if _, err := NewScheduler(&countingSyncer{}, "every tuesday"); err == nil {
		t.Fatal("NewScheduler() accepted an invalid schedule")
	}
}

func TestScheduler_SyncOnStart(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "success"},
		{name: "overlapping run", err: ErrSyncInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &countingSyncer{calls: make(chan SyncOptions, 1), err: tt.err}
			s, err := NewScheduler(syncer, "0 */6 * * *",
				WithSyncOnStart(true),
				WithSyncOptions(SyncOptions{Benchmark: true}),
				WithSyncTimeout(time.Second))
			if err != nil {
				t.Fatalf("NewScheduler() error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- s.Run(ctx) }()

			select {
			case opts := <-syncer.calls:
				if !opts.Benchmark {
					t.Errorf("SyncOptions = %+v, want Benchmark", opts)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("sync on start did not run")
			}

			cancel()
			if err := <-done; err != nil {
				t.Errorf("Run() error = %v", err)
			}
		})
	}
}

func TestScheduler_Disabled(t *testing.T) {
	syncer := &countingSyncer{calls: make(chan SyncOptions, 1)}
	s, err := NewScheduler(syncer, "")
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if len(syncer.calls) != 0 {
		t.Error("disabled scheduler ran a sync")
	}
}

type blockingSyncer struct {
	started  chan struct{}
	finished atomic.Bool
	err      atomic.Value
}

func (s *blockingSyncer) Sync(ctx context.Context, _ SyncOptions) (*SyncReport, error) {
	close(s.started)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	s.err.Store(ctx.Err())
	s.finished.Store(true)
	return nil, ctx.Err()
}

func TestScheduler_RunWaitsForInFlightSync(t *testing.T) {
	syncer := &blockingSyncer{started: make(chan struct{})}
	s, err := NewScheduler(syncer, "", WithSyncOnStart(true), WithSyncTimeout(time.Hour))
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-syncer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sync on start did not run")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if !syncer.finished.Load() {
		t.Fatal("Run() returned while a sync was still running")
	}
	if err, _ := syncer.err.Load().(error); !errors.Is(err, context.Canceled) {
		t.Errorf("sync context error = %v, want context.Canceled from Run's ctx", err)
	}
}

func TestScheduler_NothingRunsAfterStop(t *testing.T) {
	syncer := &countingSyncer{calls: make(chan SyncOptions, 1)}
	s, err := NewScheduler(syncer, "* * * * *")
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	s.start(context.Background())
	if len(syncer.calls) != 0 {
		t.Error("sync started after Run returned")
	}
}
