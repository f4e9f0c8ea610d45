// Package direct provides an audit publisher that writes straight to storage.
package direct

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// Publisher implements ports.Auditor by appending rows to an AuditStore on
// a background goroutine. Storage failures are logged and dropped.
type Publisher struct {
	store   ports.AuditStore
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.Auditor = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger used for dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTimeout bounds each storage write.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// NewPublisher creates a new direct audit publisher.
func NewPublisher(store ports.AuditStore, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store required")
	}

	p := &Publisher{
		store:   store,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Record queues event for storage and returns immediately. The actor
// defaults to the one carried by ctx.
func (p *Publisher) Record(ctx context.Context, event domain.AuditEvent) {
	if event.Actor == "" {
		event.Actor = domain.ActorFrom(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("audit publisher closed, dropping event",
			slog.String("action", event.Action),
			slog.String("resource_id", event.ResourceID))
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	// The write outlives the caller's request.
	writeCtx := context.WithoutCancel(ctx)

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(writeCtx, p.timeout)
		defer cancel()

		if err := p.store.AppendAuditEvent(ctx, &event); err != nil {
			p.logger.Error("failed to write audit event",
				slog.String("action", event.Action),
				slog.String("resource_type", event.ResourceType),
				slog.String("resource_id", event.ResourceID),
				slog.String("error", err.Error()))
		}
	}()
}

// Close stops accepting events and waits for in-flight writes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
