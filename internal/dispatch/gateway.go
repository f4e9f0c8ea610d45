// Package dispatch sends a generation request to the resolved provider and
// normalizes the reply. Every failure is returned as *domain.DispatchError.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/tokens"
)

// DefaultTimeout bounds one adapter call when no timeout is configured.
const DefaultTimeout = 120 * time.Second

// ConfigSource hands out decrypted provider configuration.
type ConfigSource interface {
	FetchConfigByName(ctx context.Context, name string) (*domain.ProviderConfig, error)
}

// AdapterFactory builds an adapter bound to a provider configuration.
type AdapterFactory func(cfg domain.ProviderConfig, deps provider.Deps) (ports.Adapter, error)

// Gateway dispatches generation requests.
type Gateway struct {
	configs ConfigSource
	create  AdapterFactory
	deps    provider.Deps
	timeout time.Duration
	counter *tokens.Counter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every adapter call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithDeps sets the collaborators handed to adapter factories.
func WithDeps(deps provider.Deps) Option {
	return func(g *Gateway) {
		g.deps = deps
	}
}

// WithAdapterFactory replaces the registered factories.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(g *Gateway) {
		if f != nil {
			g.create = f
		}
	}
}

func WithCounter(c *tokens.Counter) Option {
	return func(g *Gateway) {
		if c != nil {
			g.counter = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// New creates a gateway reading provider configuration from configs.
func New(configs ConfigSource, opts ...Option) *Gateway {
	g := &Gateway{
		configs: configs,
		create:  provider.CreateAdapter,
		timeout: DefaultTimeout,
		counter: tokens.Default(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/tjfontaine/polyglot-model-governor/internal/dispatch"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends req to the resolved provider and model. The resolution's
// model replaces req.Model. Usage missing from the backend is estimated.
func (g *Gateway) Generate(ctx context.Context, target domain.Resolution, req *domain.GenerationRequest) (*domain.Result, error) {
	ctx, span := g.tracer.Start(ctx, "dispatch.Generate", trace.WithAttributes(
		attribute.String("provider", target.Provider),
		attribute.String("model", target.Model),
		attribute.String("source", string(target.Source)),
	))
	defer span.End()

	res, err := g.generate(ctx, target, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("dispatch failed",
			slog.String("provider", target.Provider),
			slog.String("model", target.Model),
			slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("usage_estimated", res.Usage != nil && res.Usage.Estimated))
	return res, nil
}

func (g *Gateway) generate(ctx context.Context, target domain.Resolution, req *domain.GenerationRequest) (*domain.Result, error) {
	fail := func(kind domain.FailureKind, err error) error {
		return &domain.DispatchError{Kind: kind, Provider: target.Provider, Model: target.Model, Err: err}
	}

	if req == nil || len(req.Messages) == 0 {
		return nil, fail(domain.FailureAdapter, fmt.Errorf("%w: no messages", domain.ErrInvalidArgument))
	}

	cfg, err := g.configs.FetchConfigByName(ctx, target.Provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fail(domain.FailureUnconfiguredProvider, fmt.Errorf("%w: provider %q does not exist", domain.ErrUnconfiguredProvider, target.Provider))
		}
		return nil, fail(domain.FailureUnconfiguredProvider, fmt.Errorf("load provider config: %w", err))
	}
	if !cfg.Provider.Active {
		return nil, fail(domain.FailureUnconfiguredProvider, fmt.Errorf("%w: provider %q is inactive", domain.ErrUnconfiguredProvider, target.Provider))
	}

	adapter, err := g.create(*cfg, g.deps)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedFamily):
			return nil, fail(domain.FailureUnsupportedFamily, err)
		case errors.Is(err, domain.ErrUnconfiguredProvider):
			return nil, fail(domain.FailureUnconfiguredProvider, err)
		}
		return nil, fail(domain.FailureAdapter, err)
	}
	adapter = provider.Bound(adapter, target.Provider, g.timeout)

	call := *req
	call.Model = target.Model

	res, err := adapter.Generate(ctx, &call)
	if err != nil {
		return nil, fail(domain.FailureAdapter, err)
	}

	if res.Provider == "" {
		res.Provider = target.Provider
	}
	if res.Model == "" {
		res.Model = target.Model
	}
	if res.Usage == nil {
		res.Usage = g.counter.EstimateUsage(&call, res.Content, res.StopReason)
	}
	return res, nil
}
