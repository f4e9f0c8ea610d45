// Package discovery populates the model catalog from seed lists and live
// backend listings, and benchmarks models to classify or deactivate them.
//
// Nothing here blocks resolution or dispatch: the engine only writes to the
// catalog, and probe failures become catalog state rather than errors.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-model-governor/internal/catalog"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
)

// Defaults applied when options are absent.
const (
	DefaultProbeTimeout = 15 * time.Second
	DefaultConcurrency  = 4
)

// ErrSyncInProgress is returned when a sync is requested while one runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// Probe strategies reported per provider.
const (
	StrategyDirect  = "direct"
	StrategyKey     = "key"
	StrategyAmbient = "ambient"
)

// ProviderSource lists providers and hands out their decrypted config.
type ProviderSource interface {
	ListActive(ctx context.Context) ([]*domain.Provider, error)
	FetchConfig(ctx context.Context, providerID int64) (*domain.ProviderConfig, error)
}

// AdapterFactory builds an adapter bound to a provider configuration.
type AdapterFactory func(cfg domain.ProviderConfig, deps provider.Deps) (ports.Adapter, error)

// SyncOptions controls one sync run.
type SyncOptions struct {
	// Benchmark probes candidate models after upserting.
	Benchmark bool

	// Reverify probes every model of the provider, including verified and
	// inactive ones. Otherwise only active, never-verified models are probed.
	Reverify bool

	// ProviderID limits the run to one provider. Zero means all active.
	ProviderID int64
}

// ProviderReport summarizes one provider's sync.
type ProviderReport struct {
	ProviderID int64  `json:"provider_id"`
	Provider   string `json:"provider"`
	Seeded     int    `json:"seeded"`
	Discovered int    `json:"discovered"`
	Created    int    `json:"created"`
	Probed     int    `json:"probed"`
	Verified   int    `json:"verified"`
	Failed     int    `json:"failed"`
	Aborted    int    `json:"aborted,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SyncReport summarizes a sync run.
type SyncReport struct {
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Providers []ProviderReport `json:"providers"`
}

// Engine runs sync and benchmark operations.
type Engine struct {
	providers    ProviderSource
	catalog      *catalog.Catalog
	seeds        ports.SeedSource
	create       AdapterFactory
	deps         provider.Deps
	probeTimeout time.Duration
	concurrency  int
	logger       *slog.Logger
	tracer       trace.Tracer
	running      atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithSeeds(s ports.SeedSource) Option {
	return func(e *Engine) {
		if s != nil {
			e.seeds = s
		}
	}
}

// WithAdapterFactory replaces the registered factories.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(e *Engine) {
		if f != nil {
			e.create = f
		}
	}
}

func WithDeps(deps provider.Deps) Option {
	return func(e *Engine) {
		e.deps = deps
	}
}

// WithProbeTimeout bounds each probe; a timeout counts as a failure.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithConcurrency bounds the number of probes in flight per provider.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// New creates an engine.
func New(providers ProviderSource, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		providers:    providers,
		catalog:      cat,
		create:       provider.CreateAdapter,
		probeTimeout: DefaultProbeTimeout,
		concurrency:  DefaultConcurrency,
		logger:       slog.Default(),
		tracer:       otel.Tracer("github.com/tjfontaine/polyglot-model-governor/internal/discovery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seeds == nil {
		e.seeds = NewSeedCatalog(nil)
	}
	return e
}

// Sync upserts seeds and live listings for every active provider and,
// when asked, probes candidate models. Per-provider problems are reported,
// not returned.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, span := e.tracer.Start(ctx, "discovery.Sync", trace.WithAttributes(
		attribute.Bool("benchmark", opts.Benchmark),
		attribute.Bool("reverify", opts.Reverify),
	))
	defer span.End()

	report := &SyncReport{StartedAt: time.Now().UTC()}

	providers, err := e.providers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	for _, p := range providers {
		if opts.ProviderID != 0 && p.ID != opts.ProviderID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Providers = append(report.Providers, e.syncProvider(ctx, p, opts))
	}

	report.Duration = time.Since(report.StartedAt)
	e.logger.Info("sync finished",
		slog.Int("providers", len(report.Providers)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) syncProvider(ctx context.Context, p *domain.Provider, opts SyncOptions) ProviderReport {
	rep := ProviderReport{ProviderID: p.ID, Provider: p.Name}
	logger := e.logger.With(slog.String("provider", p.Name))

	for _, seed := range e.seeds.Seeds(p.Family) {
		created, err := e.upsert(ctx, ports.ModelUpsert{
			ProviderID:    p.ID,
			ModelID:       seed.ID,
			DisplayName:   seed.DisplayName,
			Description:   seed.Description,
			Tier:          seed.Tier,
			InputCost:     seed.InputCost,
			OutputCost:    seed.OutputCost,
			Capabilities:  seed.Capabilities,
			IsRecommended: seed.Recommended,
		})
		if err != nil {
			logger.Error("seed upsert failed", slog.String("model", seed.ID), slog.String("error", err.Error()))
			continue
		}
		rep.Seeded++
		if created {
			rep.Created++
		}
	}

	adapter, err := e.adapter(ctx, p.ID)
	if err != nil {
		logger.Warn("provider skipped", slog.String("error", err.Error()))
		rep.Error = err.Error()
		return rep
	}

	listed, err := adapter.ListModels(ctx)
	switch {
	case errors.Is(err, ports.ErrListingUnsupported):
	case err != nil:
		logger.Warn("model listing failed", slog.String("error", err.Error()))
	default:
		for _, m := range listed {
			created, err := e.upsert(ctx, ports.ModelUpsert{
				ProviderID:  p.ID,
				ModelID:     m.ID,
				DisplayName: m.DisplayName,
				Description: m.Description,
			})
			if err != nil {
				logger.Error("discovered upsert failed", slog.String("model", m.ID), slog.String("error", err.Error()))
				continue
			}
			rep.Discovered++
			if created {
				rep.Created++
			}
		}
	}

	if !opts.Benchmark {
		return rep
	}

	models, err := e.catalog.List(ctx, p.ID)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	var candidates []*domain.Model
	for _, m := range models {
		if opts.Reverify || (m.IsActive && !m.Verified()) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return rep
	}

	results, strategy := e.probeWithStrategy(ctx, adapter, candidates)
	rep.Strategy = strategy
	rep.Probed = len(results)
	for _, r := range results {
		switch e.apply(ctx, r) {
		case outcomeVerified:
			rep.Verified++
		case outcomeFailed:
			rep.Failed++
		case outcomeAborted:
			rep.Aborted++
		}
	}
	logger.Info("provider benchmarked",
		slog.String("strategy", strategy),
		slog.Int("verified", rep.Verified),
		slog.Int("failed", rep.Failed),
		slog.Int("aborted", rep.Aborted))
	return rep
}

func (e *Engine) upsert(ctx context.Context, m ports.ModelUpsert) (bool, error) {
	_, created, err := e.catalog.Upsert(ctx, m)
	return created, err
}

// adapter builds the bounded adapter of a provider.
func (e *Engine) adapter(ctx context.Context, providerID int64) (ports.Adapter, error) {
	cfg, err := e.providers.FetchConfig(ctx, providerID)
	if err != nil {
		return nil, err
	}
	a, err := e.create(*cfg, e.deps)
	if err != nil {
		return nil, err
	}
	return provider.Bound(a, cfg.Provider.Name, e.probeTimeout), nil
}

// Benchmark probes one model and applies the outcome. A failed probe
// deactivates the model and reports LatencyMs -1. The error is reserved for
// problems that prevented probing at all.
func (e *Engine) Benchmark(ctx context.Context, modelRowID int64) (domain.BenchmarkResult, error) {
	ctx, span := e.tracer.Start(ctx, "discovery.Benchmark", trace.WithAttributes(
		attribute.Int64("model_ref", modelRowID),
	))
	defer span.End()

	result := domain.BenchmarkResult{ModelRowID: modelRowID, LatencyMs: -1}

	m, err := e.catalog.Get(ctx, modelRowID)
	if err != nil {
		return result, err
	}
	result.ModelID = m.ModelID

	adapter, err := e.adapter(ctx, m.ProviderID)
	if err != nil {
		return result, err
	}

	results, _ := e.probeWithStrategy(ctx, adapter, []*domain.Model{m})
	r := results[0]
	switch e.apply(ctx, r) {
	case outcomeAborted:
		return result, ctx.Err()
	case outcomeFailed:
		result.Error = r.errString()
		return result, nil
	}

	result.LatencyMs = r.latencyMs
	result.Tier = domain.ClassifyLatency(r.latencyMs)
	span.SetAttributes(attribute.Int64("latency_ms", r.latencyMs))
	return result, nil
}
