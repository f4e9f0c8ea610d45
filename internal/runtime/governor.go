// Package runtime is the composition root of the model governor. It wires
// storage, the credential vault, the provider registry, the model catalog,
// governance, discovery and dispatch from configuration, and owns their
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-model-governor/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-model-governor/internal/adapters/events/direct"
	"github.com/tjfontaine/polyglot-model-governor/internal/catalog"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/discovery"
	"github.com/tjfontaine/polyglot-model-governor/internal/dispatch"
	"github.com/tjfontaine/polyglot-model-governor/internal/governance"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/safehttp"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/registry"
	"github.com/tjfontaine/polyglot-model-governor/internal/server"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage"
	"github.com/tjfontaine/polyglot-model-governor/internal/vault"
)

// Governor owns every component. The exported fields are ready to use once
// New returns; Start launches the background work.
type Governor struct {
	Registry *registry.Registry
	Catalog  *catalog.Catalog
	Resolver *governance.Resolver
	Gateway  *dispatch.Gateway
	Engine   *discovery.Engine
	Seeds    *discovery.SeedCatalog

	cfg       *config.Config
	store     ports.Store
	vault     *vault.Vault
	audit     *direct.Publisher
	scheduler *discovery.Scheduler
	seedWatch *file.Provider[discovery.SeedSet]
	create    AdapterFactory
	deps      provider.Deps
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Governor from cfg. Adapter factories must already be
// registered (provider.RegisterBuiltins) unless WithAdapterFactory is used.
func New(cfg *config.Config, opts ...Option) (*Governor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	g := &Governor{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.deps.Logger == nil {
		g.deps.Logger = g.logger
	}
	if g.deps.HTTPClient == nil {
		transport := safehttp.Transport(cfg.Dispatch.BlockPrivateNetworks)
		g.deps.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(transport)}
	}
	if g.create == nil {
		g.create = provider.CreateAdapter
	}

	if g.store == nil {
		store, err := storage.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		g.store = store
	}

	if err := g.wire(); err != nil {
		_ = g.store.Close()
		return nil, err
	}
	return g, nil
}

func (g *Governor) wire() error {
	cfg := g.cfg

	if g.vault == nil {
		v, err := vault.NewFromConfig(cfg.Vault, g.logger)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		g.vault = v
	}

	audit, err := direct.NewPublisher(g.store, direct.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("init audit publisher: %w", err)
	}
	g.audit = audit

	g.Registry = registry.New(g.store, g.vault,
		registry.WithAuditor(audit),
		registry.WithLogger(g.logger))
	g.Catalog = catalog.New(g.store,
		catalog.WithAuditor(audit),
		catalog.WithLogger(g.logger))
	g.Resolver = governance.New(g.store,
		governance.WithFailSafe(cfg.Governance.FailSafeProvider, cfg.Governance.FailSafeModel),
		governance.WithStrictOverride(cfg.Governance.StrictOverride),
		governance.WithAuditor(audit),
		governance.WithLogger(g.logger))
	g.Gateway = dispatch.New(g.Registry,
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithAdapterFactory(dispatch.AdapterFactory(g.create)),
		dispatch.WithDeps(g.deps),
		dispatch.WithLogger(g.logger))

	var seeds discovery.SeedSet
	if path := cfg.Discovery.SeedsFile; path != "" && !cfg.Discovery.WatchSeeds {
		seeds, err = discovery.LoadSeeds(path)
		if err != nil {
			return fmt.Errorf("load seeds: %w", err)
		}
	}
	g.Seeds = discovery.NewSeedCatalog(seeds)

	g.Engine = discovery.New(g.Registry, g.Catalog,
		discovery.WithSeeds(g.Seeds),
		discovery.WithAdapterFactory(discovery.AdapterFactory(g.create)),
		discovery.WithDeps(g.deps),
		discovery.WithProbeTimeout(cfg.Discovery.ProbeTimeout),
		discovery.WithConcurrency(cfg.Discovery.Concurrency),
		discovery.WithLogger(g.logger))

	g.scheduler, err = discovery.NewScheduler(g.Engine, cfg.Discovery.Schedule,
		discovery.WithSyncOnStart(cfg.Discovery.SyncOnStart),
		discovery.WithSyncOptions(discovery.SyncOptions{Benchmark: cfg.Discovery.BenchmarkOnSync}),
		discovery.WithSchedulerLogger(g.logger))
	if err != nil {
		return err
	}
	return nil
}

// Start launches the seed watch and the sync scheduler. They stop when ctx
// ends or Close is called.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return errors.New("governor already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	if path := g.cfg.Discovery.SeedsFile; path != "" && g.cfg.Discovery.WatchSeeds {
		p, err := discovery.WatchSeeds(ctx, path, g.Seeds, g.logger)
		if err != nil {
			cancel()
			return fmt.Errorf("watch seeds: %w", err)
		}
		g.seedWatch = p
	}

	g.cancel = cancel
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		_ = g.scheduler.Run(ctx)
	}()

	g.logger.Info("governor started",
		slog.String("storage", g.cfg.Storage.Driver),
		slog.String("sync_schedule", g.cfg.Discovery.Schedule))
	return nil
}

// Generate resolves caller and dispatches req to the resolved model. The
// resolution is returned alongside dispatch failures so callers can report
// which target failed.
func (g *Governor) Generate(ctx context.Context, caller domain.Caller, req *domain.GenerationRequest) (domain.Resolution, *domain.Result, error) {
	res, err := g.Resolver.Resolve(ctx, caller.ModuleID, caller.UserID, caller.Override)
	if err != nil {
		return res, nil, err
	}
	result, err := g.Gateway.Generate(ctx, res, req)
	return res, result, err
}

// Services exposes the components to the HTTP surface.
func (g *Governor) Services() server.Services {
	return server.Services{
		Providers:  g.Registry,
		Models:     g.Catalog,
		Governance: g.Resolver,
		Discovery:  g.Engine,
		Generator:  g,
	}
}

// Close stops background work, drains pending audit writes and closes the
// store.
func (g *Governor) Close() error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if g.seedWatch != nil {
		if err := g.seedWatch.Close(); err != nil {
			g.logger.Error("failed to close seed watch", slog.String("error", err.Error()))
		}
	}
	if err := g.audit.Close(); err != nil {
		g.logger.Error("failed to close audit publisher", slog.String("error", err.Error()))
	}
	return g.store.Close()
}
