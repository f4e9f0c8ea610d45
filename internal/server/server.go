// Package server exposes the governor over HTTP: an admin surface mapping
// one-to-one onto registry, catalog, governance and discovery operations,
// plus resolve and generate endpoints for feature modules.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-model-governor/internal/auth"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/discovery"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

// ProviderAdmin is the registry surface the admin API drives.
type ProviderAdmin interface {
	ListAll(ctx context.Context) ([]*domain.Provider, error)
	Create(ctx context.Context, name string, family domain.Family, baseURL string) (int64, error)
	SoftDelete(ctx context.Context, id int64) error
	UpsertSecret(ctx context.Context, providerID int64, key, value string, isSecret bool) error
}

// ModelAdmin is the catalog surface the admin API drives.
type ModelAdmin interface {
	Get(ctx context.Context, id int64) (*domain.Model, error)
	List(ctx context.Context, providerID int64) ([]*domain.Model, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Governance resolves callers and edits rules and preferences.
type Governance interface {
	Resolve(ctx context.Context, moduleID, userID, override string) (domain.Resolution, error)
	SetSystemRule(ctx context.Context, scope domain.RuleScope, moduleID string, modelRef int64) error
	SetUserPreference(ctx context.Context, userID, moduleID string, modelRef int64) error
}

// Discovery syncs and benchmarks the catalog.
type Discovery interface {
	Sync(ctx context.Context, opts discovery.SyncOptions) (*discovery.SyncReport, error)
	Benchmark(ctx context.Context, modelRowID int64) (domain.BenchmarkResult, error)
}

// Generator resolves a caller and dispatches a generation request.
type Generator interface {
	Generate(ctx context.Context, caller domain.Caller, req *domain.GenerationRequest) (domain.Resolution, *domain.Result, error)
}

// Services are the components the HTTP surface is a facade over.
type Services struct {
	Providers  ProviderAdmin
	Models     ModelAdmin
	Governance Governance
	Discovery  Discovery
	Generator  Generator
}

type Server struct {
	Router *chi.Mux
	Port   int

	svc    Services
	auth   *auth.Authenticator
	logger *slog.Logger
	http   *http.Server
}

// New builds the router with request ID, logging, actor, timeout, recovery
// and tracing middleware, and mounts every route.
func New(cfg config.ServerConfig, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(ActorMiddleware)
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "model-governor")
	})

	s := &Server{
		Router: r,
		Port:   cfg.Port,
		svc:    svc,
		auth:   auth.NewAuthenticator(cfg.AdminKeys),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.Router.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(s.auth))

		r.Get("/providers", s.handleListProviders)
		r.Post("/providers", s.handleCreateProvider)
		r.Delete("/providers/{id}", s.handleDeleteProvider)
		r.Put("/providers/{id}/secrets/{key}", s.handleUpsertSecret)

		r.Get("/models", s.handleListModels)
		r.Patch("/models/{id}", s.handleUpdateModel)
		r.Post("/models/{id}/benchmark", s.handleBenchmark)

		r.Post("/sync", s.handleSync)
		r.Put("/rules", s.handleSetRule)
		r.Put("/preferences", s.handleSetPreference)
	})

	s.Router.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Post("/generate", s.handleGenerate)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on the configured port until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
