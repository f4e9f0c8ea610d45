package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/runtime"
	"github.com/tjfontaine/polyglot-model-governor/internal/server"
	"github.com/tjfontaine/polyglot-model-governor/internal/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	provider.RegisterBuiltins()

	gov, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create governor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gov.Start(ctx); err != nil {
		log.Fatalf("Failed to start governor: %v", err)
	}

	srv := server.New(cfg.Server, gov.Services(), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping governor")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	if err := gov.Close(); err != nil {
		logger.Error("governor shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("governor shutdown complete")
}
