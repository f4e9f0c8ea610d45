// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

// Shutdown flushes and stops tracing.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// InitTracer installs a tracer provider exporting spans as JSON to stdout.
// When telemetry is disabled the global no-op provider is left in place.
func InitTracer(cfg config.TelemetryConfig, logger *slog.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	return initTracer(cfg.ServiceName, os.Stdout, logger)
}

func initTracer(serviceName string, w io.Writer, logger *slog.Logger) (Shutdown, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))
	return tp.Shutdown, nil
}
