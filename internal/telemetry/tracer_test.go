package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(config.TelemetryConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracer_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := initTracer("governor-test", &buf, slog.Default())
	if err != nil {
		t.Fatalf("initTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "governance.Resolve")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "governance.Resolve") || !strings.Contains(out, "governor-test") {
		t.Errorf("exported spans missing name or service: %s", out)
	}
}
