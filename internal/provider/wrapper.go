package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

var tracer = otel.Tracer("github.com/tjfontaine/polyglot-model-governor/internal/provider")

// BoundedAdapter wraps an adapter so every call runs under a deadline and a
// span. A zero timeout leaves the caller's deadline in charge.
type BoundedAdapter struct {
	inner    ports.Adapter
	provider string
	timeout  time.Duration
}

// Bound wraps inner. Hybrid adapters keep their hybrid shape.
func Bound(inner ports.Adapter, provider string, timeout time.Duration) ports.Adapter {
	b := &BoundedAdapter{inner: inner, provider: provider, timeout: timeout}
	if hybrid, ok := inner.(ports.HybridAdapter); ok {
		return &boundedHybrid{BoundedAdapter: b, hybrid: hybrid}
	}
	return b
}

// Unwrap returns the wrapped adapter.
func (b *BoundedAdapter) Unwrap() ports.Adapter {
	return b.inner
}

func (b *BoundedAdapter) Family() domain.Family {
	return b.inner.Family()
}

func (b *BoundedAdapter) Probe(ctx context.Context, model string) error {
	ctx, span, cancel := b.start(ctx, "adapter.Probe", model)
	defer cancel()
	defer span.End()

	err := b.inner.Probe(ctx, model)
	record(span, err)
	return err
}

func (b *BoundedAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error) {
	ctx, span, cancel := b.start(ctx, "adapter.Generate", req.Model)
	defer cancel()
	defer span.End()

	res, err := b.inner.Generate(ctx, req)
	record(span, err)
	return res, err
}

func (b *BoundedAdapter) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	ctx, span, cancel := b.start(ctx, "adapter.ListModels", "")
	defer cancel()
	defer span.End()

	models, err := b.inner.ListModels(ctx)
	record(span, err)
	return models, err
}

func (b *BoundedAdapter) start(ctx context.Context, name, model string) (context.Context, trace.Span, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if b.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", b.provider),
		attribute.String("family", string(b.inner.Family())),
	}
	if model != "" {
		attrs = append(attrs, attribute.String("model", model))
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span, cancel
}

func record(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

type boundedHybrid struct {
	*BoundedAdapter
	hybrid ports.HybridAdapter
}

func (h *boundedHybrid) KeyPath() (ports.Adapter, bool) {
	key, ok := h.hybrid.KeyPath()
	if !ok {
		return nil, false
	}
	return &BoundedAdapter{inner: key, provider: h.provider, timeout: h.timeout}, true
}

func (h *boundedHybrid) AmbientPath() ports.Adapter {
	return &BoundedAdapter{inner: h.hybrid.AmbientPath(), provider: h.provider, timeout: h.timeout}
}
