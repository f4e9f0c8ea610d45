package discovery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

type probeResult struct {
	model     *domain.Model
	latencyMs int64
	err       error
}

// outcome is what apply did with a probe result.
type outcome int

const (
	outcomeVerified outcome = iota
	outcomeFailed
	// outcomeAborted means the caller's context ended; the catalog is left
	// untouched since the probe says nothing about the model.
	outcomeAborted
)

func (r probeResult) errString() string {
	if r.err == nil {
		return ""
	}
	return r.err.Error()
}

// probeWithStrategy probes candidates and returns the results to write.
//
// Hybrid adapters with a key path are probed through it first, with results
// held back. If at least one of those probes succeeds they are returned;
// otherwise the ambient path probes the same candidates and only its results
// are returned.
func (e *Engine) probeWithStrategy(ctx context.Context, adapter ports.Adapter, candidates []*domain.Model) ([]probeResult, string) {
	hybrid, ok := adapter.(ports.HybridAdapter)
	if !ok {
		return e.probeAll(ctx, adapter, candidates), StrategyDirect
	}

	if key, ok := hybrid.KeyPath(); ok {
		buffered := e.probeAll(ctx, key, candidates)
		for _, r := range buffered {
			if r.err == nil {
				return buffered, StrategyKey
			}
		}
		if ctx.Err() != nil {
			return buffered, StrategyKey
		}
		e.logger.Info("key path yielded no usable probes, falling back to ambient credentials",
			slog.Int("candidates", len(candidates)))
	}
	return e.probeAll(ctx, hybrid.AmbientPath(), candidates), StrategyAmbient
}

// probeAll probes candidates with at most e.concurrency in flight. Results
// are in candidate order.
func (e *Engine) probeAll(ctx context.Context, adapter ports.Adapter, candidates []*domain.Model) []probeResult {
	results := make([]probeResult, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, m := range candidates {
		g.Go(func() error {
			start := time.Now()
			err := adapter.Probe(ctx, m.ModelID)
			results[i] = probeResult{
				model:     m,
				latencyMs: time.Since(start).Milliseconds(),
				err:       err,
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// apply writes one probe result to the catalog. Results gathered after ctx
// ended are not written.
func (e *Engine) apply(ctx context.Context, r probeResult) outcome {
	logger := e.logger.With(slog.String("model", r.model.ModelID))

	if ctx.Err() != nil {
		logger.Warn("probe aborted, catalog unchanged", slog.String("error", ctx.Err().Error()))
		return outcomeAborted
	}

	if r.err != nil {
		if _, err := e.catalog.MarkFailed(ctx, r.model.ID, r.err); err != nil {
			logger.Error("failed to record probe failure", slog.String("error", err.Error()))
		}
		return outcomeFailed
	}

	tier, err := e.catalog.MarkVerified(ctx, r.model.ID, r.latencyMs)
	if err != nil {
		logger.Error("failed to record probe", slog.String("error", err.Error()))
		return outcomeFailed
	}
	logger.Debug("model verified",
		slog.Int64("latency_ms", r.latencyMs),
		slog.String("tier", string(tier)))
	return outcomeVerified
}
