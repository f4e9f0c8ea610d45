// Package governance resolves which model serves a (module, user) pair.
//
// Precedence, first hit wins:
//
//	runtime override > user+module > user+"all" > system module > system global > fail-safe
//
// Every lookup is issued concurrently; results are evaluated in priority
// order once all have returned. A lookup that errors counts as a miss.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// Default fail-safe pair.
const (
	DefaultFailSafeProvider = "google-vertex"
	DefaultFailSafeModel    = "gemini-2.0-flash"
)

// Audit actions emitted by the resolver.
const (
	ActionRuleSet       = "rule.set"
	ActionPreferenceSet = "preference.set"
)

// Store is the persistence the resolver needs.
type Store interface {
	ports.GovernanceStore
	GetModel(ctx context.Context, id int64) (*domain.Model, error)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, domain.AuditEvent) {}

// Resolver implements the governance precedence chain.
type Resolver struct {
	store    Store
	audit    ports.Auditor
	logger   *slog.Logger
	tracer   trace.Tracer
	failSafe domain.Resolution
	strict   bool
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFailSafe overrides the terminal (provider, model) pair.
func WithFailSafe(provider, model string) Option {
	return func(r *Resolver) {
		if provider != "" {
			r.failSafe.Provider = provider
		}
		if model != "" {
			r.failSafe.Model = model
		}
	}
}

// WithStrictOverride makes an unknown runtime override an error instead of
// a fall-through.
func WithStrictOverride(strict bool) Option {
	return func(r *Resolver) {
		r.strict = strict
	}
}

func WithAuditor(a ports.Auditor) Option {
	return func(r *Resolver) {
		if a != nil {
			r.audit = a
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = tracer
	}
}

func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		audit:  nopAuditor{},
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/tjfontaine/polyglot-model-governor/internal/governance"),
		failSafe: domain.Resolution{
			Provider: DefaultFailSafeProvider,
			Model:    DefaultFailSafeModel,
			Source:   domain.SourceFailSafe,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FailSafe returns the terminal resolution.
func (r *Resolver) FailSafe() domain.Resolution {
	return r.failSafe
}

type tier struct {
	source domain.Source
	lookup func(ctx context.Context) (*domain.ModelRef, error)
}

type outcome struct {
	ref *domain.ModelRef
	err error
}

// Resolve returns the highest-priority live model for the caller. It only
// returns an error in strict mode: ErrUnknownOverride when override names no
// active model, or the lookup error when the override could not be checked.
func (r *Resolver) Resolve(ctx context.Context, moduleID, userID, override string) (domain.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "governance.Resolve", trace.WithAttributes(
		attribute.String("module", moduleID),
		attribute.Bool("override", override != ""),
	))
	defer span.End()

	tiers := r.tiers(moduleID, userID, strings.TrimSpace(override))
	outcomes := make([]outcome, len(tiers))

	var g errgroup.Group
	for i, t := range tiers {
		g.Go(func() error {
			ref, err := t.lookup(ctx)
			outcomes[i] = outcome{ref: ref, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range tiers {
		o := outcomes[i]
		if o.err != nil {
			if !errors.Is(o.err, domain.ErrNotFound) {
				r.logger.Warn("governance tier lookup failed",
					slog.String("source", string(t.source)),
					slog.String("module", moduleID),
					slog.String("error", o.err.Error()))
			}
			if t.source == domain.SourceRuntimeOverride && r.strict {
				span.SetAttributes(attribute.String("source", "rejected"))
				if errors.Is(o.err, domain.ErrNotFound) {
					return domain.Resolution{}, fmt.Errorf("%w: %q", domain.ErrUnknownOverride, override)
				}
				return domain.Resolution{}, fmt.Errorf("look up override %q: %w", override, o.err)
			}
			continue
		}

		res := domain.Resolution{
			Model:    o.ref.ModelID,
			Provider: o.ref.ProviderName,
			Source:   t.source,
		}
		span.SetAttributes(attribute.String("source", string(res.Source)))
		return res, nil
	}

	span.SetAttributes(attribute.String("source", string(domain.SourceFailSafe)))
	return r.failSafe, nil
}

func (r *Resolver) tiers(moduleID, userID, override string) []tier {
	var tiers []tier
	if override != "" {
		tiers = append(tiers, tier{domain.SourceRuntimeOverride, func(ctx context.Context) (*domain.ModelRef, error) {
			return r.store.FindModelByIdentifier(ctx, override)
		}})
	}
	// A module of "all" is the user's global preference; one tier covers it.
	if userID != "" && moduleID != "" && moduleID != domain.AllModules {
		tiers = append(tiers, tier{domain.SourceUserModulePreference, func(ctx context.Context) (*domain.ModelRef, error) {
			return r.store.FindUserPreference(ctx, userID, moduleID)
		}})
	}
	if userID != "" {
		tiers = append(tiers, tier{domain.SourceUserGlobalPreference, func(ctx context.Context) (*domain.ModelRef, error) {
			return r.store.FindUserPreference(ctx, userID, domain.AllModules)
		}})
	}
	if moduleID != "" {
		tiers = append(tiers, tier{domain.SourceSystemModuleDefault, func(ctx context.Context) (*domain.ModelRef, error) {
			return r.store.FindSystemRule(ctx, domain.ScopeModule, moduleID)
		}})
	}
	tiers = append(tiers, tier{domain.SourceSystemGlobalDefault, func(ctx context.Context) (*domain.ModelRef, error) {
		return r.store.FindSystemRule(ctx, domain.ScopeGlobal, domain.GlobalModule)
	}})
	return tiers
}

// SetSystemRule points (scope, module) at a model. GLOBAL rules ignore
// moduleID.
func (r *Resolver) SetSystemRule(ctx context.Context, scope domain.RuleScope, moduleID string, modelRef int64) error {
	moduleID = strings.TrimSpace(moduleID)
	switch scope {
	case domain.ScopeGlobal:
		moduleID = domain.GlobalModule
	case domain.ScopeModule:
		if moduleID == "" || moduleID == domain.GlobalModule {
			return fmt.Errorf("%w: MODULE rules need a module id", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidArgument, scope)
	}
	if _, err := r.store.GetModel(ctx, modelRef); err != nil {
		return err
	}

	actor := domain.ActorFrom(ctx)
	err := r.store.UpsertSystemRule(ctx, &domain.SystemRule{
		Scope:     scope,
		ModuleID:  moduleID,
		ModelRef:  modelRef,
		UpdatedBy: actor,
		UpdatedAt: r.now(),
	})
	if err != nil {
		return err
	}

	r.audit.Record(ctx, domain.AuditEvent{
		Actor:        actor,
		Action:       ActionRuleSet,
		ResourceType: "system_rule",
		ResourceID:   string(scope) + ":" + moduleID,
		Detail:       "model_ref=" + strconv.FormatInt(modelRef, 10),
		Timestamp:    r.now(),
	})
	return nil
}

// SetUserPreference points (user, module) at a model. Use
// domain.AllModules for the user's global preference.
func (r *Resolver) SetUserPreference(ctx context.Context, userID, moduleID string, modelRef int64) error {
	userID = strings.TrimSpace(userID)
	moduleID = strings.TrimSpace(moduleID)
	if userID == "" || moduleID == "" {
		return fmt.Errorf("%w: user and module are required", domain.ErrInvalidArgument)
	}
	if _, err := r.store.GetModel(ctx, modelRef); err != nil {
		return err
	}

	err := r.store.UpsertUserPreference(ctx, &domain.UserPreference{
		UserID:    userID,
		ModuleID:  moduleID,
		ModelRef:  modelRef,
		UpdatedAt: r.now(),
	})
	if err != nil {
		return err
	}

	r.audit.Record(ctx, domain.AuditEvent{
		Actor:        domain.ActorFrom(ctx),
		Action:       ActionPreferenceSet,
		ResourceType: "user_preference",
		ResourceID:   userID + ":" + moduleID,
		Detail:       "model_ref=" + strconv.FormatInt(modelRef, 10),
		Timestamp:    r.now(),
	})
	return nil
}
