package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// ProviderStore persists providers and their configuration entries.
type ProviderStore interface {
	// CreateProvider inserts p and returns its id. Returns
	// domain.ErrDuplicateName if a non-deleted provider has the same name.
	CreateProvider(ctx context.Context, p *domain.Provider) (int64, error)

	// GetProvider returns a non-deleted provider by id.
	GetProvider(ctx context.Context, id int64) (*domain.Provider, error)

	// GetProviderByName returns a non-deleted provider by name.
	GetProviderByName(ctx context.Context, name string) (*domain.Provider, error)

	// ListProviders returns non-deleted providers, optionally only active ones.
	ListProviders(ctx context.Context, activeOnly bool) ([]*domain.Provider, error)

	// SoftDeleteProvider stamps deleted_at; rows are never removed.
	SoftDeleteProvider(ctx context.Context, id int64, actor string, at time.Time) error

	// UpsertSecret inserts or updates the entry keyed by (provider, key).
	UpsertSecret(ctx context.Context, entry *domain.SecretEntry) error

	// ListSecrets returns the stored (possibly encrypted) entries of a provider.
	ListSecrets(ctx context.Context, providerID int64) ([]*domain.SecretEntry, error)
}

// ModelUpsert describes one seeded or discovered model. Existing rows keep
// their description, activity, and verification state.
type ModelUpsert struct {
	ProviderID    int64
	ModelID       string
	DisplayName   string
	Description   string
	Tier          domain.LatencyTier
	InputCost     float64
	OutputCost    float64
	Capabilities  []string
	IsRecommended bool
}

// ProbeOutcome is the state transition written after a benchmark probe.
type ProbeOutcome struct {
	ModelRowID int64
	Success    bool
	LatencyMs  int64
	Tier       domain.LatencyTier
	VerifiedAt time.Time
	// Description is the full description to store on failure.
	Description string
}

// ModelStore persists the model catalog.
type ModelStore interface {
	// UpsertModel inserts the model if missing and reports whether it was created.
	UpsertModel(ctx context.Context, m ModelUpsert) (*domain.Model, bool, error)

	GetModel(ctx context.Context, id int64) (*domain.Model, error)

	// ListModels returns models for a provider, or all models when providerID is 0.
	ListModels(ctx context.Context, providerID int64) ([]*domain.Model, error)

	SetModelActive(ctx context.Context, id int64, active bool) error

	// RecordProbe applies a probe outcome to a model row.
	RecordProbe(ctx context.Context, outcome ProbeOutcome) error
}

// GovernanceStore persists rules and preferences and answers the
// precedence lookups. Every Find* joins the model to its provider and only
// returns active models of active, non-deleted providers; a miss returns
// domain.ErrNotFound.
type GovernanceStore interface {
	UpsertSystemRule(ctx context.Context, rule *domain.SystemRule) error
	UpsertUserPreference(ctx context.Context, pref *domain.UserPreference) error

	FindModelByIdentifier(ctx context.Context, modelID string) (*domain.ModelRef, error)
	FindUserPreference(ctx context.Context, userID, moduleID string) (*domain.ModelRef, error)
	FindSystemRule(ctx context.Context, scope domain.RuleScope, moduleID string) (*domain.ModelRef, error)
}

// AuditStore appends audit events.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event *domain.AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error)
}

// Store is the full durable relational store.
type Store interface {
	ProviderStore
	ModelStore
	GovernanceStore
	AuditStore

	Close() error
}
