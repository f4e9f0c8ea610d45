// Package registry owns provider rows and their configuration entries.
// Secret values are sealed by the vault on write and opened only by
// FetchConfig.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/vault"
)

// Cipher seals and opens secret values. *vault.Vault implements it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

var _ Cipher = (*vault.Vault)(nil)

// Audit actions emitted by the registry.
const (
	ActionProviderCreate = "provider.create"
	ActionProviderDelete = "provider.delete"
	ActionSecretUpsert   = "secret.upsert"
)

const resourceProvider = "provider"

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, domain.AuditEvent) {}

// Registry is the provider registry service.
type Registry struct {
	store  ports.ProviderStore
	cipher Cipher
	audit  ports.Auditor
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithAuditor sets the audit sink for mutations.
func WithAuditor(a ports.Auditor) Option {
	return func(r *Registry) {
		if a != nil {
			r.audit = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a Registry over store, sealing secrets with cipher.
func New(store ports.ProviderStore, cipher Cipher, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		cipher: cipher,
		audit:  nopAuditor{},
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListActive returns active, non-deleted providers.
func (r *Registry) ListActive(ctx context.Context) ([]*domain.Provider, error) {
	return r.store.ListProviders(ctx, true)
}

// ListAll returns every non-deleted provider, active or not.
func (r *Registry) ListAll(ctx context.Context) ([]*domain.Provider, error) {
	return r.store.ListProviders(ctx, false)
}

func (r *Registry) Get(ctx context.Context, id int64) (*domain.Provider, error) {
	return r.store.GetProvider(ctx, id)
}

func (r *Registry) GetByName(ctx context.Context, name string) (*domain.Provider, error) {
	return r.store.GetProviderByName(ctx, name)
}

// Create registers a new active provider and returns its id. It fails with
// domain.ErrDuplicateName when a non-deleted provider already has name.
func (r *Registry) Create(ctx context.Context, name string, family domain.Family, baseURL string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: provider name is required", domain.ErrInvalidArgument)
	}
	if !family.Valid() {
		return 0, fmt.Errorf("%w: unknown family %q", domain.ErrInvalidArgument, family)
	}

	actor := domain.ActorFrom(ctx)
	p := &domain.Provider{
		Name:      name,
		Family:    family,
		BaseURL:   strings.TrimSpace(baseURL),
		Active:    true,
		CreatedBy: actor,
		UpdatedBy: actor,
	}

	id, err := r.store.CreateProvider(ctx, p)
	if err != nil {
		return 0, err
	}

	r.logger.Info("provider created",
		slog.String("provider", name),
		slog.String("family", string(family)),
		slog.String("actor", actor))
	r.record(ctx, ActionProviderCreate, id, fmt.Sprintf("name=%s family=%s", name, family))
	return id, nil
}

// SoftDelete marks a provider deleted. Its secrets and models are kept.
func (r *Registry) SoftDelete(ctx context.Context, id int64) error {
	actor := domain.ActorFrom(ctx)
	if err := r.store.SoftDeleteProvider(ctx, id, actor, r.now()); err != nil {
		return err
	}

	r.logger.Info("provider deleted", slog.Int64("provider_id", id), slog.String("actor", actor))
	r.record(ctx, ActionProviderDelete, id, "")
	return nil
}

// UpsertSecret writes one configuration entry, sealing it when isSecret.
func (r *Registry) UpsertSecret(ctx context.Context, providerID int64, key, value string, isSecret bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrInvalidArgument)
	}
	if _, err := r.store.GetProvider(ctx, providerID); err != nil {
		return err
	}

	stored := value
	if isSecret {
		sealed, err := r.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		stored = sealed
	}

	err := r.store.UpsertSecret(ctx, &domain.SecretEntry{
		ProviderID: providerID,
		Key:        key,
		Value:      stored,
		IsSecret:   isSecret,
		UpdatedAt:  r.now(),
	})
	if err != nil {
		return err
	}

	r.record(ctx, ActionSecretUpsert, providerID, fmt.Sprintf("key=%s is_secret=%t", key, isSecret))
	return nil
}

// FetchConfig returns the provider with every entry decrypted. Entries
// that fail to decrypt are logged and left out.
func (r *Registry) FetchConfig(ctx context.Context, providerID int64) (*domain.ProviderConfig, error) {
	p, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return r.buildConfig(ctx, p)
}

// FetchConfigByName is FetchConfig keyed by provider name.
func (r *Registry) FetchConfigByName(ctx context.Context, name string) (*domain.ProviderConfig, error) {
	p, err := r.store.GetProviderByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.buildConfig(ctx, p)
}

func (r *Registry) buildConfig(ctx context.Context, p *domain.Provider) (*domain.ProviderConfig, error) {
	entries, err := r.store.ListSecrets(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsSecret {
			values[e.Key] = e.Value
			continue
		}
		plaintext, err := r.cipher.Decrypt(e.Value)
		if err != nil {
			var de *vault.DecryptError
			if !errors.As(err, &de) {
				return nil, err
			}
			r.logger.Error("failed to decrypt provider secret",
				slog.String("provider", p.Name),
				slog.String("key", e.Key),
				slog.String("error", err.Error()))
			continue
		}
		values[e.Key] = plaintext
	}

	return &domain.ProviderConfig{Provider: *p, Values: values}, nil
}

func (r *Registry) record(ctx context.Context, action string, providerID int64, detail string) {
	r.audit.Record(ctx, domain.AuditEvent{
		Actor:        domain.ActorFrom(ctx),
		Action:       action,
		ResourceType: resourceProvider,
		ResourceID:   strconv.FormatInt(providerID, 10),
		Detail:       detail,
		Timestamp:    r.now(),
	})
}
