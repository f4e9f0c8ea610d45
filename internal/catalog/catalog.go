// Package catalog owns model rows and their verification state machine:
// unverified models become active on a successful probe, and any failed
// probe deactivates the model and tags its description.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// Failure tags appended to a model description.
const (
	TagDeprecated = "[DEPRECATED]"
	TagError      = "[ERROR]"
)

// ActionModelSetActive is audited when an administrator toggles a model.
const ActionModelSetActive = "model.set_active"

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, domain.AuditEvent) {}

// Catalog is the model catalog service.
type Catalog struct {
	store  ports.ModelStore
	audit  ports.Auditor
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithAuditor(a ports.Auditor) Option {
	return func(c *Catalog) {
		if a != nil {
			c.audit = a
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

func New(store ports.ModelStore, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		audit:  nopAuditor{},
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert inserts a seeded or discovered model, or refreshes the catalog
// metadata of an existing one. It reports whether a row was created.
func (c *Catalog) Upsert(ctx context.Context, m ports.ModelUpsert) (*domain.Model, bool, error) {
	if m.ModelID == "" {
		return nil, false, fmt.Errorf("%w: model id is required", domain.ErrInvalidArgument)
	}
	return c.store.UpsertModel(ctx, m)
}

func (c *Catalog) Get(ctx context.Context, id int64) (*domain.Model, error) {
	return c.store.GetModel(ctx, id)
}

// List returns the models of one provider, or all models for providerID 0.
func (c *Catalog) List(ctx context.Context, providerID int64) ([]*domain.Model, error) {
	return c.store.ListModels(ctx, providerID)
}

// SetActive toggles a model by hand.
func (c *Catalog) SetActive(ctx context.Context, id int64, active bool) error {
	if err := c.store.SetModelActive(ctx, id, active); err != nil {
		return err
	}
	c.audit.Record(ctx, domain.AuditEvent{
		Actor:        domain.ActorFrom(ctx),
		Action:       ActionModelSetActive,
		ResourceType: "model",
		ResourceID:   strconv.FormatInt(id, 10),
		Detail:       fmt.Sprintf("active=%t", active),
		Timestamp:    c.now(),
	})
	return nil
}

// MarkVerified records a successful probe and returns the derived tier.
func (c *Catalog) MarkVerified(ctx context.Context, id int64, latencyMs int64) (domain.LatencyTier, error) {
	tier := domain.ClassifyLatency(latencyMs)
	err := c.store.RecordProbe(ctx, ports.ProbeOutcome{
		ModelRowID: id,
		Success:    true,
		LatencyMs:  latencyMs,
		Tier:       tier,
		VerifiedAt: c.now(),
	})
	if err != nil {
		return "", err
	}
	return tier, nil
}

// MarkFailed deactivates a model after a failed probe and appends the tag
// matching cause to its description, once. It returns the tag.
func (c *Catalog) MarkFailed(ctx context.Context, id int64, cause error) (string, error) {
	m, err := c.store.GetModel(ctx, id)
	if err != nil {
		return "", err
	}

	tag := FailureTag(cause)
	err = c.store.RecordProbe(ctx, ports.ProbeOutcome{
		ModelRowID:  id,
		Success:     false,
		Description: AppendTag(m.Description, tag),
	})
	if err != nil {
		return "", err
	}

	c.logger.Warn("model deactivated after failed probe",
		slog.String("model", m.ModelID),
		slog.String("tag", tag),
		slog.String("error", errString(cause)))
	return tag, nil
}

// FailureTag picks TagDeprecated when cause says the model no longer
// exists upstream, else TagError.
func FailureTag(cause error) string {
	if domain.IsModelGone(cause) {
		return TagDeprecated
	}
	return TagError
}

// AppendTag appends tag to description unless it is already present.
func AppendTag(description, tag string) string {
	if strings.Contains(description, tag) {
		return description
	}
	description = strings.TrimRight(description, " ")
	if description == "" {
		return tag
	}
	return description + " " + tag
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
