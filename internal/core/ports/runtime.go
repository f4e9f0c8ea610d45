package ports

import (
	"context"
	"errors"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// ErrListingUnsupported is returned by adapters without live model listing.
var ErrListingUnsupported = errors.New("model listing not supported")

// Adapter is one backend family implementation bound to a provider's
// decrypted configuration.
type Adapter interface {
	Family() domain.Family

	// Probe issues the cheapest possible generation against model.
	Probe(ctx context.Context, model string) error

	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error)

	// ListModels returns the backend's own model listing. Adapters that
	// cannot list return ErrListingUnsupported.
	ListModels(ctx context.Context) ([]domain.DiscoveredModel, error)
}

// HybridAdapter is implemented by identity-bound adapters that can also be
// reached through a key-bound path. KeyPath reports false when no key is
// configured.
type HybridAdapter interface {
	Adapter
	KeyPath() (Adapter, bool)
	AmbientPath() Adapter
}

// Auditor receives fire-and-forget audit records. Implementations must not
// block the caller on storage and never return errors.
type Auditor interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// SeedSource supplies the static seed catalog per family.
type SeedSource interface {
	Seeds(family domain.Family) []domain.SeedModel
}
