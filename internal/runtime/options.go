package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/vault"
)

// Option is a functional option for configuring a Governor.
type Option func(*Governor) error

// AdapterFactory builds an adapter for a provider configuration.
type AdapterFactory func(cfg domain.ProviderConfig, deps provider.Deps) (ports.Adapter, error)

// WithStore uses store instead of opening the one named in config. The
// Governor closes it on Close.
func WithStore(store ports.Store) Option {
	return func(g *Governor) error {
		if store == nil {
			return fmt.Errorf("store is nil")
		}
		g.store = store
		return nil
	}
}

// WithVault uses v instead of building one from config.
func WithVault(v *vault.Vault) Option {
	return func(g *Governor) error {
		g.vault = v
		return nil
	}
}

// WithAdapterFactory replaces the registered adapter factories for both
// discovery and dispatch.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(g *Governor) error {
		g.create = f
		return nil
	}
}

// WithDeps sets the collaborators handed to adapter factories.
func WithDeps(deps provider.Deps) Option {
	return func(g *Governor) error {
		g.deps = deps
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) error {
		g.logger = logger
		return nil
	}
}
