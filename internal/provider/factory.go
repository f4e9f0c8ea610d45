// Package provider wires the built-in adapter families and wraps adapters
// with per-call bounds.
//
// # Adding a New Family
//
// Implement ports.Adapter in its own package and expose an explicit
// registration function that calls registry.RegisterFactory, then call it
// from RegisterBuiltins. Registration is explicit so there are no init()
// side effects.
package provider

import (
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider/identitybound"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider/keybound"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider/registry"
)

// Deps is re-exported for callers that only import this package.
type Deps = registry.Deps

// RegisterBuiltins registers every built-in adapter family. It is safe to
// call more than once.
func RegisterBuiltins() {
	keybound.RegisterFactory()
	identitybound.RegisterFactory()
}

// CreateAdapter builds the adapter for cfg from the registered factories.
func CreateAdapter(cfg domain.ProviderConfig, deps Deps) (ports.Adapter, error) {
	return registry.CreateAdapter(cfg, deps)
}
