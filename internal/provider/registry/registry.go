// Package registry provides adapter factory registration and lookup, keyed
// by provider family.
//
// # Adding a New Family
//
// Each adapter package exposes an explicit registration function:
//
//	func RegisterFactory() {
//	    if registry.IsRegistered(domain.FamilyKeyBound) {
//	        return
//	    }
//	    registry.RegisterFactory(registry.AdapterFactory{
//	        Family:         domain.FamilyKeyBound,
//	        Description:    "OpenAI-compatible REST backend",
//	        Create:         CreateFromConfig,
//	        ValidateConfig: ValidateConfig,
//	    })
//	}
//
// provider.RegisterBuiltins wires the built-in families.
package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// Deps carries process-level collaborators handed to every factory.
// Zero values select the defaults.
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	// TokenSource replaces ambient credential discovery for identity-bound
	// adapters.
	TokenSource oauth2.TokenSource
}

// AdapterFactory defines how to build an adapter for one family from a
// provider's decrypted configuration.
type AdapterFactory struct {
	// Family is the provider family this factory serves.
	Family domain.Family

	// Description provides a human-readable description of the family
	Description string

	// Create instantiates an adapter bound to cfg.
	Create func(cfg domain.ProviderConfig, deps Deps) (ports.Adapter, error)

	// ValidateConfig performs family-specific configuration validation.
	// Optional: if nil, no additional validation is performed.
	ValidateConfig func(cfg domain.ProviderConfig) error
}

// factoryRegistry holds registered adapter factories
var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[domain.Family]AdapterFactory)
	factoryList []AdapterFactory
)

// RegisterFactory registers an adapter factory for a family.
// Panics if a factory for the same family is already registered.
func RegisterFactory(f AdapterFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Family == "" {
		panic("adapter factory family cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("adapter factory %q must have a Create function", f.Family))
	}

	if _, exists := factoryMap[f.Family]; exists {
		panic(fmt.Sprintf("adapter factory %q already registered", f.Family))
	}

	factoryMap[f.Family] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for a family, if registered.
func GetFactory(family domain.Family) (AdapterFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[family]
	return f, ok
}

// ListFactories returns all registered factories sorted by family.
func ListFactories() []AdapterFactory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]AdapterFactory, len(factoryList))
	copy(result, factoryList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Family < result[j].Family
	})
	return result
}

// ListFamilies returns all registered family names.
func ListFamilies() []domain.Family {
	factories := ListFactories()
	families := make([]domain.Family, len(factories))
	for i, f := range factories {
		families[i] = f.Family
	}
	return families
}

// IsRegistered returns true if a family has a factory.
func IsRegistered(family domain.Family) bool {
	_, ok := GetFactory(family)
	return ok
}

// CreateAdapter builds an adapter for cfg using the registered factory.
// An unknown family returns domain.ErrUnsupportedFamily.
func CreateAdapter(cfg domain.ProviderConfig, deps Deps) (ports.Adapter, error) {
	family := cfg.Provider.Family
	f, ok := GetFactory(family)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered families: %v)", domain.ErrUnsupportedFamily, family, ListFamilies())
	}

	// Validate config if validator is provided
	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("%w: provider %s: %v", domain.ErrUnconfiguredProvider, cfg.Provider.Name, err)
		}
	}

	return f.Create(cfg, deps)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[domain.Family]AdapterFactory)
	factoryList = nil
}
