package keybound

import (
	"errors"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider/registry"
)

// RegisterFactory registers the key-bound family with the adapter registry.
func RegisterFactory() {
	if registry.IsRegistered(domain.FamilyKeyBound) {
		return
	}
	registry.RegisterFactory(registry.AdapterFactory{
		Family:         domain.FamilyKeyBound,
		Description:    "OpenAI-compatible REST backend with bearer key",
		Create:         CreateFromConfig,
		ValidateConfig: ValidateConfig,
	})
}

// CreateFromConfig creates a key-bound adapter from decrypted provider config.
func CreateFromConfig(cfg domain.ProviderConfig, deps registry.Deps) (ports.Adapter, error) {
	var opts []Option
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.Provider.BaseURL))
	}
	if deps.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(deps.HTTPClient))
	}
	return New(cfg.Provider.Name, cfg.Get(domain.ConfigAPIKey), opts...), nil
}

// ValidateConfig requires an API key.
func ValidateConfig(cfg domain.ProviderConfig) error {
	if cfg.Get(domain.ConfigAPIKey) == "" {
		return errors.New("api_key is not configured")
	}
	return nil
}
