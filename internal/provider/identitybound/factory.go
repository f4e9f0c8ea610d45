package identitybound

import (
	"errors"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider/registry"
)

// RegisterFactory registers the identity-bound family with the adapter
// registry.
func RegisterFactory() {
	if registry.IsRegistered(domain.FamilyIdentityBound) {
		return
	}
	registry.RegisterFactory(registry.AdapterFactory{
		Family:         domain.FamilyIdentityBound,
		Description:    "Vertex AI under ambient credentials, Gemini API key fallback",
		Create:         CreateFromConfig,
		ValidateConfig: ValidateConfig,
	})
}

// CreateFromConfig creates an identity-bound adapter from decrypted provider
// config.
func CreateFromConfig(cfg domain.ProviderConfig, deps registry.Deps) (ports.Adapter, error) {
	opts := []Option{
		WithAPIKey(cfg.Get(domain.ConfigAPIKey)),
		WithProject(cfg.Get(domain.ConfigProjectID), cfg.Get(domain.ConfigRegion)),
		WithHTTPClient(deps.HTTPClient),
	}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.Provider.BaseURL))
	}
	if deps.TokenSource != nil {
		opts = append(opts, WithTokenSource(deps.TokenSource))
	}
	return New(cfg.Provider.Name, opts...), nil
}

// ValidateConfig requires a project or an API key. Project-less ambient use
// still works when the credentials carry a project, but a provider with
// neither key is treated as unconfigured.
func ValidateConfig(cfg domain.ProviderConfig) error {
	if cfg.Get(domain.ConfigProjectID) == "" && cfg.Get(domain.ConfigAPIKey) == "" {
		return errors.New("neither project_id nor api_key is configured")
	}
	return nil
}
