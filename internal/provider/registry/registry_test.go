package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

type stubAdapter struct {
	family domain.Family
}

func (s *stubAdapter) Family() domain.Family                          { return s.family }
func (s *stubAdapter) Probe(ctx context.Context, model string) error { return nil }
func (s *stubAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error) {
	return &domain.Result{Content: "ok"}, nil
}
func (s *stubAdapter) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	return nil, ports.ErrListingUnsupported
}

func stubFactory(family domain.Family) AdapterFactory {
	return AdapterFactory{
		Family:      family,
		Description: "stub",
		Create: func(cfg domain.ProviderConfig, deps Deps) (ports.Adapter, error) {
			return &stubAdapter{family: family}, nil
		},
		ValidateConfig: func(cfg domain.ProviderConfig) error {
			if cfg.Get(domain.ConfigAPIKey) == "" {
				return errors.New("api_key is required")
			}
			return nil
		},
	}
}

func TestRegisterAndCreate(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory(domain.FamilyKeyBound))

	if !IsRegistered(domain.FamilyKeyBound) {
		t.Fatal("IsRegistered() = false after RegisterFactory")
	}
	if IsRegistered(domain.FamilyIdentityBound) {
		t.Error("IsRegistered() = true for unregistered family")
	}

	cfg := domain.ProviderConfig{
		Provider: domain.Provider{Name: "acme", Family: domain.FamilyKeyBound},
		Values:   map[string]string{domain.ConfigAPIKey: "sk-test"},
	}
	adapter, err := CreateAdapter(cfg, Deps{})
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	if adapter.Family() != domain.FamilyKeyBound {
		t.Errorf("Family() = %v", adapter.Family())
	}
}

func TestCreateAdapter_Errors(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory(domain.FamilyKeyBound))

	_, err := CreateAdapter(domain.ProviderConfig{Provider: domain.Provider{Family: "carrier-pigeon"}}, Deps{})
	if !errors.Is(err, domain.ErrUnsupportedFamily) {
		t.Errorf("unknown family error = %v, want ErrUnsupportedFamily", err)
	}

	_, err = CreateAdapter(domain.ProviderConfig{Provider: domain.Provider{Name: "acme", Family: domain.FamilyKeyBound}}, Deps{})
	if !errors.Is(err, domain.ErrUnconfiguredProvider) {
		t.Errorf("missing key error = %v, want ErrUnconfiguredProvider", err)
	}
}

func TestRegisterFactory_Duplicate(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory(domain.FamilyKeyBound))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterFactory(stubFactory(domain.FamilyKeyBound))
}

func TestListFamilies(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory(domain.FamilyKeyBound))
	RegisterFactory(stubFactory(domain.FamilyIdentityBound))

	families := ListFamilies()
	if len(families) != 2 || families[0] != domain.FamilyIdentityBound || families[1] != domain.FamilyKeyBound {
		t.Errorf("ListFamilies() = %v", families)
	}
}
