package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/auth"
	"github.com/tjfontaine/polyglot-model-governor/internal/catalog"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/discovery"
	"github.com/tjfontaine/polyglot-model-governor/internal/governance"
	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
	"github.com/tjfontaine/polyglot-model-governor/internal/provider"
	"github.com/tjfontaine/polyglot-model-governor/internal/registry"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage/memory"
	"github.com/tjfontaine/polyglot-model-governor/internal/vault"
)

type okAdapter struct{}

func (okAdapter) Family() domain.Family { return domain.FamilyKeyBound }
func (okAdapter) Probe(context.Context, string) error { return nil }
func (okAdapter) ListModels(context.Context) ([]domain.DiscoveredModel, error) {
	return nil, ports.ErrListingUnsupported
}
func (okAdapter) Generate(context.Context, *domain.GenerationRequest) (*domain.Result, error) {
	return nil, errors.New("not used")
}

type stubGenerator struct {
	res    domain.Resolution
	result *domain.Result
	err    error
	got    *domain.GenerationRequest
	caller domain.Caller
}

func (g *stubGenerator) Generate(_ context.Context, caller domain.Caller, req *domain.GenerationRequest) (domain.Resolution, *domain.Result, error) {
	g.caller, g.got = caller, req
	return g.res, g.result, g.err
}

type testEnv struct {
	server    *Server
	registry  *registry.Registry
	catalog   *catalog.Catalog
	generator *stubGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	v, err := vault.New(key)
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	store := memory.New()
	reg := registry.New(store, v)
	cat := catalog.New(store)
	engine := discovery.New(reg, cat,
		discovery.WithSeeds(discovery.NewSeedCatalog(discovery.SeedSet{
			domain.FamilyKeyBound: {{ID: "m-fast", Recommended: true}, {ID: "m-other"}},
		})),
		discovery.WithAdapterFactory(func(domain.ProviderConfig, provider.Deps) (ports.Adapter, error) {
			return okAdapter{}, nil
		}))
	gen := &stubGenerator{}

	srv := New(config.ServerConfig{RequestTimeout: 5 * time.Second}, Services{
		Providers:  reg,
		Models:     cat,
		Governance: governance.New(store),
		Discovery:  engine,
		Generator:  gen,
	}, slog.Default())

	return &testEnv{server: srv, registry: reg, catalog: cat, generator: gen}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createProvider(t *testing.T, name string) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/admin/providers", `{"name":"`+name+`","family":"key-bound"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create provider status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decode[idResponse](t, rec).ID
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/providers", `{"name":"acme","family":"key-bound"}`, ActorHeader, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id := decode[idResponse](t, rec).ID
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing X-Request-ID")
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate name", `{"name":"acme","family":"key-bound"}`, http.StatusConflict},
		{"unknown family", `{"name":"other","family":"carrier-pigeon"}`, http.StatusBadRequest},
		{"unknown field", `{"name":"other","family":"key-bound","color":"red"}`, http.StatusBadRequest},
		{"malformed", `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/admin/providers", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	list := decode[providerListResponse](t, env.do(t, http.MethodGet, "/admin/providers", ""))
	if len(list.Providers) != 1 || list.Providers[0].CreatedBy != "alice" {
		t.Fatalf("providers = %+v, want acme created by alice", list.Providers)
	}

	path := "/admin/providers/" + strconv.FormatInt(id, 10)
	if rec := env.do(t, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/admin/providers/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE bad id status = %d, want 400", rec.Code)
	}

	// the name is reusable once the old provider is deleted
	env.createProvider(t, "acme")
}

func TestUpsertSecret(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProvider(t, "acme")
	base := "/admin/providers/" + strconv.FormatInt(id, 10) + "/secrets/"

	if rec := env.do(t, http.MethodPut, base+"api_key", `{"value":"sk-live"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT api_key status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPut, base+"region", `{"value":"us-east1","is_secret":false}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT region status = %d", rec.Code)
	}

	cfg, err := env.registry.FetchConfig(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchConfig() error = %v", err)
	}
	if cfg.Get(domain.ConfigAPIKey) != "sk-live" || cfg.Get(domain.ConfigRegion) != "us-east1" {
		t.Errorf("config = %+v", cfg.Values)
	}

	if rec := env.do(t, http.MethodPut, "/admin/providers/999/secrets/api_key", `{"value":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", rec.Code)
	}
}

func TestModels_SyncToggleBenchmark(t *testing.T) {
	env := newTestEnv(t)
	env.createProvider(t, "acme")

	rec := env.do(t, http.MethodPost, "/admin/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %s", rec.Code, rec.Body.String())
	}
	report := decode[discovery.SyncReport](t, rec)
	if len(report.Providers) != 1 || report.Providers[0].Verified != 2 {
		t.Errorf("sync report = %+v", report)
	}

	models := decode[modelListResponse](t, env.do(t, http.MethodGet, "/admin/models", "")).Models
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	path := "/admin/models/" + strconv.FormatInt(models[0].ID, 10)

	rec = env.do(t, http.MethodPatch, path, `{"is_active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if m := decode[domain.Model](t, rec); m.IsActive {
		t.Error("model still active after PATCH")
	}
	if rec := env.do(t, http.MethodPatch, path, `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("PATCH without is_active status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, path+"/benchmark", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("benchmark status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if res := decode[domain.BenchmarkResult](t, rec); res.LatencyMs < 0 || res.Tier == "" {
		t.Errorf("benchmark = %+v", res)
	}
	if m, _ := env.catalog.Get(context.Background(), models[0].ID); !m.IsActive {
		t.Error("successful benchmark did not reactivate the model")
	}

	if rec := env.do(t, http.MethodGet, "/admin/models?provider_id=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad provider_id status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/admin/models/999/benchmark", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown model benchmark status = %d, want 404", rec.Code)
	}
}

func TestRulesPreferencesResolve(t *testing.T) {
	env := newTestEnv(t)
	env.createProvider(t, "acme")
	if rec := env.do(t, http.MethodPost, "/admin/sync", `{"benchmark":false}`); rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d", rec.Code)
	}
	models := decode[modelListResponse](t, env.do(t, http.MethodGet, "/admin/models?provider_id=1", "")).Models
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	ref := func(i int) string { return strconv.FormatInt(models[i].ID, 10) }

	resolve := func() domain.Resolution {
		t.Helper()
		rec := env.do(t, http.MethodPost, "/v1/resolve", `{"module_id":"chat","user_id":"u1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("resolve status = %d, body = %s", rec.Code, rec.Body.String())
		}
		return decode[domain.Resolution](t, rec)
	}

	if res := resolve(); res.Source != domain.SourceFailSafe {
		t.Errorf("empty governance resolved %+v, want fail-safe", res)
	}

	if rec := env.do(t, http.MethodPut, "/admin/rules", `{"scope":"global","model_ref":`+ref(0)+`}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT rule status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if res := resolve(); res.Source != domain.SourceSystemGlobalDefault || res.Model != models[0].ModelID {
		t.Errorf("resolve = %+v, want global default", res)
	}

	body := `{"user_id":"u1","module_id":"chat","model_ref":` + ref(1) + `}`
	if rec := env.do(t, http.MethodPut, "/admin/preferences", body); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT preference status = %d", rec.Code)
	}
	if res := resolve(); res.Source != domain.SourceUserModulePreference || res.Model != models[1].ModelID {
		t.Errorf("resolve = %+v, want user module preference", res)
	}

	if rec := env.do(t, http.MethodPut, "/admin/rules", `{"scope":"MODULE","model_ref":`+ref(0)+`}`); rec.Code != http.StatusBadRequest {
		t.Errorf("MODULE rule without module status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/admin/rules", `{"scope":"GLOBAL","model_ref":999}`); rec.Code != http.StatusNotFound {
		t.Errorf("rule for unknown model status = %d, want 404", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)
	res := domain.Resolution{Provider: "acme", Model: "m-fast", Source: domain.SourceSystemGlobalDefault}

	t.Run("success", func(t *testing.T) {
		env.generator.res = res
		env.generator.err = nil
		env.generator.result = &domain.Result{
			Content:  "hello",
			Provider: "acme",
			Model:    "m-fast",
			Usage:    &domain.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4, Estimated: true},
		}

		rec := env.do(t, http.MethodPost, "/v1/generate",
			`{"module_id":"chat","user_id":"u1","messages":[{"role":"user","content":"hi"}],"max_tokens":64}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		got := decode[generateResponse](t, rec)
		if got.Result.Content != "hello" || !got.Result.Usage.Estimated || got.Resolution != res {
			t.Errorf("response = %+v", got)
		}
		if env.generator.caller.ModuleID != "chat" || env.generator.got.MaxTokens != 64 || len(env.generator.got.Messages) != 1 {
			t.Errorf("generator saw caller %+v req %+v", env.generator.caller, env.generator.got)
		}
	})

	t.Run("dispatch failure", func(t *testing.T) {
		env.generator.result = nil
		env.generator.err = &domain.DispatchError{
			Kind:     domain.FailureUnconfiguredProvider,
			Provider: "acme",
			Model:    "m-fast",
			Err:      domain.ErrUnconfiguredProvider,
		}

		rec := env.do(t, http.MethodPost, "/v1/generate", `{"module_id":"chat","messages":[{"role":"user","content":"hi"}]}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		got := decode[failureResponse](t, rec)
		if got.Failure.Kind != domain.FailureUnconfiguredProvider || got.Failure.Provider != "acme" {
			t.Errorf("failure = %+v", got.Failure)
		}
		if strings.Contains(rec.Body.String(), `"content"`) {
			t.Error("failure response carries content")
		}
	})

	t.Run("strict override", func(t *testing.T) {
		env.generator.err = domain.ErrUnknownOverride
		rec := env.do(t, http.MethodPost, "/v1/generate", `{"module_id":"chat","override":"nope","messages":[]}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	env := newTestEnv(t)
	const id = "6f1c9a34-2a9e-4c56-9a5b-0d7b7c3f2e11"

	if rec := env.do(t, http.MethodGet, "/healthz", "", RequestIDHeader, id); rec.Header().Get(RequestIDHeader) != id {
		t.Errorf("X-Request-ID = %q, want caller's %q", rec.Header().Get(RequestIDHeader), id)
	}
	if rec := env.do(t, http.MethodGet, "/healthz", "", RequestIDHeader, "not-a-uuid"); rec.Header().Get(RequestIDHeader) == "not-a-uuid" {
		t.Error("invalid caller request ID was echoed")
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	h := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			w.WriteHeader(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want handler to observe cancellation", rec.Code)
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	a := auth.NewAuthenticator([]config.AdminKey{{KeyHash: auth.HashAPIKey("sk-ops"), Actor: "ops"}})
	var actor string
	h := ActorMiddleware(AdminAuthMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = domain.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name      string
		header    string
		wantCode  int
		wantActor string
	}{
		{"no key", "", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer sk-nope", http.StatusUnauthorized, ""},
		{"valid key wins over X-Actor", "Bearer sk-ops", http.StatusNoContent, "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor = ""
			req := httptest.NewRequest(http.MethodGet, "/admin/providers", nil)
			req.Header.Set(ActorHeader, "mallory")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if actor != tt.wantActor {
				t.Errorf("actor = %q, want %q", actor, tt.wantActor)
			}
		})
	}

	open := AdminAuthMiddleware(auth.NewAuthenticator(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/providers", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("unauthenticated status = %d with no keys configured", rec.Code)
	}
}
