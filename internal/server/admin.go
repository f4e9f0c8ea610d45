package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/discovery"
)

type providerListResponse struct {
	Providers []*domain.Provider `json:"providers"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.svc.Providers.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if providers == nil {
		providers = []*domain.Provider{}
	}
	writeJSON(w, http.StatusOK, providerListResponse{Providers: providers})
}

type createProviderRequest struct {
	Name    string        `json:"name"`
	Family  domain.Family `json:"family"`
	BaseURL string        `json:"base_url,omitempty"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.svc.Providers.Create(r.Context(), req.Name, req.Family, req.BaseURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "provider", req.Name)
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Providers.SoftDelete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertSecretRequest struct {
	Value string `json:"value"`
	// IsSecret defaults to true.
	IsSecret *bool `json:"is_secret,omitempty"`
}

func (s *Server) handleUpsertSecret(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := strings.TrimSpace(chi.URLParam(r, "key"))

	var req upsertSecretRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	isSecret := req.IsSecret == nil || *req.IsSecret

	if err := s.svc.Providers.UpsertSecret(r.Context(), id, key, req.Value, isSecret); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelListResponse struct {
	Models []*domain.Model `json:"models"`
}

// handleListModels lists every model, or one provider's with ?provider_id=.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var providerID int64
	if q := r.URL.Query().Get("provider_id"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil || v < 0 {
			writeError(w, r, fmt.Errorf("%w: bad provider_id %q", domain.ErrInvalidArgument, q))
			return
		}
		providerID = v
	}

	models, err := s.svc.Models.List(r.Context(), providerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if models == nil {
		models = []*domain.Model{}
	}
	writeJSON(w, http.StatusOK, modelListResponse{Models: models})
}

type updateModelRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateModelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, r, fmt.Errorf("%w: is_active is required", domain.ErrInvalidArgument))
		return
	}

	if err := s.svc.Models.SetActive(r.Context(), id, *req.IsActive); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.svc.Models.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.svc.Discovery.Benchmark(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "model", result.ModelID)
	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	Benchmark  bool  `json:"benchmark"`
	Reverify   bool  `json:"reverify"`
	ProviderID int64 `json:"provider_id,omitempty"`
}

// handleSync runs a sync to completion. An empty body syncs and benchmarks
// unverified models of every active provider.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{Benchmark: true}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	report, err := s.svc.Discovery.Sync(r.Context(), discovery.SyncOptions{
		Benchmark:  req.Benchmark,
		Reverify:   req.Reverify,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type setRuleRequest struct {
	Scope    domain.RuleScope `json:"scope"`
	ModuleID string           `json:"module_id,omitempty"`
	ModelRef int64            `json:"model_ref"`
}

func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	var req setRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	scope := domain.RuleScope(strings.ToUpper(string(req.Scope)))

	if err := s.svc.Governance.SetSystemRule(r.Context(), scope, req.ModuleID, req.ModelRef); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPreferenceRequest struct {
	UserID   string `json:"user_id"`
	ModuleID string `json:"module_id"`
	ModelRef int64  `json:"model_ref"`
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req setPreferenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.svc.Governance.SetUserPreference(r.Context(), req.UserID, req.ModuleID, req.ModelRef); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
