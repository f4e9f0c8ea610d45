package server

import (
	"errors"
	"net/http"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var caller domain.Caller
	if err := decodeJSON(w, r, &caller); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Governance.Resolve(r.Context(), caller.ModuleID, caller.UserID, caller.Override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "source", string(res.Source))
	writeJSON(w, http.StatusOK, res)
}

type generateRequest struct {
	domain.Caller
	Messages     []domain.Message `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Temperature  *float32         `json:"temperature,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	TopP         *float32         `json:"top_p,omitempty"`
	TopK         *int             `json:"top_k,omitempty"`
}

type generateResponse struct {
	Resolution domain.Resolution `json:"resolution"`
	Result     *domain.Result    `json:"result"`
}

type failureResponse struct {
	Resolution domain.Resolution `json:"resolution"`
	Failure    domain.Failure    `json:"failure"`
}

// handleGenerate resolves the caller and dispatches. Dispatch failures
// render as a failure object with a non-2xx status, never as content.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, result, err := s.svc.Generator.Generate(r.Context(), req.Caller, &domain.GenerationRequest{
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		TopP:         req.TopP,
		TopK:         req.TopK,
	})
	AddLogField(r.Context(), "provider", res.Provider)
	AddLogField(r.Context(), "model", res.Model)

	var dispatchErr *domain.DispatchError
	switch {
	case errors.As(err, &dispatchErr):
		AddError(r.Context(), err)
		writeJSON(w, dispatchErr.HTTPStatusCode(), failureResponse{
			Resolution: res,
			Failure:    dispatchErr.Failure(),
		})
	case err != nil:
		writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, generateResponse{Resolution: res, Result: result})
	}
}
