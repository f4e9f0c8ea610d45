package server

import (
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-model-governor/internal/auth"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// ActorHeader names the principal performing an administrative action.
const ActorHeader = "X-Actor"

// ActorMiddleware attaches the X-Actor header to the request context so
// registry and governance writes record who made them. Requests without the
// header act as domain.SystemActor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			next.ServeHTTP(w, r)
			return
		}
		AddLogField(r.Context(), "actor", actor)
		next.ServeHTTP(w, r.WithContext(domain.WithActor(r.Context(), actor)))
	})
}

// AdminAuthMiddleware requires a configured bearer key when a is enabled.
// The key's actor replaces any X-Actor header so audit records cannot be
// spoofed by an authenticated caller.
func AdminAuthMiddleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := auth.ExtractAPIKey(r)
			if err == nil {
				var actor string
				actor, err = a.Validate(key)
				if err == nil {
					AddLogField(r.Context(), "actor", actor)
					next.ServeHTTP(w, r.WithContext(domain.WithActor(r.Context(), actor)))
					return
				}
			}
			AddError(r.Context(), err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Type: "unauthorized", Message: err.Error()}})
		})
	}
}
