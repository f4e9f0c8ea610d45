// Package auth validates bearer keys for the administrative surface. Keys are
// configured as SHA-256 hex digests, never in clear text.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

var (
	ErrMissingKey = errors.New("missing Authorization header")
	ErrInvalidKey = errors.New("invalid API key")
)

// Authenticator maps key digests to the actor that owns them.
type Authenticator struct {
	keys map[string]string // keyhash -> actor
}

// NewAuthenticator indexes keys by digest. Digests are lowercased so
// configuration written in either case matches.
func NewAuthenticator(keys []config.AdminKey) *Authenticator {
	a := &Authenticator{keys: make(map[string]string, len(keys))}
	for _, k := range keys {
		a.keys[strings.ToLower(k.KeyHash)] = k.Actor
	}
	return a
}

// Enabled reports whether any key is configured. With no keys the admin
// surface is open.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Validate returns the actor owning apiKey.
func (a *Authenticator) Validate(apiKey string) (string, error) {
	keyHash := HashAPIKey(apiKey)
	for hash, actor := range a.keys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(hash)) == 1 {
			return actor, nil
		}
	}
	return "", ErrInvalidKey
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingKey
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", errors.New("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for configuration.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
