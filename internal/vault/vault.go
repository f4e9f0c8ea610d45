// Package vault encrypts provider secrets at rest with AES-256-GCM.
//
// A blob is base64(nonce) + ":" + base64(ciphertext||tag). Values without
// the separator are treated as legacy plaintext and returned unchanged.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// Separator joins the encoded nonce and ciphertext.
	Separator = ":"

	// DecryptionFailed is returned in place of the plaintext when a blob
	// cannot be authenticated.
	DecryptionFailed = "[DECRYPTION_FAILED]"
)

// ErrKeyRequired is returned by NewFromConfig when no key is configured
// and ephemeral keys are disallowed.
var ErrKeyRequired = errors.New("vault: key required")

// DecryptError reports a blob that failed to decode or authenticate.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("vault: decryption failed: %v", e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Vault holds the process-wide key. It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New returns a Vault for a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders key the way vault.key expects it.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// NewFromConfig builds a Vault from the base64 key in cfg. When the key is
// empty an ephemeral key is generated and a warning is logged, unless
// cfg.RequireKey is set.
func NewFromConfig(cfg config.VaultConfig, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Key == "" {
		if cfg.RequireKey {
			return nil, ErrKeyRequired
		}
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		logger.Warn("vault key not configured, using an ephemeral key; stored secrets will be unreadable after restart",
			"hint", "set vault.key or GOV_VAULT__KEY (generate one with keygen)")
		return New(key)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	return New(key)
}

// Encrypt seals plaintext under a fresh 96-bit nonce. The empty string
// encrypts to the empty string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(nonce) + Separator +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Input without a separator is
// returned unchanged. On failure it returns DecryptionFailed and a
// *DecryptError.
func (v *Vault) Decrypt(blob string) (string, error) {
	nonceB64, sealedB64, ok := strings.Cut(blob, Separator)
	if !ok {
		return blob, nil
	}

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return DecryptionFailed, &DecryptError{Err: fmt.Errorf("nonce: %w", err)}
	}
	if len(nonce) != v.aead.NonceSize() {
		return DecryptionFailed, &DecryptError{Err: fmt.Errorf("nonce is %d bytes", len(nonce))}
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return DecryptionFailed, &DecryptError{Err: fmt.Errorf("ciphertext: %w", err)}
	}

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return DecryptionFailed, &DecryptError{Err: err}
	}
	return string(plaintext), nil
}
