package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-model-governor/internal/pkg/config"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	v, err := New(key)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"sk-test", "with:colon", "ünïcödé", strings.Repeat("x", 4096)} {
		blob, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if blob == plaintext {
			t.Errorf("Encrypt(%q) returned plaintext", plaintext)
		}
		got, err := v.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", plaintext, got)
		}
	}
}

func TestEncrypt_Empty(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.Encrypt("")
	if err != nil || blob != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want empty", blob, err)
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	v := newTestVault(t)
	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
	nonce, _, _ := strings.Cut(a, Separator)
	if len(nonce) != 16 { // base64 of 12 bytes
		t.Errorf("encoded nonce length = %d, want 16", len(nonce))
	}
}

func TestDecrypt_Passthrough(t *testing.T) {
	v := newTestVault(t)
	for _, in := range []string{"", "legacy-plaintext-key"} {
		got, err := v.Decrypt(in)
		if err != nil || got != in {
			t.Errorf("Decrypt(%q) = %q, %v; want passthrough", in, got, err)
		}
	}
}

func TestDecrypt_Failures(t *testing.T) {
	v := newTestVault(t)
	other := newTestVault(t)

	foreign, _ := other.Encrypt("secret")
	own, _ := v.Encrypt("secret")
	nonce, sealed, _ := strings.Cut(own, Separator)
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[0] ^= 0xff
	tampered := nonce + Separator + base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name string
		blob string
	}{
		{"wrong key", foreign},
		{"tampered ciphertext", tampered},
		{"bad nonce encoding", "!!!" + Separator + sealed},
		{"short nonce", "AAAA" + Separator + sealed},
		{"bad ciphertext encoding", nonce + Separator + "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Decrypt(tt.blob)
			if got != DecryptionFailed {
				t.Errorf("Decrypt() = %q, want %q", got, DecryptionFailed)
			}
			var de *DecryptError
			if !errors.As(err, &de) {
				t.Errorf("Decrypt() error = %v, want *DecryptError", err)
			}
		})
	}
}

func TestNew_BadKeyLength(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Error("New() with 16-byte key expected error")
	}
}

func TestNewFromConfig(t *testing.T) {
	key, _ := GenerateKey()

	v, err := NewFromConfig(config.VaultConfig{Key: EncodeKey(key)}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	blob, _ := v.Encrypt("sk")
	same, _ := New(key)
	if got, _ := same.Decrypt(blob); got != "sk" {
		t.Errorf("configured key not used, Decrypt() = %q", got)
	}

	if _, err := NewFromConfig(config.VaultConfig{Key: "not base64!"}, nil); err == nil {
		t.Error("NewFromConfig() with invalid key expected error")
	}

	if _, err := NewFromConfig(config.VaultConfig{RequireKey: true}, nil); !errors.Is(err, ErrKeyRequired) {
		t.Errorf("NewFromConfig() error = %v, want ErrKeyRequired", err)
	}
}

func TestNewFromConfig_EphemeralKeyWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	v, err := NewFromConfig(config.VaultConfig{}, logger)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if v == nil {
		t.Fatal("NewFromConfig() returned nil vault")
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "ephemeral") {
		t.Errorf("expected ephemeral key warning, got %q", buf.String())
	}
}
