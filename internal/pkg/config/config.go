package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: GOV_VAULT__KEY sets vault.key.
const EnvPrefix = "GOV_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Vault      VaultConfig      `koanf:"vault"`
	Governance GovernanceConfig `koanf:"governance"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	AdminKeys      []AdminKey    `koanf:"admin_keys"` // empty leaves /admin unauthenticated
}

// AdminKey is the SHA-256 hex digest of a bearer key and the actor recorded
// for writes made with it.
type AdminKey struct {
	KeyHash string `koanf:"key_hash"`
	Actor   string `koanf:"actor"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

// VaultConfig carries the base64-encoded 256-bit credential key. An empty
// key generates an ephemeral one unless RequireKey is set.
type VaultConfig struct {
	Key        string `koanf:"key"`
	RequireKey bool   `koanf:"require_key"`
}

type GovernanceConfig struct {
	FailSafeProvider string `koanf:"fail_safe_provider"`
	FailSafeModel    string `koanf:"fail_safe_model"`
	StrictOverride   bool   `koanf:"strict_override"` // reject runtime overrides that match no active model
}

type DiscoveryConfig struct {
	Schedule        string        `koanf:"schedule"` // cron expression; empty disables scheduled sync
	SyncOnStart     bool          `koanf:"sync_on_start"`
	BenchmarkOnSync bool          `koanf:"benchmark_on_sync"`
	ProbeTimeout    time.Duration `koanf:"probe_timeout"`
	Concurrency     int           `koanf:"concurrency"`
	SeedsFile       string        `koanf:"seeds_file"` // optional; the embedded catalog is used when empty
	WatchSeeds      bool          `koanf:"watch_seeds"`
}

type DispatchConfig struct {
	Timeout              time.Duration `koanf:"timeout"`
	BlockPrivateNetworks bool          `koanf:"block_private_networks"` // refuse provider base URLs resolving to private ranges
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":                   8080,
	"server.request_timeout":        "60s",
	"storage.driver":                "sqlite",
	"storage.dsn":                   "file:governor.db",
	"governance.fail_safe_provider": "google-vertex",
	"governance.fail_safe_model":    "gemini-2.0-flash",
	"discovery.schedule":            "0 */6 * * *",
	"discovery.sync_on_start":       true,
	"discovery.benchmark_on_sync":   true,
	"discovery.probe_timeout":       "15s",
	"discovery.concurrency":         4,
	"dispatch.timeout":              "120s",
	"telemetry.service_name":        "polyglot-model-governor",
}

// Load reads config.yaml from the working directory (if present) and
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the config file at path (if present) and applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secret-bearing fields
	cfg.Vault.Key = substituteEnvVars(cfg.Vault.Key)
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
