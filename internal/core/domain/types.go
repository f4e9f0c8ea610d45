package domain

import (
	"encoding/json"
	"time"
)

// Family identifies the adapter family a provider belongs to.
type Family string

const (
	// FamilyIdentityBound providers authenticate with ambient service
	// credentials and are addressed by project + region.
	FamilyIdentityBound Family = "identity-bound"

	// FamilyKeyBound providers authenticate with a bearer key against an
	// OpenAI-compatible REST endpoint.
	FamilyKeyBound Family = "key-bound"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyIdentityBound || f == FamilyKeyBound
}

// Provider is a named backend integration.
type Provider struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Family    Family     `json:"family" db:"family"`
	BaseURL   string     `json:"base_url,omitempty" db:"base_url"`
	Active    bool       `json:"active" db:"is_active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedBy string     `json:"created_by" db:"created_by"`
	UpdatedBy string     `json:"updated_by" db:"updated_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Deleted reports whether the provider has been soft-deleted.
func (p *Provider) Deleted() bool {
	return p.DeletedAt != nil
}

// SecretEntry is one configuration key of a provider. When IsSecret is set
// Value holds a vault blob, never the plaintext.
type SecretEntry struct {
	ProviderID int64     `json:"provider_id" db:"provider_id"`
	Key        string    `json:"key" db:"key_name"`
	Value      string    `json:"-" db:"value"`
	IsSecret   bool      `json:"is_secret" db:"is_secret"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known provider configuration keys.
const (
	ConfigAPIKey    = "api_key"
	ConfigProjectID = "project_id"
	ConfigRegion    = "region"
)

// ProviderConfig is the decrypted view of a provider handed to adapters.
type ProviderConfig struct {
	Provider Provider
	Values   map[string]string
}

// Get returns the configured value for key, or "".
func (c ProviderConfig) Get(key string) string {
	if c.Values == nil {
		return ""
	}
	return c.Values[key]
}

// LatencyTier classifies a model by measured round-trip time.
type LatencyTier string

const (
	TierFast     LatencyTier = "fast"
	TierBalanced LatencyTier = "balanced"
	TierComplex  LatencyTier = "complex"
)

// ClassifyLatency maps a round-trip time in milliseconds to a tier.
func ClassifyLatency(ms int64) LatencyTier {
	switch {
	case ms < 500:
		return TierFast
	case ms < 2000:
		return TierBalanced
	default:
		return TierComplex
	}
}

// Model is an individually addressable generation endpoint under a provider.
type Model struct {
	ID             int64       `json:"id" db:"id"`
	ProviderID     int64       `json:"provider_id" db:"provider_id"`
	ModelID        string      `json:"model_id" db:"model_id"`
	DisplayName    string      `json:"display_name" db:"display_name"`
	Description    string      `json:"description" db:"description"`
	Tier           LatencyTier `json:"latency_tier" db:"latency_tier"`
	InputCost      float64     `json:"input_cost" db:"input_cost"`
	OutputCost     float64     `json:"output_cost" db:"output_cost"`
	Capabilities   []string    `json:"capabilities" db:"-"`
	IsRecommended  bool        `json:"is_recommended" db:"is_recommended"`
	IsActive       bool        `json:"is_active" db:"is_active"`
	LastLatencyMs  *int64      `json:"last_latency_ms,omitempty" db:"last_latency_ms"`
	LastVerifiedAt *time.Time  `json:"last_verified_at,omitempty" db:"last_verified_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Verified reports whether the model has ever passed a probe.
func (m *Model) Verified() bool {
	return m.LastVerifiedAt != nil
}

// ModelRef is a model joined to its owning provider.
type ModelRef struct {
	ModelRowID   int64  `json:"model_ref" db:"model_row_id"`
	ModelID      string `json:"model_id" db:"model_id"`
	ProviderID   int64  `json:"provider_id" db:"provider_id"`
	ProviderName string `json:"provider" db:"provider_name"`
	Family       Family `json:"family" db:"family"`
}

// RuleScope is the scope of an administrator-set default.
type RuleScope string

const (
	ScopeGlobal RuleScope = "GLOBAL"
	ScopeModule RuleScope = "MODULE"
)

// GlobalModule is the module key GLOBAL system rules are stored under.
const GlobalModule = "*"

// AllModules is the reserved module id for a user's global override.
const AllModules = "all"

// SystemRule maps (scope, module) to a model.
type SystemRule struct {
	Scope     RuleScope `json:"scope" db:"scope"`
	ModuleID  string    `json:"module_id" db:"module_id"`
	ModelRef  int64     `json:"model_ref" db:"model_ref"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserPreference maps (user, module) to a model.
type UserPreference struct {
	UserID    string    `json:"user_id" db:"user_id"`
	ModuleID  string    `json:"module_id" db:"module_id"`
	ModelRef  int64     `json:"model_ref" db:"model_ref"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Source tags the precedence tier a resolution came from.
type Source string

const (
	SourceRuntimeOverride      Source = "runtime_override"
	SourceUserModulePreference Source = "user_module_preference"
	SourceUserGlobalPreference Source = "user_global_preference"
	SourceSystemModuleDefault  Source = "system_module_default"
	SourceSystemGlobalDefault  Source = "system_global_default"
	SourceFailSafe             Source = "fail_safe"
)

// Resolution is the outcome of governance resolution. It is never persisted.
type Resolution struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Source   Source `json:"source"`
}

// Caller identifies the feature module and user a request is made for.
// Override, when set, names a model identifier that takes precedence.
type Caller struct {
	ModuleID string `json:"module_id"`
	UserID   string `json:"user_id"`
	Override string `json:"override,omitempty"`
}

// AuditEvent is one append-only record of an administrative mutation.
type AuditEvent struct {
	Actor        string    `json:"actor" db:"actor"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Detail       string    `json:"detail" db:"detail"`
	Timestamp    time.Time `json:"timestamp" db:"created_at"`
}

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is the family-neutral request handed to an adapter.
type GenerationRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Temperature  *float32  `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	TopP         *float32  `json:"top_p,omitempty"`
	TopK         *int      `json:"top_k,omitempty"`
}

// Usage is token accounting for one generation. Estimated is set when the
// backend omitted usage and the counts were inferred locally.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	StopReason       string `json:"stop_reason,omitempty"`
	Estimated        bool   `json:"estimated"`
}

// Result is the normalized reply of any adapter.
type Result struct {
	Content    string          `json:"content"`
	StopReason string          `json:"stop_reason,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// DiscoveredModel is one entry of a backend's live model listing.
type DiscoveredModel struct {
	ID          string
	DisplayName string
	Description string
}

// SeedModel is a well-known model entry from the seed catalog.
type SeedModel struct {
	ID           string      `koanf:"id" yaml:"id"`
	DisplayName  string      `koanf:"display_name" yaml:"display_name"`
	Description  string      `koanf:"description" yaml:"description"`
	Tier         LatencyTier `koanf:"tier" yaml:"tier"`
	InputCost    float64     `koanf:"input_cost" yaml:"input_cost"`
	OutputCost   float64     `koanf:"output_cost" yaml:"output_cost"`
	Capabilities []string    `koanf:"capabilities" yaml:"capabilities"`
	Recommended  bool        `koanf:"recommended" yaml:"recommended"`
}

// BenchmarkResult reports one on-demand probe. LatencyMs is -1 on failure.
type BenchmarkResult struct {
	ModelRowID int64       `json:"model_ref"`
	ModelID    string      `json:"model_id"`
	LatencyMs  int64       `json:"latency_ms"`
	Tier       LatencyTier `json:"latency_tier,omitempty"`
	Error      string      `json:"error,omitempty"`
}
