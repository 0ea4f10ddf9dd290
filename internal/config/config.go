// Package config provides the configuration schema, loader, and provider
// registry for the coaching pipeline kernel.
package config

// Config is the root configuration structure for the kernel. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Policy    PolicyConfig    `yaml:"policy"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Auth      AuthConfig      `yaml:"auth"`
	Memory    MemoryConfig    `yaml:"memory"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM                  ProviderEntry `yaml:"llm"`
	LLMBackup            ProviderEntry `yaml:"llm_backup"`
	TriageModel          string        `yaml:"triage_model_id"`
	AssessmentBackup     ProviderEntry `yaml:"assessment_backup"`
	STT                  ProviderEntry `yaml:"stt"`
	TTS                  ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anyllm", "anthropic", "whisper", "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig controls the kernel's default behavior and per-enricher
// gates, per spec.md §6.3's configuration surface.
type PipelineConfig struct {
	// Mode is the default pipeline behavior when the socket does not
	// override it. Valid values: "fast", "accurate", "accurate_filler".
	Mode string `yaml:"pipeline_mode"`

	// AssessmentEnabled gates the assessment stage.
	AssessmentEnabled bool `yaml:"assessment_enabled"`

	// BetaModeEnabled gates beta-only behavior.
	BetaModeEnabled bool `yaml:"beta_mode_enabled"`

	// ChatPromptVersion selects the system prompt variant ("v1" or "v2").
	ChatPromptVersion string `yaml:"chat_prompt_version"`

	// Enrichers toggles each context enricher individually.
	Enrichers EnricherConfig `yaml:"enrichers"`
}

// EnricherConfig gates each context-assembly enricher independently.
type EnricherConfig struct {
	ProfileEnabled      bool `yaml:"context_enricher_profile_enabled"`
	SummaryEnabled      bool `yaml:"context_enricher_summary_enabled"`
	MetaSummaryEnabled  bool `yaml:"context_enricher_meta_summary_enabled"`
	SkillsEnabled       bool `yaml:"context_enricher_skills_enabled"`
	PhoneticEnabled     bool `yaml:"context_enricher_phonetic_enabled"`
}

// PolicyConfig parameterizes the PolicyGateway.
type PolicyConfig struct {
	GatewayEnabled      bool   `yaml:"policy_gateway_enabled"`
	LLMMaxTokens        int    `yaml:"policy_llm_max_tokens"`
	MaxPromptTokens     int    `yaml:"policy_max_prompt_tokens"`
	MaxRunsPerMinute    int    `yaml:"policy_max_runs_per_minute"`
	AllowlistUsers      []string `yaml:"policy_allowlist_users"`
	AllowlistOrgs       []string `yaml:"policy_allowlist_orgs"`
	IntentRulesJSON     string `yaml:"policy_intent_rules_json"`
}

// GuardrailsConfig parameterizes the guardrails stage, including test-only
// force overrides used by deterministic scenario tests.
//
// ForceDecision and ForceReason are pointers rather than plain strings so
// "not set" (nil) is distinguishable from an explicit empty override; they
// are never consulted when Enabled is false, regardless of their value.
type GuardrailsConfig struct {
	Enabled       bool    `yaml:"guardrails_enabled"`
	ForceDecision *string `yaml:"guardrails_force_decision"`
	ForceReason   *string `yaml:"guardrails_force_reason"`
}

// AuthConfig controls the WorkOS-style organization-membership auth mode.
type AuthConfig struct {
	WorkOSAuthEnabled bool   `yaml:"workos_auth_enabled"`
	WorkOSClientID    string `yaml:"workos_client_id"`
}

// MemoryConfig holds settings for the long-term memory / semantic retrieval
// layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the durable store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension used for the session
	// summary embedding column.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to
// for the agent action surface.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	// Valid values: "stdio", "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for the streamable-http transport.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is "streamable-http".
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
