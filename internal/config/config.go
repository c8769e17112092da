// Package config loads claude-mem's settings.json (or YAML-equivalent)
// configuration, grounded on internal/config/config.go's approach: a
// single Config struct decoded with yaml.v3's KnownFields(true) so an
// unrecognized key fails loud, environment-variable overrides applied on
// top, then field defaults, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is claude-mem's full configuration surface (spec.md §6's
// "non-exhaustive" key list plus the modes directory and periodic
// maintenance settings SPEC_FULL.md §6 adds).
type Config struct {
	// Version is the settings.json schema version (version.go). A config
	// written without one is treated as version 0 and upgraded to
	// CurrentVersion in place rather than rejected, since every other
	// field here already has a sensible zero-value default.
	Version int    `yaml:"version"`
	DataDir string `yaml:"data_dir"`

	Server          ServerConfig          `yaml:"server"`
	LLM             LLMConfig             `yaml:"llm"`
	VectorIndex     VectorIndexConfig     `yaml:"vector_index"`
	Agents          AgentsConfig          `yaml:"agents"`
	Search          SearchConfig          `yaml:"search"`
	ProjectIdentity ProjectIdentityConfig `yaml:"project_identity"`
	Tools           ToolsConfig           `yaml:"tools"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	Logging         LoggingConfig         `yaml:"logging"`
	Maintenance     MaintenanceConfig     `yaml:"maintenance"`
}

// ServerConfig is the HTTPRouter's bind address (spec.md §6: "Default bind
// 127.0.0.1:37777; listen address overridable by environment/config").
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig selects the primary/fallback providers and per-provider
// tuning, grounded on internal/config/config_llm.go's LLMConfig/
// LLMProviderConfig shape, narrowed to the four providers internal/llm
// implements.
type LLMConfig struct {
	Primary        string                       `yaml:"primary"`
	Fallback       string                       `yaml:"fallback"`
	Providers      map[string]LLMProviderConfig `yaml:"providers"`
	CircuitBreaker LLMCircuitBreakerConfig      `yaml:"circuit_breaker"`
}

// LLMProviderConfig configures one provider entry. Not every field
// applies to every provider (e.g. Ollama ignores APIKey); cmd/claude-mem
// reads only the fields the selected provider's constructor needs.
type LLMProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	DefaultModel   string `yaml:"default_model"`
	MaxTokens      int    `yaml:"max_tokens"`
	MaxMessages    int    `yaml:"max_messages"`
	MaxEstTokens   int    `yaml:"max_est_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LLMCircuitBreakerConfig mirrors internal/llm.CircuitBreakerConfig.
type LLMCircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	OpenDurationSecs int `yaml:"open_duration_seconds"`
}

// VectorIndexConfig selects and configures the VectorIndex backend,
// mirroring internal/vectorindex.Config/HTTPConfig/EmbeddedConfig/
// EmbedderConfig one-for-one so cmd/claude-mem can translate this
// directly into that package's types.
type VectorIndexConfig struct {
	Mode      string         `yaml:"mode"` // auto|http|embedded|disabled
	URL       string         `yaml:"url"`
	Dimension int            `yaml:"dimension"`
	Metric    string         `yaml:"metric"`
	Path      string         `yaml:"path"`
	Embedder  EmbedderConfig `yaml:"embedder"`
}

// EmbedderConfig mirrors internal/vectorindex.EmbedderConfig.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"` // openai|ollama
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

// AgentsConfig tunes AgentRegistry, mirroring internal/agentregistry.Config.
type AgentsConfig struct {
	KeyExpiryDays     int `yaml:"key_expiry_days"`
	LockoutSeconds    int `yaml:"lockout_seconds"`
	MaxFailedAttempts int `yaml:"max_failed_attempts"`
}

// SearchConfig tunes SearchEngine defaults.
type SearchConfig struct {
	RecencyDays int `yaml:"recency_days"` // 0 = unlimited
}

// ProjectIdentityConfig configures git-remote resolution order (spec.md
// §6: "git-remote preference order (comma-separated)").
type ProjectIdentityConfig struct {
	RemoteOrder []string `yaml:"remote_order"`
}

// ToolsConfig lists tool_use names observations are never recorded for.
type ToolsConfig struct {
	SkipTools []string `yaml:"skip_tools"`
}

// RateLimitConfig tunes the two unauthenticated endpoints, mirroring
// internal/ratelimit.Config per bucket.
type RateLimitConfig struct {
	Register RateLimitRule `yaml:"register"`
	Verify   RateLimitRule `yaml:"verify"`
}

type RateLimitRule struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// LoggingConfig configures the daily-rotating log file SPEC_FULL.md §6
// adds (internal/observability.Logger's Output), plus the structured
// logger's minimum level.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// MaintenanceConfig tunes the periodic reaper SPEC_FULL.md's
// SUPPLEMENTED FEATURES section adds.
type MaintenanceConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	StaleProcessingSecs int `yaml:"stale_processing_seconds"`
	AliasMaxAgeDays     int `yaml:"alias_max_age_days"`
}

// Load reads path (YAML, or JSON/JSON5 by extension, matching
// internal/config/loader.go's format dispatch), resolves $include
// directives, applies environment overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 37777
	}

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if cfg.LLM.CircuitBreaker.FailureThreshold == 0 {
		cfg.LLM.CircuitBreaker.FailureThreshold = 3
	}
	if cfg.LLM.CircuitBreaker.OpenDurationSecs == 0 {
		cfg.LLM.CircuitBreaker.OpenDurationSecs = 30
	}

	if cfg.VectorIndex.Mode == "" {
		cfg.VectorIndex.Mode = "auto"
	}
	if cfg.VectorIndex.Metric == "" {
		cfg.VectorIndex.Metric = "cosine"
	}
	if cfg.VectorIndex.Path == "" {
		cfg.VectorIndex.Path = cfg.DataDir + "/vector-db/index.db"
	}

	if cfg.Agents.KeyExpiryDays == 0 {
		cfg.Agents.KeyExpiryDays = 90
	}
	if cfg.Agents.LockoutSeconds == 0 {
		cfg.Agents.LockoutSeconds = 900
	}
	if cfg.Agents.MaxFailedAttempts == 0 {
		cfg.Agents.MaxFailedAttempts = 5
	}

	if len(cfg.ProjectIdentity.RemoteOrder) == 0 {
		cfg.ProjectIdentity.RemoteOrder = []string{"origin", "upstream"}
	}

	if cfg.RateLimit.Register.RequestsPerSecond == 0 {
		cfg.RateLimit.Register = RateLimitRule{RequestsPerSecond: 1, BurstSize: 5}
	}
	if cfg.RateLimit.Verify.RequestsPerSecond == 0 {
		cfg.RateLimit.Verify = RateLimitRule{RequestsPerSecond: 5, BurstSize: 20}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = cfg.DataDir + "/logs"
	}

	if cfg.Maintenance.IntervalSeconds == 0 {
		cfg.Maintenance.IntervalSeconds = 300
	}
	if cfg.Maintenance.StaleProcessingSecs == 0 {
		cfg.Maintenance.StaleProcessingSecs = 600
	}
	if cfg.Maintenance.AliasMaxAgeDays == 0 {
		cfg.Maintenance.AliasMaxAgeDays = 365
	}
}

// applyEnvOverrides implements spec.md §6's "every key is overridable via
// an environment variable of the same name" for the handful of keys an
// operator most often needs to override without editing settings.json,
// following internal/config/config.go's applyEnvOverrides pattern (one
// explicit os.Getenv check per key, parsed into the field's type).
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_LLM_PRIMARY")); v != "" {
		cfg.LLM.Primary = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_LLM_FALLBACK")); v != "" {
		cfg.LLM.Fallback = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_VECTOR_INDEX_MODE")); v != "" {
		cfg.VectorIndex.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_VECTOR_INDEX_URL")); v != "" {
		cfg.VectorIndex.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_SEARCH_RECENCY_DAYS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Search.RecencyDays = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_REMOTE_ORDER")); v != "" {
		cfg.ProjectIdentity.RemoteOrder = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_SKIP_TOOLS")); v != "" {
		cfg.Tools.SkipTools = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MEM_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// ConfigValidationError collects every problem found in one Load call,
// following internal/config/config.go's ConfigValidationError: operators
// fix all of settings.json in one pass instead of one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

var validVectorModes = map[string]bool{"auto": true, "http": true, "embedded": true, "disabled": true}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if !validVectorModes[cfg.VectorIndex.Mode] {
		issues = append(issues, fmt.Sprintf("vector_index.mode must be one of auto|http|embedded|disabled, got %q", cfg.VectorIndex.Mode))
	}
	if cfg.VectorIndex.Mode == "http" && strings.TrimSpace(cfg.VectorIndex.URL) == "" {
		issues = append(issues, "vector_index.url is required when vector_index.mode is \"http\"")
	}
	if cfg.LLM.Primary != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Primary]; !ok {
			issues = append(issues, fmt.Sprintf("llm.primary %q has no matching entry under llm.providers", cfg.LLM.Primary))
		}
	}
	if cfg.LLM.Fallback != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Fallback]; !ok {
			issues = append(issues, fmt.Sprintf("llm.fallback %q has no matching entry under llm.providers", cfg.LLM.Fallback))
		}
	}
	if cfg.Agents.MaxFailedAttempts <= 0 {
		issues = append(issues, "agents.max_failed_attempts must be positive")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ConfigValidationError{Issues: issues}
}

// CircuitBreakerDuration converts LLMCircuitBreakerConfig's seconds field
// into a time.Duration for internal/llm.CircuitBreakerConfig.
func (c LLMCircuitBreakerConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenDurationSecs) * time.Second
}
