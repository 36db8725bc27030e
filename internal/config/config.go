// Package config loads and validates service configuration from YAML
// or JSON5 files with environment variable expansion.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Inventory     InventoryConfig     `yaml:"inventory"`
	LLM           LLMConfig           `yaml:"llm"`
	Session       SessionConfig       `yaml:"session"`
	Approval      ApprovalConfig      `yaml:"approval"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig configures request authentication. An empty JWTSecret
// disables JWT validation; the inventory credential alone gates
// access.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// InventoryConfig points at the inventory API.
type InventoryConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	MaxTokens    int    `yaml:"max_tokens"`
	MaxRounds    int    `yaml:"max_rounds"`
	SystemPrompt string `yaml:"system_prompt"`

	// CapabilityTTL bounds how long negotiated model capabilities are
	// cached.
	CapabilityTTL time.Duration `yaml:"capability_ttl"`

	// UnsafeSkipCapabilityChecks disables the pre-dispatch capability
	// gate. Requests the model cannot serve fail at the provider
	// instead of locally.
	UnsafeSkipCapabilityChecks bool `yaml:"unsafe_skip_capability_checks"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MaxHistory caps how many stored messages are replayed to the
	// model per round.
	MaxHistory int `yaml:"max_history"`
}

// ApprovalConfig controls pending approval lifetime.
type ApprovalConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ToolsConfig controls catalog behavior.
type ToolsConfig struct {
	// SchemaTTL bounds the exported schema cache.
	SchemaTTL time.Duration `yaml:"schema_ttl"`

	// CredentialParam, when set, is injected into every exported tool
	// schema as an optional per-call credential override.
	CredentialParam string `yaml:"credential_param"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// DisableMetrics turns off the Prometheus registry and the
	// /metrics endpoint. Metrics are on by default.
	DisableMetrics bool    `yaml:"disable_metrics"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
	Environment    string  `yaml:"environment"`
}

// Default returns a config with sensible development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8487,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Inventory: InventoryConfig{
			Timeout:          15 * time.Second,
			MaxResponseBytes: 4 << 20,
		},
		LLM: LLMConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-20250514",
			MaxTokens:     4096,
			MaxRounds:     8,
			CapabilityTTL: 10 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			MaxHistory:    50,
		},
		Approval: ApprovalConfig{
			TTL: 5 * time.Minute,
		},
		Tools: ToolsConfig{
			SchemaTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for operator mistakes.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	if c.Inventory.BaseURL == "" {
		problems = append(problems, "inventory.base_url is required")
	} else if u, err := url.Parse(c.Inventory.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("inventory.base_url %q must be an http(s) URL", c.Inventory.BaseURL))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		problems = append(problems, "llm.provider is required")
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	if c.LLM.Model == "" {
		problems = append(problems, "llm.model is required")
	}
	if c.LLM.MaxRounds < 1 {
		problems = append(problems, "llm.max_rounds must be at least 1")
	}

	if c.Session.TTL <= 0 {
		problems = append(problems, "session.ttl must be positive")
	}
	if c.Approval.TTL <= 0 {
		problems = append(problems, "approval.ttl must be positive")
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
