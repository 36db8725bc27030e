package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Load reads the config file at path, expands ${ENV} references,
// applies defaults, and validates. Format is chosen by extension:
// .json/.json5 parse as JSON5, everything else as YAML.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes config bytes. pathHint selects the format by
// extension.
func Parse(data []byte, pathHint string) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	raw := map[string]any{}
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		if err := json5.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		decoder := yaml.NewDecoder(strings.NewReader(expanded))
		if err := decoder.Decode(&raw); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("failed to parse config: expected single document")
		}
	}

	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeRaw marshals the raw map back to YAML and decodes it with
// strict field checking, so typos in keys fail loudly.
func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if cfg.Inventory.Timeout == 0 {
		cfg.Inventory.Timeout = defaults.Inventory.Timeout
	}
	if cfg.Inventory.MaxResponseBytes == 0 {
		cfg.Inventory.MaxResponseBytes = defaults.Inventory.MaxResponseBytes
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if cfg.LLM.MaxRounds == 0 {
		cfg.LLM.MaxRounds = defaults.LLM.MaxRounds
	}
	if cfg.LLM.CapabilityTTL == 0 {
		cfg.LLM.CapabilityTTL = defaults.LLM.CapabilityTTL
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = defaults.Session.TTL
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = defaults.Session.SweepInterval
	}
	if cfg.Session.MaxHistory == 0 {
		cfg.Session.MaxHistory = defaults.Session.MaxHistory
	}
	if cfg.Approval.TTL == 0 {
		cfg.Approval.TTL = defaults.Approval.TTL
	}
	if cfg.Tools.SchemaTTL == 0 {
		cfg.Tools.SchemaTTL = defaults.Tools.SchemaTTL
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = defaults.Observability.SamplingRate
	}
}
