package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
inventory:
  base_url: http://inventory.local:7745
llm:
  api_key: test-key
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), "boxbot.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.Port != 8487 {
		t.Errorf("port = %d, want default 8487", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want default anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxRounds != 8 {
		t.Errorf("max_rounds = %d, want default 8", cfg.LLM.MaxRounds)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("session ttl = %v, want 30m", cfg.Session.TTL)
	}
	if cfg.Session.MaxHistory != 50 {
		t.Errorf("session max_history = %d, want default 50", cfg.Session.MaxHistory)
	}
	if cfg.Approval.TTL != 5*time.Minute {
		t.Errorf("approval ttl = %v, want 5m", cfg.Approval.TTL)
	}
	if cfg.Observability.DisableMetrics {
		t.Error("metrics disabled by default")
	}
	if cfg.Observability.SamplingRate != 1.0 {
		t.Errorf("sampling rate = %v, want 1.0", cfg.Observability.SamplingRate)
	}
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("BOXBOT_TEST_KEY", "sk-from-env")
	raw := `
inventory:
  base_url: http://inventory.local:7745
llm:
  api_key: ${BOXBOT_TEST_KEY}
`
	cfg, err := Parse([]byte(raw), "boxbot.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want expanded env value", cfg.LLM.APIKey)
	}
}

func TestParseJSON5(t *testing.T) {
	raw := `{
		// comments are allowed
		inventory: {base_url: "http://inventory.local:7745"},
		llm: {api_key: "test-key", provider: "openai", model: "gpt-4o"},
	}`
	cfg, err := Parse([]byte(raw), "boxbot.json5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	raw := minimalYAML + `
sessoin:
  ttl: 1h
`
	if _, err := Parse([]byte(raw), "boxbot.yaml"); err == nil {
		t.Error("Parse accepted a misspelled section")
	}
}

func TestParseRejectsMultipleDocuments(t *testing.T) {
	raw := minimalYAML + "\n---\nother: doc\n"
	if _, err := Parse([]byte(raw), "boxbot.yaml"); err == nil {
		t.Error("Parse accepted a multi-document stream")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"missing inventory url", func(c *Config) { c.Inventory.BaseURL = "" }, "inventory.base_url"},
		{"bad inventory scheme", func(c *Config) { c.Inventory.BaseURL = "ftp://x" }, "http(s)"},
		{"unsupported provider", func(c *Config) { c.LLM.Provider = "cohere" }, "not supported"},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "api_key"},
		{"zero rounds", func(c *Config) { c.LLM.MaxRounds = 0 }, "max_rounds"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Inventory.BaseURL = "http://inventory.local:7745"
			cfg.LLM.APIKey = "test-key"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("error = %v, want mention of %q", err, tt.problem)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = ""
	cfg.Inventory.BaseURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	if !strings.Contains(err.Error(), "api_key") || !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error = %v, want both problems reported", err)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxbot.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Inventory.BaseURL != "http://inventory.local:7745" {
		t.Errorf("base_url = %q", cfg.Inventory.BaseURL)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
	if _, err := Load(""); err == nil {
		t.Error("Load succeeded for an empty path")
	}
}

func TestServerAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", got)
	}
}
