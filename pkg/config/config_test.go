package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/steer/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Threshold != 0.85 {
		t.Errorf("expected 0.85 threshold, got %v", cfg.Cache.Threshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
listen: ":9090"
database:
  driver: postgres
  dsn: postgres://steer@localhost/steer
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
  - name: anthropic
    url: https://api.anthropic.com
    type: anthropic
models:
  - provider: openai
    model: gpt-3.5-turbo
    cost_per_1k: 0.002
    latency: 800ms
    general_purpose: true
router:
  daily_ceiling: 25
  rules:
    - id: long-reasoning
      name: Long reasoning prompts
      tag: complex_reasoning
      priority: 10
      enabled: true
      conditions:
        - field: prompt_length
          operator: greater_than
          value: 500
        - field: context.task_type
          operator: equals
          value: reasoning
      action:
        provider: anthropic
        model: claude-3-opus
cache:
  backend: redis
  ttl: 30m
  redis:
    addr: localhost:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Prefix != "semantic_cache" {
		t.Errorf("expected default prefix to survive, got %q", cfg.Cache.Prefix)
	}
	if cfg.Models[0].Latency != 800*time.Millisecond {
		t.Errorf("expected 800ms latency, got %v", cfg.Models[0].Latency)
	}
	if len(cfg.Router.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(cfg.Router.Rules))
	}
	rule := cfg.Router.Rules[0]
	if rule.Conditions[0].Operator != models.OpGreaterThan {
		t.Errorf("expected greater_than, got %v", rule.Conditions[0].Operator)
	}
	if rule.Action.Model != "claude-3-opus" {
		t.Errorf("expected claude-3-opus, got %s", rule.Action.Model)
	}
	if p, ok := cfg.Provider("anthropic"); !ok || p.Type != "anthropic" {
		t.Errorf("anthropic provider not resolved: %+v", p)
	}
}

func TestLoadRejectsUnknownOperator(t *testing.T) {
	path := writeConfig(t, `
router:
  rules:
    - id: bad
      conditions:
        - field: prompt
          operator: matches
          value: x
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown operator") {
		t.Fatalf("expected unknown operator error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"rules source", func(c *Config) { c.Router.RulesSource = "etcd" }},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", URL: "http://a"}, {Name: "a", URL: "http://b"}}
		}},
		{"provider type", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", URL: "http://a", Type: "cohere"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
}
