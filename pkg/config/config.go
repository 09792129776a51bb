package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/steer/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all steer configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	Log        LogConfig          `yaml:"log"`
	Database   DatabaseConfig     `yaml:"database"`
	Currency   string             `yaml:"currency"`
	Providers  []ProviderConfig   `yaml:"providers"`
	Models     []models.ModelInfo `yaml:"models"`
	Router     RouterConfig       `yaml:"router"`
	Cache      CacheConfig        `yaml:"cache"`
	Resilience ResilienceConfig   `yaml:"resilience"`
	Notify     NotifyConfig       `yaml:"notify"`
	ErrorSink  ErrorSinkConfig    `yaml:"error_sink"`
	Audit      models.AuditConfig `yaml:"audit"`
}

// LogConfig selects the logger encoding and level.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DatabaseConfig locates the relational store for budgets, usage and rules.
// Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouterConfig controls the steering rules engine.
// RulesSource is "config" (rules below) or "database".
type RouterConfig struct {
	DailyCeiling float64               `yaml:"daily_ceiling"`
	RulesSource  string                `yaml:"rules_source"`
	Rules        []models.SteeringRule `yaml:"rules"`
	UseDefaults  bool                  `yaml:"use_default_rules"`
}

// CacheConfig controls the semantic cache.
// Backend is "sqlite" (default) or "redis".
type CacheConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Backend   string          `yaml:"backend"`
	Prefix    string          `yaml:"prefix"`
	TTL       time.Duration   `yaml:"ttl"`
	Threshold float64         `yaml:"similarity_threshold"`
	DBPath    string          `yaml:"db_path"`
	Redis     RedisConfig     `yaml:"redis"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EmbeddingConfig addresses an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ResilienceConfig sets circuit breaker defaults for every dependency.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	HalfOpenSuccess  int           `yaml:"half_open_success"`
}

// NotifyConfig controls where budget alerts are published.
type NotifyConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ErrorSinkConfig addresses the cross-system error correlation endpoint.
type ErrorSinkConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "steer.db"},
		Currency: "USD",
		Router: RouterConfig{
			DailyCeiling: 100,
			RulesSource:  "config",
			UseDefaults:  true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Backend:   "sqlite",
			Prefix:    "semantic_cache",
			TTL:       time.Hour,
			Threshold: 0.85,
			DBPath:    "steer-cache.db",
			Embedding: EmbeddingConfig{Model: "text-embedding-3-small", Timeout: 10 * time.Second},
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenSuccess:  3,
		},
		Notify:    NotifyConfig{Topic: "steer.budget.alerts"},
		ErrorSink: ErrorSinkConfig{Timeout: 5 * time.Second},
		Audit: models.AuditConfig{
			DBPath:        "steer-audit.db",
			RetentionDays: 30,
			MaxPromptSize: 4096,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when set and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects unknown enum values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Router.RulesSource {
	case "config", "database":
	default:
		return fmt.Errorf("config: unknown rules source %q", c.Router.RulesSource)
	}
	if c.Cache.Threshold < -1 || c.Cache.Threshold > 1 {
		return fmt.Errorf("config: similarity_threshold must be within [-1, 1]")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("config: provider requires name and url")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			return fmt.Errorf("config: provider %q has unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
