package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/shopkeep/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all shopkeep configuration.
type Config struct {
	Listen     string            `yaml:"listen" validate:"required"`
	LogLevel   string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DBPath     string            `yaml:"db_path" validate:"required"`
	Cache      CacheConfig       `yaml:"cache"`
	Transports []TransportConfig `yaml:"transports" validate:"dive"`
	Router     RouterConfig      `yaml:"router"`
	Retry      RetryConfig       `yaml:"retry"`
	Auth       AuthConfig        `yaml:"auth"`
	Messaging  MessagingConfig   `yaml:"messaging"`
	Quota      QuotaConfig       `yaml:"quota"`
	Proxy      ProxyConfig       `yaml:"proxy"`
	Mirror     MirrorConfig      `yaml:"mirror"`
}

// CacheConfig controls the expiring local cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend" validate:"omitempty,oneof=sqlite memory"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// TransportConfig defines one way of reaching an origin service.
// Type is "direct" (default) or "proxy"; proxy transports wrap every
// request in the local proxy envelope.
type TransportConfig struct {
	Name    string            `yaml:"name" validate:"required"`
	URL     string            `yaml:"url" validate:"required,url"`
	Type    string            `yaml:"type" validate:"omitempty,oneof=direct proxy"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
}

// RouterConfig defines named fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes" validate:"dive"`
}

// RouteConfig maps a logical route name to an ordered primary/secondary pair
// of transports. There is never a third fallback.
type RouteConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Targets []string `yaml:"targets" validate:"min=1,max=2"`
}

// RetryConfig controls retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay       time.Duration `yaml:"base_delay" validate:"gte=0"`
	TerminalMarkers []string      `yaml:"terminal_markers"`
}

// AuthConfig controls session refresh before retrying an expired call.
type AuthConfig struct {
	RefreshURL   string `yaml:"refresh_url" validate:"omitempty,url"`
	RefreshToken string `yaml:"refresh_token"`
}

// MessagingConfig controls shop notifications.
type MessagingConfig struct {
	Route    string        `yaml:"route"`
	Instance string        `yaml:"instance"`
	Token    string        `yaml:"token"`
	Gap      time.Duration `yaml:"gap" validate:"gte=0"`
}

// QuotaConfig controls local message quotas.
type QuotaConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Policies []models.QuotaPolicy `yaml:"policies" validate:"dive"`
}

// ProxyConfig controls the local proxy server.
type ProxyConfig struct {
	Origin  string        `yaml:"origin" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// MirrorConfig maps cached stores to the origin paths they are fetched from.
type MirrorConfig struct {
	Route  string            `yaml:"route"`
	Stores map[string]string `yaml:"stores" validate:"dive,keys,required,endkeys,startswith=/"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		DBPath:   "shopkeep.db",
		Cache: CacheConfig{
			Enabled: true,
			Backend: "sqlite",
			Path:    "cache.db",
			TTL:     5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			TerminalMarkers: []string{"quota exceeded", "quota"},
		},
		Messaging: MessagingConfig{
			Route: "messaging",
			Gap:   time.Second,
		},
		Proxy: ProxyConfig{
			Timeout: 30 * time.Second,
		},
		Mirror: MirrorConfig{
			Route: "data",
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
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
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Transport returns the transport with the given name.
func (c *Config) Transport(name string) (TransportConfig, bool) {
	for _, t := range c.Transports {
		if t.Name == name {
			return t, true
		}
	}
	return TransportConfig{}, false
}
