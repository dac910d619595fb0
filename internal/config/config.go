// Package config loads server configuration from an optional YAML file and
// ZEN_-prefixed environment variables. Environment always wins.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// AuthConfig holds token verification settings. Tokens are issued elsewhere;
// the server only needs the shared HS256 secret.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// TierConfig points at an optional tier policy override file.
type TierConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// CacheConfig sizes the tool result cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// AgentConfig bounds the execution loop.
type AgentConfig struct {
	MaxTurns int `yaml:"max_turns" mapstructure:"max_turns"`
}

// RegistryConfig bounds per-thread event buffering while no channel is bound.
type RegistryConfig struct {
	BufferLimit int `yaml:"buffer_limit" mapstructure:"buffer_limit"`
}

// AuditConfig bounds the in-memory audit trail.
type AuditConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	PrometheusPort int    `yaml:"prometheus_port" mapstructure:"prometheus_port"`
	TracingEnabled bool   `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	ServiceName    string `yaml:"service_name" mapstructure:"service_name"`
}

// SweeperConfig controls the expired-context sweeper.
type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" mapstructure:"interval_seconds"`
}

// Config is the full server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Auth          AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Tier          TierConfig          `yaml:"tier" mapstructure:"tier"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Agent         AgentConfig         `yaml:"agent" mapstructure:"agent"`
	Registry      RegistryConfig      `yaml:"registry" mapstructure:"registry"`
	Audit         AuditConfig         `yaml:"audit" mapstructure:"audit"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Sweeper       SweeperConfig       `yaml:"sweeper" mapstructure:"sweeper"`
}

// CacheTTL returns the tool cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SweepInterval returns the sweeper cadence as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	// Keys without a meaningful default still need to be registered so
	// AutomaticEnv exposes them to Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("tier.policy_path", "")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("agent.max_turns", 6)
	v.SetDefault("registry.buffer_limit", 256)
	v.SetDefault("audit.max_entries", 10000)
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.prometheus_port", 9090)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.service_name", "zen")
	v.SetDefault("sweeper.interval_seconds", 60)
}

// Load reads configuration from path (optional, "" skips the file) and from
// the environment (ZEN_SERVER_ADDR, ZEN_AUTH_JWT_SECRET, ...).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the server unusable.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set ZEN_AUTH_JWT_SECRET)")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive")
	}
	if c.Registry.BufferLimit <= 0 {
		return fmt.Errorf("registry.buffer_limit must be positive")
	}
	return nil
}
