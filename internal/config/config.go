// Package config loads the engine configuration: defaults first, then
// an optional YAML file, then environment overrides. A file watcher
// supports hot reload of the runtime tunables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/autodev-ai/orchestrator/internal/circuitbreaker"
)

// DefaultPath is used when CONFIG_PATH is not set and no explicit path
// is given.
const DefaultPath = "config/orchestrator.yaml"

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ProvidersConfig controls routing over upstream model providers.
type ProvidersConfig struct {
	Default       string   `mapstructure:"default"`
	Fallbacks     []string `mapstructure:"fallbacks"`
	TablePath     string   `mapstructure:"table_path"`
	RatePerSecond float64  `mapstructure:"rate_per_second"`
	RateBurst     int      `mapstructure:"rate_burst"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	BaseTTL       time.Duration `mapstructure:"base_ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisAddr     string        `mapstructure:"redis_addr"`
}

// CircuitBreakerConfig controls the per-provider breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// OrchestratorConfig controls task execution.
type OrchestratorConfig struct {
	AdaptiveThreshold float64       `mapstructure:"adaptive_threshold"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	CapabilitiesPath  string        `mapstructure:"capabilities_path"`
}

// Config is the full engine configuration tree.
type Config struct {
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
	Cache          CacheConfig          `mapstructure:"cache"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Orchestrator   OrchestratorConfig   `mapstructure:"orchestrator"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("providers.default", "")
	v.SetDefault("providers.fallbacks", []string{})
	v.SetDefault("providers.rate_per_second", 0.0)
	v.SetDefault("providers.rate_burst", 1)
	v.SetDefault("cache.base_ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.sweep_interval", 60*time.Second)
	v.SetDefault("cache.redis_addr", "")
	// Breaker defaults honor the standalone CB_* variables; the
	// ORCHESTRATOR_ prefix and the file still override them.
	cb := circuitbreaker.ConfigFromEnv()
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.cooldown", cb.Cooldown)
	v.SetDefault("orchestrator.adaptive_threshold", 0.7)
	v.SetDefault("orchestrator.task_timeout", 5*time.Minute)
}

// Load reads configuration from path. An empty path falls back to
// CONFIG_PATH, then DefaultPath; a missing file is not an error, the
// defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// No file; defaults and env only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.BaseTTL <= 0 {
		return fmt.Errorf("cache.base_ttl must be positive, got %s", c.Cache.BaseTTL)
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive, got %d",
			c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.Cooldown <= 0 {
		return fmt.Errorf("circuit_breaker.cooldown must be positive, got %s", c.CircuitBreaker.Cooldown)
	}
	if c.Orchestrator.AdaptiveThreshold <= 0 || c.Orchestrator.AdaptiveThreshold >= 1 {
		return fmt.Errorf("orchestrator.adaptive_threshold must be in (0,1), got %g",
			c.Orchestrator.AdaptiveThreshold)
	}
	return nil
}
