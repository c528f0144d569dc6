// Package config loads stepwise settings from a YAML file and STEPWISE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/router"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STEPWISE_GENERATOR_MODEL.
const EnvPrefix = "STEPWISE"

// Config holds all settings for the planner and the CLI.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Decomposer DecomposerConfig `mapstructure:"decomposer"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// GeneratorConfig selects the generative model. An empty provider disables
// generation and planning runs on keyword analysis and fallback patterns only.
type GeneratorConfig struct {
	Provider string        `mapstructure:"provider"` // "" or googleai
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Lenient  bool          `mapstructure:"lenient"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PlannerConfig tunes plan caching and tool routing.
type PlannerConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheEntries int           `mapstructure:"cache_entries"`
	Strategy     string        `mapstructure:"strategy"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// DocumentsConfig points at the tool documents. Empty paths use the built-ins.
type DocumentsConfig struct {
	Schema       string `mapstructure:"schema"`
	Capabilities string `mapstructure:"capabilities"`
	Registry     string `mapstructure:"registry"`
	Watch        bool   `mapstructure:"watch"`
}

type DecomposerConfig struct {
	SearchSelector string `mapstructure:"search_selector"`
	SearchTool     string `mapstructure:"search_tool"`
	BrowserTool    string `mapstructure:"browser_tool"`
}

type EventBusConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("generator.provider", "")
	v.SetDefault("generator.model", "googleai/gemini-2.0-flash")
	v.SetDefault("generator.lenient", false)
	v.SetDefault("generator.cache_ttl", 10*time.Minute)
	v.SetDefault("generator.timeout", 60*time.Second)
	v.SetDefault("planner.cache_ttl", 10*time.Minute)
	v.SetDefault("planner.cache_entries", 256)
	v.SetDefault("planner.strategy", string(router.StrategyBalanced))
	v.SetDefault("planner.concurrency", 4)
	v.SetDefault("documents.watch", false)
	v.SetDefault("decomposer.search_tool", "search")
	v.SetDefault("decomposer.browser_tool", "browser")
	v.SetDefault("eventbus.buffer_size", 256)
	v.SetDefault("eventbus.workers", 2)
	v.SetDefault("eventbus.max_retries", 1)
	v.SetDefault("eventbus.retry_delay", 50*time.Millisecond)
}

// Load reads path, or stepwise.yaml from ./config and . when path is empty.
// A missing default file is not an error. Environment variables override the
// file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("stepwise")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{"generator.api_key", "metrics.addr", "documents.schema", "documents.capabilities", "documents.registry", "decomposer.search_selector"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if _, err := router.ParseStrategy(c.Planner.Strategy); err != nil {
		return fmt.Errorf("planner.strategy: %w", err)
	}
	if c.Planner.Concurrency < 1 {
		return fmt.Errorf("planner.concurrency must be at least 1")
	}
	if c.Planner.CacheTTL < 0 {
		return fmt.Errorf("planner.cache_ttl cannot be negative")
	}
	if c.EventBus.Workers < 1 {
		return fmt.Errorf("eventbus.workers must be at least 1")
	}
	if c.EventBus.BufferSize < 0 || c.EventBus.MaxRetries < 0 {
		return fmt.Errorf("eventbus.buffer_size and eventbus.max_retries cannot be negative")
	}
	return nil
}

func (g GeneratorConfig) Validate() error {
	switch g.Provider {
	case "":
		return nil
	case "googleai":
		if g.APIKey == "" {
			return fmt.Errorf("generator.api_key is required for provider googleai")
		}
	default:
		return fmt.Errorf("generator.provider %q is not supported", g.Provider)
	}
	if g.Model == "" {
		return fmt.Errorf("generator.model is required")
	}
	if g.Timeout < 0 || g.CacheTTL < 0 {
		return fmt.Errorf("generator.timeout and generator.cache_ttl cannot be negative")
	}
	return nil
}

// Enabled reports whether a generative model is configured.
func (g GeneratorConfig) Enabled() bool { return g.Provider != "" }
