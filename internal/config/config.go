// ABOUTME: Configuration loading and parsing for glint-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glinthq/glint-gateway/internal/breaker"
	"github.com/glinthq/glint-gateway/internal/health"
	"github.com/glinthq/glint-gateway/internal/search"
)

// Config represents the complete glint-gateway configuration
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Auth     AuthConfig      `yaml:"auth"`
	Breaker  BreakerConfig   `yaml:"breaker"`
	Probe    ProbeConfig     `yaml:"probe"`
	Search   SearchConfig    `yaml:"search"`
	Backends []BackendConfig `yaml:"backends"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BreakerConfig holds circuit breaker defaults applied to every backend
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ResetTimeoutRaw string `yaml:"reset_timeout"`
}

// ProbeConfig holds health probe loop configuration
type ProbeConfig struct {
	Interval      time.Duration `yaml:"-"`
	MaxConcurrent int           `yaml:"max_concurrent"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// SearchConfig holds tool discovery configuration
type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

// BackendConfig describes a tool backend registered at startup
type BackendConfig struct {
	ID    string       `yaml:"id"`
	Name  string       `yaml:"name"`
	URL   string       `yaml:"url"`
	Tools []ToolConfig `yaml:"tools"`
}

// ToolConfig describes one tool a configured backend offers
type ToolConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with the component defaults.
func (c *Config) applyDefaults() {
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = breaker.DefaultFailureThreshold
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = breaker.DefaultResetTimeout
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = health.DefaultProbeInterval
	}
	if c.Probe.MaxConcurrent == 0 {
		c.Probe.MaxConcurrent = health.DefaultMaxConcurrentProbes
	}
	if c.Search.TopK == 0 {
		c.Search.TopK = search.DefaultTopK
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Probe.Interval < time.Second {
		return fmt.Errorf("probe.interval must be at least 1s")
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be at least 1")
	}
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backends[%d].id is required", i)
		}
		if b.URL == "" {
			return fmt.Errorf("backends[%d].url is required", i)
		}
		for j, tool := range b.Tools {
			if tool.Name == "" {
				return fmt.Errorf("backends[%d].tools[%d].name is required", i, j)
			}
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Breaker.ResetTimeoutRaw != "" {
		cfg.Breaker.ResetTimeout, err = time.ParseDuration(cfg.Breaker.ResetTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reset_timeout %q: %w", cfg.Breaker.ResetTimeoutRaw, err)
		}
	}

	if cfg.Probe.IntervalRaw != "" {
		cfg.Probe.Interval, err = time.ParseDuration(cfg.Probe.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing interval %q: %w", cfg.Probe.IntervalRaw, err)
		}
	}

	return nil
}
