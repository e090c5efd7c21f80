// ABOUTME: Configuration loading for the glint-admin CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	TokenFile string `toml:"token_file"`
}

// configPath returns the admin config path.
// Priority: GLINT_ADMIN_CONFIG env var > XDG_CONFIG_HOME/glint/glint-admin.toml
func configPath() string {
	if envPath := os.Getenv("GLINT_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "glint-admin.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "glint", "glint-admin.toml")
}

// loadConfig reads the TOML config, expanding environment variables. A missing
// file is not an error; defaults apply.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.URL == "" {
		if envURL := os.Getenv("GLINT_GATEWAY_URL"); envURL != "" {
			c.Gateway.URL = envURL
		} else {
			c.Gateway.URL = "http://localhost:8080"
		}
	}
	c.Gateway.URL = strings.TrimRight(c.Gateway.URL, "/")
}

// Validate checks that config fields are present and valid.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https")
	}
	return nil
}

// getToken returns the JWT token from GLINT_TOKEN, the configured token file,
// or the default XDG token file. Empty when none exists.
func getToken(cfg *Config) string {
	if token := os.Getenv("GLINT_TOKEN"); token != "" {
		return token
	}

	tokenPath := cfg.Auth.TokenFile
	if tokenPath == "" {
		tokenPath = filepath.Join(filepath.Dir(configPath()), "token")
	}

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
