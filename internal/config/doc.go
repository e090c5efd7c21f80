// Package config loads and validates glint-gateway configuration.
//
// Configuration is a YAML file with ${ENV_VAR} expansion and human-readable
// duration strings ("30s", "1m"). Unset breaker, probe, and search fields
// fall back to the component defaults.
package config
