// Package config provides API token management utilities.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned when no API token is configured.
var ErrNoToken = errors.New("no API token configured")

// GetAPIToken returns the API auth token from the configuration.
// It checks in order: environment variable, config file.
func GetAPIToken(cfg *Config) (string, error) {
	// First check environment variable directly
	if token := os.Getenv("SWARM_API_TOKEN"); token != "" {
		return token, nil
	}

	// Then check config
	if cfg != nil && cfg.Server.AuthToken != "" {
		// Expand any remaining env var references
		token := os.ExpandEnv(cfg.Server.AuthToken)
		if token != "" && !strings.HasPrefix(token, "${") {
			return token, nil
		}
	}

	return "", ErrNoToken
}

// MaskToken returns a masked version of the token for display.
// Shows the first and last four characters.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}

	if len(token) <= 12 {
		return "***"
	}

	return token[:4] + "..." + token[len(token)-4:]
}

// TokenSource represents where an API token was loaded from.
type TokenSource string

const (
	TokenSourceEnv    TokenSource = "environment"
	TokenSourceConfig TokenSource = "config_file"
	TokenSourceNone   TokenSource = "none"
)

// GetAPITokenSource returns where the API token was sourced from.
func GetAPITokenSource(cfg *Config) TokenSource {
	if os.Getenv("SWARM_API_TOKEN") != "" {
		return TokenSourceEnv
	}

	if cfg != nil && cfg.Server.AuthToken != "" {
		token := os.ExpandEnv(cfg.Server.AuthToken)
		if token != "" && !strings.HasPrefix(token, "${") {
			return TokenSourceConfig
		}
	}

	return TokenSourceNone
}
