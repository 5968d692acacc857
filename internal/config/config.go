// Package config loads aidpanel settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/ratelimit"
)

// Config holds the application configuration.
type Config struct {
	// Server bind address (host:port)
	Addr string

	// PostgreSQL DSN for the membership store. Empty runs without a database.
	DatabaseDSN string

	// Redis URL for shared rate-limit counters. Empty keeps counters in memory.
	RedisURL string

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Workflow  WorkflowConfig

	// Slack signing secret. Empty skips request signature checks.
	SlackSigningSecret string

	// Origins allowed by CORS. Empty allows only localhost origins.
	CORSOrigins []string

	// Let users without a membership act with the role stored in profiles
	// when no organization is selected. Needs a database.
	LegacyRoles bool

	MaxBodyBytes int64
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// RateLimitConfig overrides the standard profile.
type RateLimitConfig struct {
	StandardMax    int
	StandardWindow time.Duration
	// Upper bound on in-memory counters.
	MaxKeys int
}

// WorkflowConfig points at the workflow engine. An empty URL uses the
// in-process engine.
type WorkflowConfig struct {
	URL   string
	Token string
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables with fallback defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("AIDPANEL_ADDR", ":8080"),
		DatabaseDSN:        getEnv("AIDPANEL_PG_DSN", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		SlackSigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
		CORSOrigins:        splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		Auth: AuthConfig{
			Secret:   getEnv("AIDPANEL_AUTH_SECRET", ""),
			Issuer:   getEnv("AIDPANEL_AUTH_ISSUER", ""),
			Audience: getEnv("AIDPANEL_AUTH_AUDIENCE", ""),
		},
		Workflow: WorkflowConfig{
			URL:   getEnv("WORKFLOW_ENGINE_URL", ""),
			Token: getEnv("WORKFLOW_ENGINE_TOKEN", ""),
		},
	}

	var err error
	if cfg.LegacyRoles, err = getEnvBool("AIDPANEL_LEGACY_ROLES", false); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes, err = getEnvInt64("AIDPANEL_MAX_BODY_BYTES", 1<<20); err != nil {
		return nil, err
	}
	standardMax, err := getEnvInt64("RATE_LIMIT_MAX", int64(ratelimit.DefaultStandardMax))
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.StandardMax = int(standardMax)
	windowMS, err := getEnvInt64("RATE_LIMIT_WINDOW_MS", ratelimit.DefaultStandardWindow.Milliseconds())
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.StandardWindow = time.Duration(windowMS) * time.Millisecond
	maxKeys, err := getEnvInt64("RATE_LIMIT_MAX_KEYS", 100_000)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.MaxKeys = int(maxKeys)
	if cfg.Workflow.RPS, err = getEnvFloat("WORKFLOW_ENGINE_RPS", 20); err != nil {
		return nil, err
	}
	burst, err := getEnvInt64("WORKFLOW_ENGINE_BURST", 20)
	if err != nil {
		return nil, err
	}
	cfg.Workflow.Burst = int(burst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags may have changed after Load.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("AIDPANEL_ADDR is required")
	}
	if c.RateLimit.StandardMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimit.StandardWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MS must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("AIDPANEL_MAX_BODY_BYTES must be positive")
	}
	return nil
}

// RequireAuthSecret reports the missing secret in terms of its variable name.
func (c *Config) RequireAuthSecret() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("AIDPANEL_AUTH_SECRET is required: %w", auth.ErrMissingSecret)
	}
	return nil
}

// Profiles builds the limit profiles with the configured standard override.
func (c *Config) Profiles() ratelimit.Profiles {
	return ratelimit.DefaultProfiles(c.RateLimit.StandardMax, c.RateLimit.StandardWindow)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
