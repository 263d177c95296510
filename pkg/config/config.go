// Package config loads service configuration from the environment with an
// optional YAML overlay for validation thresholds and limits.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiliantyler/kil.dev-sub000/game"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

const defaultJWTSecret = "secret"

type Config struct {
	Env               Environment `yaml:"-"`
	HTTPAddr          string      `yaml:"http_addr"`
	RedisURL          string      `yaml:"redis_url"`
	DatabaseURL       string      `yaml:"database_url"`
	MongoURI          string      `yaml:"mongo_uri"`
	JWTSecret         string      `yaml:"-"`
	AdminPasswordHash string      `yaml:"-"`
	LogLevel          string      `yaml:"log_level"`

	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	SubmissionMaxAge time.Duration   `yaml:"submission_max_age"`

	// TrustedProxies lists the peers (addresses or CIDRs) whose
	// X-Forwarded-For headers identify the client.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// Validation starts from the environment's preset; YAML only overrides
	// the keys it names.
	Validation game.Thresholds `yaml:"validation"`
}

// RateLimitConfig bounds POST /api/scores per client.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	// MaxKeys caps the in-memory fallback's tracked clients.
	MaxKeys int `yaml:"max_keys"`
}

func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// LoadConfig reads the process environment.
func LoadConfig() *Config {
	env := Environment(getEnv("APP_ENV", string(Development)))
	if env != Production {
		env = Development
	}

	cfg := &Config{
		Env:               env,
		HTTPAddr:          getEnv("HTTP_ADDR", ":8000"),
		RedisURL:          getEnv("REDIS_URL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		MongoURI:          getEnv("MONGO_URI", ""),
		JWTSecret:         getEnv("JWT_SECRET", defaultJWTSecret),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 5),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxKeys:  getEnvInt("RATE_LIMIT_MAX_KEYS", 10000),
		},
		SubmissionMaxAge: getEnvDuration("SUBMISSION_MAX_AGE", 5*time.Minute),
		TrustedProxies:   getEnvList("TRUSTED_PROXIES"),
	}

	if env == Production {
		cfg.Validation = game.ProductionThresholds()
	} else {
		cfg.Validation = game.DevelopmentThresholds()
	}
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.SubmissionMaxAge <= 0 {
		return fmt.Errorf("submission_max_age must be positive")
	}
	if c.Validation.MinMoves < 0 || c.Validation.MinDuration < 0 || c.Validation.MinMoveInterval < 0 {
		return fmt.Errorf("validation thresholds must not be negative")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.IsProduction() {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
		if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// getEnv reads an environment variable and returns its value or a default value
func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		slog.Debug("environment variable not set, using default", "key", key)
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", raw)
		return defaultValue
	}
	return n
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", raw)
		return defaultValue
	}
	return d
}
