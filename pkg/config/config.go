// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
)

// RedisCredentials is one ACL username/password pair.
type RedisCredentials struct {
	Username string
	Password string
}

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	RedisHost string
	RedisPort int
	RedisDB   int

	// Two principals over the same store: the validator is read-only on
	// documents, the manager has full read/write.
	Validator RedisCredentials
	Manager   RedisCredentials

	// AdminSecret gates the management endpoints. Empty disables them.
	AdminSecret string

	CORSOrigins   []string
	RatePerMinute int64

	// OTLPEndpoint enables metric export when non-empty.
	OTLPEndpoint string
}

// Load reads configuration from environment variables, with defaults
// suitable for local development.
func Load() *Config {
	return &Config{
		Port:      envOr("PORT", "8080"),
		LogLevel:  envOr("LOG_LEVEL", "INFO"),
		RedisHost: envOr("REDIS_HOST", "localhost"),
		RedisPort: envInt("REDIS_PORT", 6379),
		RedisDB:   envInt("REDIS_DB", 0),
		Validator: RedisCredentials{
			Username: envOr("REDIS_VALIDATOR_USERNAME", "validator"),
			Password: os.Getenv("REDIS_VALIDATOR_PASSWORD"),
		},
		Manager: RedisCredentials{
			Username: envOr("REDIS_MANAGER_USERNAME", "manager"),
			Password: os.Getenv("REDIS_MANAGER_PASSWORD"),
		},
		AdminSecret:   os.Getenv("ADMIN_SECRET"),
		CORSOrigins:   splitList(os.Getenv("CORS_ORIGINS")),
		RatePerMinute: int64(envInt("RATE_LIMIT_PER_MINUTE", 100)),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
