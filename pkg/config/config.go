// Package config loads process configuration from environment variables
// and YAML profile files. The signing secret is the only required value;
// everything else carries a working default.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/token"
)

// Config holds the control plane's process configuration.
type Config struct {
	// SigningSecret is the token HMAC master secret. Required, >= 32
	// bytes, never persisted.
	SigningSecret []byte

	TokenTTL     time.Duration
	StoreBackend string // "memory" | "postgres+<dsn>" | "sqlite+<path>"
	RedisAddr    string // optional nonce-boundary redis, empty = disabled

	LogLevel      string
	OTLPEndpoint  string
	ArchiveBucket string // optional S3 audit bucket, empty = disabled
	ProfilesPath  string // optional YAML tool profile file
}

// OpenStore opens the configured store backend, layering the Redis
// nonce boundary on top when RedisAddr is set.
func (c *Config) OpenStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, c.StoreBackend, store.WithRedisNonceBoundary(c.RedisAddr))
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	secret := os.Getenv("ARBITER_SIGNING_SECRET")
	if len(secret) < token.MinSecretLen {
		return nil, fmt.Errorf("config: ARBITER_SIGNING_SECRET must be at least %d bytes, got %d",
			token.MinSecretLen, len(secret))
	}

	ttl := token.DefaultTTL
	if raw := os.Getenv("ARBITER_TOKEN_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ARBITER_TOKEN_TTL %q: %w", raw, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("config: ARBITER_TOKEN_TTL must be positive, got %s", parsed)
		}
		ttl = parsed
	}

	backend := os.Getenv("ARBITER_STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	logLevel := os.Getenv("ARBITER_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	otlp := os.Getenv("ARBITER_OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		SigningSecret: []byte(secret),
		TokenTTL:      ttl,
		StoreBackend:  backend,
		RedisAddr:     os.Getenv("ARBITER_REDIS_ADDR"),
		LogLevel:      logLevel,
		OTLPEndpoint:  otlp,
		ArchiveBucket: os.Getenv("ARBITER_ARCHIVE_BUCKET"),
		ProfilesPath:  os.Getenv("ARBITER_PROFILES_PATH"),
	}, nil
}
