package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/store"
)

func TestLoadRequiresSigningSecret(t *testing.T) {
	t.Setenv("ARBITER_SIGNING_SECRET", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARBITER_SIGNING_SECRET")

	t.Setenv("ARBITER_SIGNING_SECRET", "too-short")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARBITER_SIGNING_SECRET", strings.Repeat("k", 32))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.TokenTTL)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.ArchiveBucket)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARBITER_SIGNING_SECRET", strings.Repeat("k", 32))
	t.Setenv("ARBITER_TOKEN_TTL", "45s")
	t.Setenv("ARBITER_STORE_BACKEND", "postgres+postgres://arbiter@localhost/arbiter")
	t.Setenv("ARBITER_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.TokenTTL)
	assert.Equal(t, "postgres+postgres://arbiter@localhost/arbiter", cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestOpenStoreLayersRedisNonceBoundary(t *testing.T) {
	ctx := context.Background()

	cfg := &Config{StoreBackend: "memory"}
	s, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	cfg.RedisAddr = "localhost:6379"
	s, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &store.RedisNonceStore{}, s)
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("ARBITER_SIGNING_SECRET", strings.Repeat("k", 32))

	t.Setenv("ARBITER_TOKEN_TTL", "soon")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("ARBITER_TOKEN_TTL", "-1s")
	_, err = Load()
	require.Error(t, err)
}
