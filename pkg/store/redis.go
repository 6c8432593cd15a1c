package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceSetter is the slice of the redis client the nonce boundary uses.
// redis.Client, redis.ClusterClient and redis.Ring all satisfy it.
type NonceSetter interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisNonceStore decorates another Store, moving the replay boundary to
// Redis. SET NX is the atomic insert-if-absent primitive, and key TTLs
// replace purge housekeeping. Proposals, commits and baselines stay in
// the inner store.
//
// Note the durability trade: the nonce insert and the commit record no
// longer share a transaction. The nonce consumes first, so a crash
// between the two fails closed (a lost commit record, never a replay).
type RedisNonceStore struct {
	Store
	client NonceSetter
	prefix string
}

// NewRedisNonceStore wraps inner with Redis-backed nonce consumption.
func NewRedisNonceStore(inner Store, client NonceSetter) *RedisNonceStore {
	return &RedisNonceStore{Store: inner, client: client, prefix: "arbiter:nonce:"}
}

// NewRedisNonceStoreAt dials addr with default client options and wraps
// inner. The connection is established lazily on first use.
func NewRedisNonceStoreAt(inner Store, addr string) *RedisNonceStore {
	return NewRedisNonceStore(inner, redis.NewClient(&redis.Options{Addr: addr}))
}

func (s *RedisNonceStore) ConsumeNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time) (NonceResult, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already-expired tokens are rejected before nonce consumption;
		// keep a short floor so a consumed key still blocks stragglers.
		ttl = time.Second
	}
	inserted, err := s.client.SetNX(ctx, s.prefix+nonce, tokenID, ttl).Result()
	if err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: redis setnx: %w", err)
	}
	if !inserted {
		return NonceAlreadyExists, nil
	}
	return NonceInserted, nil
}

func (s *RedisNonceStore) CommitWithNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time, rec CommitRecord) (NonceResult, error) {
	result, err := s.ConsumeNonce(ctx, nonce, tokenID, expiresAt)
	if err != nil || result == NonceAlreadyExists {
		return result, err
	}
	if err := s.Store.PutCommit(ctx, rec); err != nil {
		return NonceInserted, err
	}
	return NonceInserted, nil
}

// PurgeExpiredNonces is a no-op for the Redis side (TTLs expire keys);
// it still purges the inner store's table for backends that keep one.
func (s *RedisNonceStore) PurgeExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	return s.Store.PurgeExpiredNonces(ctx, now)
}
