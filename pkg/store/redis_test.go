package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNonceSetter reproduces SET NX semantics in memory: insert wins
// only when the key is absent.
type fakeNonceSetter struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeNonceSetter() *fakeNonceSetter {
	return &fakeNonceSetter{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeNonceSetter) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisConsumeNonceReplayBoundary(t *testing.T) {
	fake := newFakeNonceSetter()
	s := NewRedisNonceStore(NewMemoryStore(), fake)
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	res, err := s.ConsumeNonce(ctx, "n1", "tok1", expiry)
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)
	assert.Equal(t, "tok1", fake.values["arbiter:nonce:n1"])

	// The key TTL tracks the token expiry, not a fixed constant.
	assert.InDelta(t, time.Minute.Seconds(), fake.ttls["arbiter:nonce:n1"].Seconds(), 5)

	res, err = s.ConsumeNonce(ctx, "n1", "tok2", expiry)
	require.NoError(t, err)
	assert.Equal(t, NonceAlreadyExists, res)
	assert.Equal(t, "tok1", fake.values["arbiter:nonce:n1"], "losing consumer must not overwrite")
}

func TestRedisConsumeNonceExpiredTTLFloor(t *testing.T) {
	fake := newFakeNonceSetter()
	s := NewRedisNonceStore(NewMemoryStore(), fake)

	// An expiry in the past would be a non-positive TTL, which redis
	// rejects; the store floors it so the key still lands.
	res, err := s.ConsumeNonce(context.Background(), "stale", "tok", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)
	assert.Equal(t, time.Second, fake.ttls["arbiter:nonce:stale"])
}

func TestRedisConsumeNonceClientError(t *testing.T) {
	fake := newFakeNonceSetter()
	fake.err = errors.New("connection refused")
	s := NewRedisNonceStore(NewMemoryStore(), fake)

	res, err := s.ConsumeNonce(context.Background(), "n1", "tok", time.Now().Add(time.Minute))
	require.Error(t, err)
	assert.ErrorContains(t, err, "redis setnx")
	assert.Equal(t, NonceAlreadyExists, res, "errors fail closed")
}

func TestRedisCommitWithNonceSkipsRecordOnReplay(t *testing.T) {
	inner := NewMemoryStore()
	s := NewRedisNonceStore(inner, newFakeNonceSetter())
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)
	rec := CommitRecord{CommitID: "c1", ProposalID: "p1", TokenID: "t1", Decision: CommitDecisionCommitted, VerificationReason: "ok"}

	res, err := s.CommitWithNonce(ctx, "n1", "t1", expiry, rec)
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)
	assert.Len(t, inner.Commits(), 1)

	// Replay consumes no nonce and writes no second record.
	res, err = s.CommitWithNonce(ctx, "n1", "t1", expiry, rec)
	require.NoError(t, err)
	assert.Equal(t, NonceAlreadyExists, res)
	assert.Len(t, inner.Commits(), 1)
}

func TestRedisCommitWithNonceClientError(t *testing.T) {
	fake := newFakeNonceSetter()
	fake.err = errors.New("timeout")
	inner := NewMemoryStore()
	s := NewRedisNonceStore(inner, fake)

	_, err := s.CommitWithNonce(context.Background(), "n1", "t1", time.Now().Add(time.Minute),
		CommitRecord{CommitID: "c1", ProposalID: "p1"})
	require.Error(t, err)
	assert.Empty(t, inner.Commits(), "no record without a consumed nonce")
}

func TestRedisDelegatesRestOfStore(t *testing.T) {
	inner := NewMemoryStore()
	s := NewRedisNonceStore(inner, newFakeNonceSetter())
	ctx := context.Background()

	require.NoError(t, s.PutProposal(ctx, Proposal{ProposalID: "p1", ToolName: "send_email"}))
	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "send_email", got.ToolName)

	// Purging stays on the inner backend; redis keys expire on their own.
	removed, err := s.PurgeExpiredNonces(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestOpenRedisNonceBoundaryOption(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory", WithRedisNonceBoundary("localhost:6379"))
	require.NoError(t, err)
	assert.IsType(t, &RedisNonceStore{}, s)

	// Empty address leaves the base store undecorated.
	s, err = Open(ctx, "memory", WithRedisNonceBoundary(""))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
