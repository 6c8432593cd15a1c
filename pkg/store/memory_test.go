package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProposalLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetProposal(ctx, "missing")
	assert.ErrorIs(t, err, ErrProposalNotFound)

	p := Proposal{
		ProposalID:     "prop-1",
		ToolName:       "transfer_funds",
		ArgsJSON:       `{"amount":100}`,
		PromptHash:     "hash",
		CompositeScore: 0.1,
		Decision:       "ALLOW",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.PutProposal(ctx, p))
	assert.ErrorIs(t, s.PutProposal(ctx, p), ErrDuplicateProposal)

	got, err := s.GetProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestMemoryConsumeNonce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	res, err := s.ConsumeNonce(ctx, "n1", "tok1", expiry)
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)

	res, err = s.ConsumeNonce(ctx, "n1", "tok2", expiry)
	require.NoError(t, err)
	assert.Equal(t, NonceAlreadyExists, res)
}

func TestMemoryConsumeNonceConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	const workers = 32
	results := make([]NonceResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.ConsumeNonce(ctx, "contested", "tok", expiry)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		if r == NonceInserted {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted, "exactly one concurrent consumer wins")
}

func TestMemoryCommitWithNonce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)
	rec := CommitRecord{CommitID: "c1", ProposalID: "p1", TokenID: "t1", Decision: CommitDecisionCommitted, VerificationReason: "ok"}

	res, err := s.CommitWithNonce(ctx, "n1", "t1", expiry, rec)
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)
	assert.Len(t, s.Commits(), 1)

	// Replay: no second commit record from this path.
	res, err = s.CommitWithNonce(ctx, "n1", "t1", expiry, rec)
	require.NoError(t, err)
	assert.Equal(t, NonceAlreadyExists, res)
	assert.Len(t, s.Commits(), 1)
}

func TestMemoryPurgeExpiredNonces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.ConsumeNonce(ctx, "dead", "t", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.ConsumeNonce(ctx, "alive", "t", now.Add(time.Minute))
	require.NoError(t, err)

	removed, err := s.PurgeExpiredNonces(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Idempotent.
	removed, err = s.PurgeExpiredNonces(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// The live nonce is still consumed.
	res, err := s.ConsumeNonce(ctx, "alive", "t", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, NonceAlreadyExists, res)
}

func TestMemoryBaselines(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.GetBaselinePromptHash(ctx, "tool")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetBaselinePromptHash(ctx, "tool", "h1"))
	require.NoError(t, s.SetBaselinePromptHash(ctx, "tool", "h2"))

	hash, ok, err := s.GetBaselinePromptHash(ctx, "tool")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h2", hash)
}

func TestMemoryHonorsContextCancellation(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.PutProposal(ctx, Proposal{ProposalID: "p"}))
	_, err := s.ConsumeNonce(ctx, "n", "t", time.Now())
	assert.Error(t, err)

	// No partial state: the nonce was not inserted.
	res, err := s.ConsumeNonce(context.Background(), "n", "t", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, NonceInserted, res)
}
