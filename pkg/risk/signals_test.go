package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("", ""))
	assert.Equal(t, 0.0, Jaccard("hello world", ""))
	assert.Equal(t, 0.0, Jaccard("", "hello"))
	assert.Equal(t, 1.0, Jaccard("Hello, World!", "hello world"))
	assert.InDelta(t, 1.0/3.0, Jaccard("a b", "b c"), 1e-9)
}

func TestJaccardStripsPunctuation(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("transfer 100 to acct_123", "Transfer 100 to acct_123."))
}

func TestExtractNumbers(t *testing.T) {
	assert.Equal(t, []float64{100, 123}, ExtractNumbers("Transfer 100 to acct_123"))
	assert.Equal(t, []float64{-3.5, 0.25}, ExtractNumbers("delta -3.5 and .25"))
	assert.Nil(t, ExtractNumbers("no digits here"))
}

func TestNumericInstability(t *testing.T) {
	assert.Nil(t, NumericInstability("no numbers", nil))

	one := NumericInstability("just 42 here", nil)
	require.NotNil(t, one)
	assert.Equal(t, 0.0, *one)

	// Numbers 100 and 123: sample stddev ≈ 16.263, mean 111.5.
	cv := NumericInstability("Transfer 100 to acct_123", nil)
	require.NotNil(t, cv)
	assert.InDelta(t, 0.14585, *cv, 1e-4)

	// Wildly divergent numbers clip to 1.
	wide := NumericInstability("1 and 100000", nil)
	require.NotNil(t, wide)
	assert.Equal(t, 1.0, *wide)

	// Zero mean is protected against division by zero.
	zero := NumericInstability("-5 and 5", nil)
	require.NotNil(t, zero)
	assert.Equal(t, 0.0, *zero)
}

func TestToolClaimMismatch(t *testing.T) {
	assert.Nil(t, ToolClaimMismatch("done", nil))

	m := ToolClaimMismatch("Transferred $9999 successfully", String("payment API failed"))
	require.NotNil(t, m)
	assert.True(t, *m)

	m = ToolClaimMismatch("Transfer completed", String("all good"))
	require.NotNil(t, m)
	assert.False(t, *m)

	m = ToolClaimMismatch("I could not do that", String("request declined"))
	require.NotNil(t, m)
	assert.False(t, *m)
}

func TestHeuristicVerifierScore(t *testing.T) {
	score, reason := HeuristicVerifierScore("The transfer is recorded in the ledger", nil)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "ok", reason)

	score, reason = HeuristicVerifierScore("I think maybe it worked", nil)
	assert.Equal(t, 0.75, score)
	assert.Equal(t, "hedging_language", reason)

	score, reason = HeuristicVerifierScore("It definitely guaranteed worked", nil)
	assert.Equal(t, 0.75, score)
	assert.Equal(t, "absolute_claims", reason)

	score, reason = HeuristicVerifierScore("entirely unrelated answer text", String("context about gardening tips"))
	assert.Equal(t, 0.75, score)
	assert.Equal(t, "low_grounding", reason)
}
