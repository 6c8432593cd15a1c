// Package store persists proposals, commit records, consumed nonces and
// prompt baselines. Two durable backends share one SQL implementation
// (Postgres via lib/pq, SQLite via modernc.org/sqlite); the in-memory
// backend serves tests and development.
//
// The nonce uniqueness constraint is the replay boundary: ConsumeNonce
// must be atomic with respect to concurrent commits, which both backends
// get by construction — a primary-key conflict in SQL, a single mutex
// region in memory. Replay detection never scans the nonce table.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProposalNotFound reports a lookup for an unknown proposal id.
	ErrProposalNotFound = errors.New("store: proposal not found")
	// ErrDuplicateProposal reports an insert with an existing proposal id.
	ErrDuplicateProposal = errors.New("store: proposal already exists")
)

// Proposal is the record persisted at the end of propose. Its decision is
// final: rows are never updated.
type Proposal struct {
	ProposalID     string    `json:"proposal_id"`
	ToolName       string    `json:"tool_name"`
	ArgsJSON       string    `json:"args_json"`
	PromptHash     string    `json:"prompt_hash"`
	CompositeScore float64   `json:"composite_score"`
	Decision       string    `json:"decision"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommitRecord is the append-only audit row written on every commit
// attempt, successful or not.
type CommitRecord struct {
	CommitID           string    `json:"commit_id"`
	ProposalID         string    `json:"proposal_id"`
	TokenID            string    `json:"token_id,omitempty"` // empty for tokenless commits
	Decision           string    `json:"decision"`           // "committed" | "rejected"
	VerificationReason string    `json:"verification_reason"`
	CreatedAt          time.Time `json:"created_at"`
}

// Commit decisions.
const (
	CommitDecisionCommitted = "committed"
	CommitDecisionRejected  = "rejected"
)

// NonceResult is the outcome of a nonce consumption attempt.
type NonceResult int

const (
	NonceInserted NonceResult = iota
	NonceAlreadyExists
)

func (r NonceResult) String() string {
	if r == NonceInserted {
		return "inserted"
	}
	return "already_exists"
}

// Store is the pluggable persistence contract. All operations accept a
// caller deadline through ctx; on expiry no partial state remains —
// either the row exists or it does not.
type Store interface {
	// PutProposal inserts a proposal. Proposal ids are unique.
	PutProposal(ctx context.Context, p Proposal) error

	// GetProposal fetches a proposal, or ErrProposalNotFound.
	GetProposal(ctx context.Context, proposalID string) (Proposal, error)

	// PutCommit appends a commit record.
	PutCommit(ctx context.Context, rec CommitRecord) error

	// ConsumeNonce atomically inserts the nonce. On conflict it returns
	// NonceAlreadyExists without modifying the existing row.
	ConsumeNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time) (NonceResult, error)

	// CommitWithNonce couples nonce consumption and the successful commit
	// record into one durable unit: the record is written iff the nonce
	// inserted, and both survive or neither does.
	CommitWithNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time, rec CommitRecord) (NonceResult, error)

	// PurgeExpiredNonces removes nonces whose expiry is at or before now.
	// Idempotent housekeeping; returns the number of rows removed.
	PurgeExpiredNonces(ctx context.Context, now time.Time) (int, error)

	// GetBaselinePromptHash fetches the drift baseline for a tool.
	// ok is false when no baseline is recorded.
	GetBaselinePromptHash(ctx context.Context, toolName string) (hash string, ok bool, err error)

	// SetBaselinePromptHash upserts the drift baseline for a tool.
	// Writer is administrative; the scorer only reads.
	SetBaselinePromptHash(ctx context.Context, toolName, hash string) error
}
