package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SQLStore implements Store over database/sql. The statements use $N
// placeholders and ON CONFLICT clauses accepted by both Postgres (lib/pq)
// and SQLite (modernc.org/sqlite), so one implementation serves both
// durable backends.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS proposals (
	proposal_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	args_json TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	composite_score REAL NOT NULL,
	decision TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	commit_id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL,
	token_id TEXT NULL,
	decision TEXT NOT NULL,
	verification_reason TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
	nonce TEXT PRIMARY KEY,
	token_id TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_prompt_baselines (
	tool_name TEXT PRIMARY KEY,
	prompt_hash TEXT NOT NULL
);
`

// Init creates the schema. Idempotent.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlSchema)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) PutProposal(ctx context.Context, p Proposal) error {
	query := `
		INSERT INTO proposals (proposal_id, tool_name, args_json, prompt_hash, composite_score, decision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ProposalID, p.ToolName, p.ArgsJSON, p.PromptHash, p.CompositeScore, p.Decision, p.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProposal
		}
		return fmt.Errorf("store: insert proposal: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	query := `
		SELECT proposal_id, tool_name, args_json, prompt_hash, composite_score, decision, created_at
		FROM proposals
		WHERE proposal_id = $1
	`
	var p Proposal
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&p.ProposalID, &p.ToolName, &p.ArgsJSON, &p.PromptHash, &p.CompositeScore, &p.Decision, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, ErrProposalNotFound
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("store: get proposal: %w", err)
	}
	return p, nil
}

func (s *SQLStore) PutCommit(ctx context.Context, rec CommitRecord) error {
	if err := s.insertCommit(ctx, s.db, rec); err != nil {
		return fmt.Errorf("store: insert commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) insertCommit(ctx context.Context, db execer, rec CommitRecord) error {
	query := `
		INSERT INTO commits (commit_id, proposal_id, token_id, decision, verification_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var tokenID sql.NullString
	if rec.TokenID != "" {
		tokenID = sql.NullString{String: rec.TokenID, Valid: true}
	}
	_, err := db.ExecContext(ctx, query,
		rec.CommitID, rec.ProposalID, tokenID, rec.Decision, rec.VerificationReason, rec.CreatedAt.UTC(),
	)
	return err
}

const insertNonceQuery = `
	INSERT INTO nonces (nonce, token_id, expires_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (nonce) DO NOTHING
`

func (s *SQLStore) ConsumeNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time) (NonceResult, error) {
	res, err := s.db.ExecContext(ctx, insertNonceQuery, nonce, tokenID, expiresAt.UTC())
	if err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: consume nonce: %w", err)
	}
	return nonceResultFrom(res)
}

func (s *SQLStore) CommitWithNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time, rec CommitRecord) (NonceResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertNonceQuery, nonce, tokenID, expiresAt.UTC())
	if err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: consume nonce: %w", err)
	}
	result, err := nonceResultFrom(res)
	if err != nil {
		return NonceAlreadyExists, err
	}
	if result == NonceAlreadyExists {
		return NonceAlreadyExists, nil
	}

	if err := s.insertCommit(ctx, tx, rec); err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: insert commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: commit tx: %w", err)
	}
	return NonceInserted, nil
}

func nonceResultFrom(res sql.Result) (NonceResult, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return NonceAlreadyExists, fmt.Errorf("store: rows affected: %w", err)
	}
	if affected == 0 {
		return NonceAlreadyExists, nil
	}
	return NonceInserted, nil
}

func (s *SQLStore) PurgeExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: purge nonces: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *SQLStore) GetBaselinePromptHash(ctx context.Context, toolName string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt_hash FROM tool_prompt_baselines WHERE tool_name = $1`, toolName,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get baseline: %w", err)
	}
	return hash, true, nil
}

func (s *SQLStore) SetBaselinePromptHash(ctx context.Context, toolName, hash string) error {
	query := `
		INSERT INTO tool_prompt_baselines (tool_name, prompt_hash)
		VALUES ($1, $2)
		ON CONFLICT (tool_name) DO UPDATE SET prompt_hash = EXCLUDED.prompt_hash
	`
	if _, err := s.db.ExecContext(ctx, query, toolName, hash); err != nil {
		return fmt.Errorf("store: set baseline: %w", err)
	}
	return nil
}

// isUniqueViolation recognizes unique constraint errors from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint violations by message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
