package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps all four tables behind a single mutex. Critical
// sections are short; the lock is the atomicity guarantee for
// ConsumeNonce and CommitWithNonce.
type MemoryStore struct {
	mu        sync.Mutex
	proposals map[string]Proposal
	commits   []CommitRecord
	nonces    map[string]nonceRow
	baselines map[string]string
}

type nonceRow struct {
	tokenID   string
	expiresAt time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]Proposal),
		nonces:    make(map[string]nonceRow),
		baselines: make(map[string]string),
	}
}

func (s *MemoryStore) PutProposal(ctx context.Context, p Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ProposalID]; exists {
		return ErrDuplicateProposal
	}
	s.proposals[p.ProposalID] = p
	return nil
}

func (s *MemoryStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return Proposal{}, ErrProposalNotFound
	}
	return p, nil
}

func (s *MemoryStore) PutCommit(ctx context.Context, rec CommitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, rec)
	return nil
}

func (s *MemoryStore) ConsumeNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time) (NonceResult, error) {
	if err := ctx.Err(); err != nil {
		return NonceAlreadyExists, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeLocked(nonce, tokenID, expiresAt), nil
}

func (s *MemoryStore) consumeLocked(nonce, tokenID string, expiresAt time.Time) NonceResult {
	if _, seen := s.nonces[nonce]; seen {
		return NonceAlreadyExists
	}
	s.nonces[nonce] = nonceRow{tokenID: tokenID, expiresAt: expiresAt}
	return NonceInserted
}

func (s *MemoryStore) CommitWithNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time, rec CommitRecord) (NonceResult, error) {
	if err := ctx.Err(); err != nil {
		return NonceAlreadyExists, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.consumeLocked(nonce, tokenID, expiresAt); res == NonceAlreadyExists {
		return NonceAlreadyExists, nil
	}
	s.commits = append(s.commits, rec)
	return NonceInserted, nil
}

func (s *MemoryStore) PurgeExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for nonce, row := range s.nonces {
		if !row.expiresAt.After(now) {
			delete(s.nonces, nonce)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) GetBaselinePromptHash(ctx context.Context, toolName string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.baselines[toolName]
	return hash, ok, nil
}

func (s *MemoryStore) SetBaselinePromptHash(ctx context.Context, toolName, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[toolName] = hash
	return nil
}

// Commits returns a snapshot of the commit records, newest last. Test and
// audit helper; not part of the Store contract.
func (s *MemoryStore) Commits() []CommitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommitRecord, len(s.commits))
	copy(out, s.commits)
	return out
}
