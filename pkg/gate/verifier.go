package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/pkg/canonicalize"
	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/token"
)

// CommitOutcome is the result of one commit attempt.
type CommitOutcome struct {
	Committed bool   `json:"committed"`
	Reason    string `json:"reason"`
}

// Verifier authorizes the commit step. It performs no tool execution:
// a Committed outcome is the caller's license to run the side effect.
type Verifier struct {
	registry  *policy.Registry
	engine    *policy.Engine
	codec     *token.Codec
	store     store.Store
	telemetry Telemetry
	logger    *slog.Logger
	now       func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierTelemetry wires a decision telemetry sink.
func WithVerifierTelemetry(t Telemetry) VerifierOption {
	return func(v *Verifier) { v.telemetry = t }
}

// WithVerifierClock overrides the wall clock, for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier wires a verifier against the same registry, engine, codec
// and store as the proposer that issued the tokens it will see.
func NewVerifier(reg *policy.Registry, engine *policy.Engine, codec *token.Codec, st store.Store, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		registry:  reg,
		engine:    engine,
		codec:     codec,
		store:     st,
		telemetry: nopTelemetry{},
		logger:    slog.Default().With("component", "gate.verifier"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Commit validates a commit request against the stored proposal and, on
// the token path, the token binding and nonce. Exactly one CommitRecord
// is written per attempt. Nonce consumption precedes any Committed
// result, so at most one commit of a token ever succeeds.
func (v *Verifier) Commit(ctx context.Context, proposalID, tokenBlob string, args map[string]any) (outcome CommitOutcome, err error) {
	// The tool is unknown until the proposal loads; the operation scope
	// opens without it and the commit counter carries it on close.
	ctx, finish := v.telemetry.StartOperation(ctx, "commit", "")
	defer func() { finish(err) }()

	proposal, err := v.store.GetProposal(ctx, proposalID)
	if errors.Is(err, store.ErrProposalNotFound) {
		return v.reject(ctx, proposalID, "", "", ReasonUnknownProposal)
	}
	if err != nil {
		return CommitOutcome{Reason: ReasonStorageUnavailable},
			fmt.Errorf("%w: get proposal: %w", ErrStorageUnavailable, err)
	}

	if proposal.Decision != string(policy.DecisionAllow) {
		return v.reject(ctx, proposalID, "", proposal.ToolName, ReasonBlockedByPolicy)
	}

	profile := v.registry.GetOrDefault(proposal.ToolName)
	if tokenBlob == "" {
		if v.engine.TokenRequired(profile) {
			return v.reject(ctx, proposalID, "", proposal.ToolName, ReasonMissingToken)
		}
		return v.commitDirect(ctx, proposal)
	}

	argsHash, err := canonicalize.ArgsHash(args)
	if err != nil {
		return CommitOutcome{Reason: token.ReasonArgsHashMismatch},
			fmt.Errorf("gate: hash commit args: %w", err)
	}

	result := v.codec.Verify(tokenBlob, proposal.ToolName, argsHash)
	if !result.OK {
		tokenID := ""
		if result.Payload != nil {
			tokenID = result.Payload.TokenID
		}
		return v.reject(ctx, proposalID, tokenID, proposal.ToolName, result.Reason)
	}
	payload := result.Payload
	if payload.ProposalID != proposalID {
		// Signature-valid token presented against a different proposal.
		return v.reject(ctx, proposalID, payload.TokenID, proposal.ToolName, ReasonUnknownProposal)
	}

	record := store.CommitRecord{
		CommitID:           uuid.NewString(),
		ProposalID:         proposalID,
		TokenID:            payload.TokenID,
		Decision:           store.CommitDecisionCommitted,
		VerificationReason: ReasonOK,
		CreatedAt:          v.now().UTC(),
	}
	res, err := v.store.CommitWithNonce(ctx, payload.Nonce, payload.TokenID, payload.Expiry(), record)
	if err != nil {
		return CommitOutcome{Reason: ReasonStorageUnavailable},
			fmt.Errorf("%w: commit with nonce: %w", ErrStorageUnavailable, err)
	}
	if res == store.NonceAlreadyExists {
		return v.reject(ctx, proposalID, payload.TokenID, proposal.ToolName, ReasonNonceReplay)
	}

	v.telemetry.RecordCommit(ctx, proposal.ToolName, true, ReasonOK)
	v.logger.InfoContext(ctx, "commit authorized",
		"tool", proposal.ToolName, "proposal_id", proposalID, "token_id", payload.TokenID)
	return CommitOutcome{Committed: true, Reason: ReasonOK}, nil
}

// commitDirect handles the tokenless path for proposals whose profile
// never required a token.
func (v *Verifier) commitDirect(ctx context.Context, proposal store.Proposal) (CommitOutcome, error) {
	record := store.CommitRecord{
		CommitID:           uuid.NewString(),
		ProposalID:         proposal.ProposalID,
		Decision:           store.CommitDecisionCommitted,
		VerificationReason: ReasonOK,
		CreatedAt:          v.now().UTC(),
	}
	if err := v.store.PutCommit(ctx, record); err != nil {
		return CommitOutcome{Reason: ReasonStorageUnavailable},
			fmt.Errorf("%w: put commit: %w", ErrStorageUnavailable, err)
	}
	v.telemetry.RecordCommit(ctx, proposal.ToolName, true, ReasonOK)
	v.logger.InfoContext(ctx, "commit authorized",
		"tool", proposal.ToolName, "proposal_id", proposal.ProposalID, "token_id", "")
	return CommitOutcome{Committed: true, Reason: ReasonOK}, nil
}

// reject records the failed attempt and returns its outcome. The audit
// row is written best-effort first; a storage failure there supersedes
// the rejection reason.
func (v *Verifier) reject(ctx context.Context, proposalID, tokenID, toolName, reason string) (CommitOutcome, error) {
	record := store.CommitRecord{
		CommitID:           uuid.NewString(),
		ProposalID:         proposalID,
		TokenID:            tokenID,
		Decision:           store.CommitDecisionRejected,
		VerificationReason: reason,
		CreatedAt:          v.now().UTC(),
	}
	if err := v.store.PutCommit(ctx, record); err != nil {
		return CommitOutcome{Reason: ReasonStorageUnavailable},
			fmt.Errorf("%w: put commit: %w", ErrStorageUnavailable, err)
	}
	v.telemetry.RecordCommit(ctx, toolName, false, reason)
	v.logger.InfoContext(ctx, "commit rejected",
		"tool", toolName, "proposal_id", proposalID, "reason", reason)
	return CommitOutcome{Reason: reason}, nil
}
