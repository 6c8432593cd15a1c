// Package gate orchestrates the two-phase decision flow: the Proposer
// scores a tool invocation and either issues an execution token or
// returns a deterministic fallback, and the Verifier authorizes the
// commit step against the stored proposal, the token and the nonce
// replay boundary.
package gate

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/pkg/token"
)

// Commit rejection reasons owned by the verifier. The token codec owns
// the signature/expiry/binding subset (token.ReasonBadSignature and
// friends), which pass through unchanged.
const (
	ReasonOK                 = token.ReasonOK
	ReasonUnknownProposal    = "unknown_proposal"
	ReasonBlockedByPolicy    = "blocked_by_policy"
	ReasonMissingToken       = "missing_token"
	ReasonNonceReplay        = "nonce_replay"
	ReasonStorageUnavailable = "storage_unavailable"
)

// ErrStorageUnavailable wraps transient backend failures. The core does
// not retry; callers decide retry policy against this sentinel.
var ErrStorageUnavailable = errors.New("gate: storage unavailable")

// Telemetry receives decision records. It is an out-of-process sink:
// implementations must never block or fail the decision path.
type Telemetry interface {
	// StartOperation opens the telemetry scope (span, rate and in-flight
	// instruments) for one propose or commit call. toolName may be empty
	// when the tool is not yet known, as on commit before the proposal is
	// fetched. The returned func closes the scope and must be called
	// exactly once.
	StartOperation(ctx context.Context, operation, toolName string) (context.Context, func(error))

	RecordProposal(ctx context.Context, toolName, decision, reason string)
	RecordCommit(ctx context.Context, toolName string, committed bool, reason string)
}

type nopTelemetry struct{}

func (nopTelemetry) StartOperation(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (nopTelemetry) RecordProposal(context.Context, string, string, string) {}
func (nopTelemetry) RecordCommit(context.Context, string, bool, string)    {}
