package gate

import (
	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/risk"
)

// Fallback statuses and the single supported action.
const (
	StatusAllow   = "allow"
	StatusBlocked = "blocked"
	StatusReview  = "review"

	ActionCreateDraft = "create_draft"
)

// Draft carries the proposed-but-not-executed invocation back to the
// caller for human review.
type Draft struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Fallback is the deterministic response for BLOCK and REVIEW decisions.
// It is a pure function of the inputs and the policy outcome: no clocks,
// randomness or I/O enter it, so audits can reproduce it byte for byte.
type Fallback struct {
	Status string `json:"status"`
	Action string `json:"action"`
	Reason string `json:"reason"`
	Draft  Draft  `json:"draft"`
}

// fallbackReasons maps the dominant risk component to the caller-facing
// reason label.
var fallbackReasons = map[string]string{
	risk.ComponentGrounding:          "low_integrity",
	risk.ComponentSelfConsistency:    "inconsistent_answers",
	risk.ComponentVerifier:           "verifier_low_confidence",
	risk.ComponentNumericInstability: "numeric_instability",
	risk.ComponentToolMismatch:       "tool_claim_mismatch",
	risk.ComponentDrift:              "prompt_drift",
}

// FallbackReason returns the reason label for the dominant risk
// component, or the policy reason when no component was present.
func FallbackReason(component string, ok bool, policyReason string) string {
	if !ok {
		return policyReason
	}
	if label, found := fallbackReasons[component]; found {
		return label
	}
	return component
}

// NewFallback builds the fallback for a denied proposal.
func NewFallback(decision policy.Decision, reason, toolName string, args map[string]any) Fallback {
	status := StatusReview
	if decision == policy.DecisionBlock {
		status = StatusBlocked
	}
	return Fallback{
		Status: status,
		Action: ActionCreateDraft,
		Reason: reason,
		Draft:  Draft{Tool: toolName, Args: args},
	}
}
