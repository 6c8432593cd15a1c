// Package policy maps tool criticality and composite risk to an execution
// decision. It is fail-closed at the boundaries: REVIEW and BLOCK never
// issue tokens, and evaluation errors escalate rather than allow.
package policy

import "encoding/json"

// Decision is the policy outcome for a proposed tool call.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionBlock  Decision = "BLOCK"
	DecisionReview Decision = "REVIEW"
)

// Criticality is the registered blast-radius class of a tool.
type Criticality string

const (
	CriticalityLow    Criticality = "LOW"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityHigh   Criticality = "HIGH"
)

// ToolProfile is the immutable per-tool configuration consulted by the
// engine. Registered once at startup; the registry replaces whole profiles,
// never mutates them.
type ToolProfile struct {
	ToolName     string      `json:"tool_name" yaml:"tool_name"`
	Criticality  Criticality `json:"criticality" yaml:"criticality"`
	Irreversible bool        `json:"irreversible,omitempty" yaml:"irreversible,omitempty"`
	Regulatory   bool        `json:"regulatory,omitempty" yaml:"regulatory,omitempty"`
	RiskTier     string      `json:"risk_tier,omitempty" yaml:"risk_tier,omitempty"`

	// RequireToken forces token issuance on the ALLOW path regardless of
	// criticality. Hardening override for MEDIUM tools.
	RequireToken bool `json:"require_token,omitempty" yaml:"require_token,omitempty"`

	// ArgsSchema is an optional JSON Schema the proposal arguments must
	// satisfy before any scoring happens.
	ArgsSchema json.RawMessage `json:"args_schema,omitempty" yaml:"-"`

	// EscalateExpr is an optional CEL expression evaluated after the
	// matrix; when it yields true, an ALLOW decision escalates to REVIEW.
	EscalateExpr string `json:"escalate_expr,omitempty" yaml:"escalate_expr,omitempty"`
}

// Result is the outcome of one policy evaluation.
type Result struct {
	Decision      Decision `json:"decision"`
	Reason        string   `json:"reason"`
	PolicyID      string   `json:"policy_id"`
	PolicyVersion string   `json:"policy_version"`
	ThresholdUsed float64  `json:"threshold_used"`
	TokenRequired bool     `json:"token_required"`
}
