package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/arbiterhq/arbiter/pkg/risk"
)

// Config holds the matrix thresholds and policy identity.
type Config struct {
	PolicyID      string
	PolicyVersion string

	HighBlockThreshold    float64
	HighReviewThreshold   float64
	MediumReviewThreshold float64
}

// DefaultConfig returns the standard policy matrix configuration.
func DefaultConfig() Config {
	return Config{
		PolicyID:              "risk-bound-exec",
		PolicyVersion:         "2.0.0",
		HighBlockThreshold:    0.35,
		HighReviewThreshold:   0.20,
		MediumReviewThreshold: 0.50,
	}
}

// Engine evaluates the criticality × composite matrix.
type Engine struct {
	cfg        Config
	escalation *escalationCache
}

// NewEngine validates the config and builds an engine. The policy version
// must be valid semver so downstream consumers can gate on it.
func NewEngine(cfg Config) (*Engine, error) {
	if _, err := semver.NewVersion(cfg.PolicyVersion); err != nil {
		return nil, fmt.Errorf("policy: invalid policy version %q: %w", cfg.PolicyVersion, err)
	}
	if cfg.HighReviewThreshold > cfg.HighBlockThreshold {
		return nil, fmt.Errorf("policy: high review threshold %.2f exceeds block threshold %.2f",
			cfg.HighReviewThreshold, cfg.HighBlockThreshold)
	}
	return &Engine{cfg: cfg, escalation: newEscalationCache()}, nil
}

// MustNewEngine is NewEngine for static configuration.
func MustNewEngine(cfg Config) *Engine {
	e, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Decide maps (criticality, composite) to a decision and token-required
// flag. Boundaries are closed on the upper side: score == threshold takes
// the stricter branch.
//
// An undefined composite (no signals present) yields REVIEW for HIGH
// criticality and ALLOW without token for MEDIUM and LOW.
func (e *Engine) Decide(profile ToolProfile, composite risk.Composite) (Result, error) {
	res := e.decideMatrix(profile, composite)

	if res.Decision == DecisionAllow && profile.EscalateExpr != "" {
		escalate, err := e.escalation.eval(profile, composite)
		if err != nil {
			// Fail closed: an unevaluable escalation rule reviews.
			return Result{
				Decision:      DecisionReview,
				Reason:        "escalation_rule_error",
				PolicyID:      e.cfg.PolicyID,
				PolicyVersion: e.cfg.PolicyVersion,
				ThresholdUsed: res.ThresholdUsed,
			}, fmt.Errorf("policy: escalation rule for %s: %w", profile.ToolName, err)
		}
		if escalate {
			res.Decision = DecisionReview
			res.Reason = "escalation_rule"
			res.TokenRequired = false
		}
	}
	return res, nil
}

func (e *Engine) decideMatrix(profile ToolProfile, composite risk.Composite) Result {
	cfg := e.cfg
	base := Result{PolicyID: cfg.PolicyID, PolicyVersion: cfg.PolicyVersion}

	switch profile.Criticality {
	case CriticalityHigh:
		if !composite.Defined {
			base.Decision = DecisionReview
			base.Reason = "no_signals_high_criticality"
			base.ThresholdUsed = cfg.HighReviewThreshold
			return base
		}
		switch {
		case composite.Score >= cfg.HighBlockThreshold:
			base.Decision = DecisionBlock
			base.Reason = "high_criticality_block_threshold"
			base.ThresholdUsed = cfg.HighBlockThreshold
		case composite.Score >= cfg.HighReviewThreshold:
			base.Decision = DecisionReview
			base.Reason = "high_criticality_review_threshold"
			base.ThresholdUsed = cfg.HighReviewThreshold
		default:
			base.Decision = DecisionAllow
			base.Reason = "high_criticality_allow"
			base.ThresholdUsed = cfg.HighReviewThreshold
			base.TokenRequired = true
		}
		return base

	case CriticalityMedium:
		if composite.Defined && composite.Score >= cfg.MediumReviewThreshold {
			base.Decision = DecisionReview
			base.Reason = "medium_criticality_review_threshold"
			base.ThresholdUsed = cfg.MediumReviewThreshold
			return base
		}
		base.Decision = DecisionAllow
		base.Reason = "medium_criticality_allow"
		base.ThresholdUsed = cfg.MediumReviewThreshold
		base.TokenRequired = profile.RequireToken
		return base

	default: // LOW and unregistered criticalities
		base.Decision = DecisionAllow
		base.Reason = "low_criticality_allow"
		base.ThresholdUsed = 1.0
		base.TokenRequired = profile.RequireToken
		return base
	}
}

// TokenRequired reports whether a committed proposal for this profile must
// present an execution token. Used by the verifier, which sees the stored
// proposal but not the original policy result.
func (e *Engine) TokenRequired(profile ToolProfile) bool {
	return profile.Criticality == CriticalityHigh || profile.RequireToken
}
