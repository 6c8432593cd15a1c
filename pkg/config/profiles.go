package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/risk"
)

// Profiles is the YAML profile file: policy identity and thresholds,
// risk weight overrides, and the tool profiles to register.
type Profiles struct {
	Policy PolicySection `yaml:"policy"`
	Risk   RiskSection   `yaml:"risk"`
	Tools  []ToolEntry   `yaml:"tools"`
}

// PolicySection overrides the policy matrix configuration. Unset fields
// keep the defaults.
type PolicySection struct {
	ID                    string   `yaml:"id"`
	Version               string   `yaml:"version"`
	HighBlockThreshold    *float64 `yaml:"high_block_threshold"`
	HighReviewThreshold   *float64 `yaml:"high_review_threshold"`
	MediumReviewThreshold *float64 `yaml:"medium_review_threshold"`
}

// RiskSection overrides scorer weights and level thresholds.
type RiskSection struct {
	Weights    WeightsSection    `yaml:"weights"`
	Thresholds ThresholdsSection `yaml:"thresholds"`
}

// WeightsSection mirrors risk.Weights with optional fields.
type WeightsSection struct {
	Grounding          *float64 `yaml:"grounding"`
	SelfConsistency    *float64 `yaml:"self_consistency"`
	Verifier           *float64 `yaml:"verifier"`
	NumericInstability *float64 `yaml:"numeric_instability"`
	ToolMismatch       *float64 `yaml:"tool_mismatch"`
	Drift              *float64 `yaml:"drift"`
}

// ThresholdsSection mirrors risk.Thresholds with optional fields.
type ThresholdsSection struct {
	Low    *float64 `yaml:"low"`
	Medium *float64 `yaml:"medium"`
}

// ToolEntry is one tool profile in YAML form. The args schema is YAML
// that re-marshals to the JSON Schema the validator compiles.
type ToolEntry struct {
	ToolName     string         `yaml:"tool_name"`
	Criticality  string         `yaml:"criticality"`
	Irreversible bool           `yaml:"irreversible"`
	Regulatory   bool           `yaml:"regulatory"`
	RiskTier     string         `yaml:"risk_tier"`
	RequireToken bool           `yaml:"require_token"`
	EscalateExpr string         `yaml:"escalate_expr"`
	ArgsSchema   map[string]any `yaml:"args_schema"`
}

// LoadProfiles reads and validates a YAML profile file.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profiles %q: %w", path, err)
	}

	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profiles %q: %w", path, err)
	}

	for i, tool := range p.Tools {
		if tool.ToolName == "" {
			return nil, fmt.Errorf("config: tools[%d] missing tool_name", i)
		}
		switch policy.Criticality(tool.Criticality) {
		case policy.CriticalityLow, policy.CriticalityMedium, policy.CriticalityHigh:
		default:
			return nil, fmt.Errorf("config: tool %q has invalid criticality %q",
				tool.ToolName, tool.Criticality)
		}
	}
	return &p, nil
}

// PolicyConfig applies the section's overrides on the default matrix.
func (p *Profiles) PolicyConfig() policy.Config {
	cfg := policy.DefaultConfig()
	if p.Policy.ID != "" {
		cfg.PolicyID = p.Policy.ID
	}
	if p.Policy.Version != "" {
		cfg.PolicyVersion = p.Policy.Version
	}
	if v := p.Policy.HighBlockThreshold; v != nil {
		cfg.HighBlockThreshold = *v
	}
	if v := p.Policy.HighReviewThreshold; v != nil {
		cfg.HighReviewThreshold = *v
	}
	if v := p.Policy.MediumReviewThreshold; v != nil {
		cfg.MediumReviewThreshold = *v
	}
	return cfg
}

// Weights applies the section's overrides on the default weights.
func (p *Profiles) Weights() risk.Weights {
	w := risk.DefaultWeights()
	s := p.Risk.Weights
	if s.Grounding != nil {
		w.Grounding = *s.Grounding
	}
	if s.SelfConsistency != nil {
		w.SelfConsistency = *s.SelfConsistency
	}
	if s.Verifier != nil {
		w.Verifier = *s.Verifier
	}
	if s.NumericInstability != nil {
		w.NumericInstability = *s.NumericInstability
	}
	if s.ToolMismatch != nil {
		w.ToolMismatch = *s.ToolMismatch
	}
	if s.Drift != nil {
		w.Drift = *s.Drift
	}
	return w
}

// Thresholds applies the section's overrides on the default cutoffs.
func (p *Profiles) Thresholds() risk.Thresholds {
	t := risk.DefaultThresholds()
	if p.Risk.Thresholds.Low != nil {
		t.Low = *p.Risk.Thresholds.Low
	}
	if p.Risk.Thresholds.Medium != nil {
		t.Medium = *p.Risk.Thresholds.Medium
	}
	return t
}

// Register builds and registers the tool profiles.
func (p *Profiles) Register(reg *policy.Registry) error {
	for _, tool := range p.Tools {
		profile := policy.ToolProfile{
			ToolName:     tool.ToolName,
			Criticality:  policy.Criticality(tool.Criticality),
			Irreversible: tool.Irreversible,
			Regulatory:   tool.Regulatory,
			RiskTier:     tool.RiskTier,
			RequireToken: tool.RequireToken,
			EscalateExpr: tool.EscalateExpr,
		}
		if len(tool.ArgsSchema) > 0 {
			schema, err := json.Marshal(tool.ArgsSchema)
			if err != nil {
				return fmt.Errorf("config: tool %q args schema: %w", tool.ToolName, err)
			}
			profile.ArgsSchema = schema
		}
		reg.Register(profile)
	}
	return nil
}
