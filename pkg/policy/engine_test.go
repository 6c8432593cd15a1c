package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/risk"
)

func defined(score float64) risk.Composite {
	level := risk.LevelLow
	switch {
	case score >= 0.35:
		level = risk.LevelHigh
	case score >= 0.20:
		level = risk.LevelMedium
	}
	return risk.Composite{Score: score, Level: level, Defined: true}
}

func TestDecideMatrix(t *testing.T) {
	engine := MustNewEngine(DefaultConfig())

	cases := []struct {
		name         string
		criticality  Criticality
		composite    risk.Composite
		wantDecision Decision
		wantToken    bool
	}{
		{"high blocked at threshold", CriticalityHigh, defined(0.35), DecisionBlock, false},
		{"high blocked above", CriticalityHigh, defined(0.9), DecisionBlock, false},
		{"high review at lower threshold", CriticalityHigh, defined(0.20), DecisionReview, false},
		{"high review mid band", CriticalityHigh, defined(0.30), DecisionReview, false},
		{"high allow below", CriticalityHigh, defined(0.19), DecisionAllow, true},
		{"high allow zero", CriticalityHigh, defined(0.0), DecisionAllow, true},
		{"medium review at threshold", CriticalityMedium, defined(0.50), DecisionReview, false},
		{"medium allow below", CriticalityMedium, defined(0.42), DecisionAllow, false},
		{"low always allows", CriticalityLow, defined(0.99), DecisionAllow, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Decide(ToolProfile{ToolName: "t", Criticality: tc.criticality}, tc.composite)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDecision, res.Decision)
			assert.Equal(t, tc.wantToken, res.TokenRequired)
			assert.Equal(t, "risk-bound-exec", res.PolicyID)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestDecideUndefinedComposite(t *testing.T) {
	engine := MustNewEngine(DefaultConfig())
	undefined := risk.Composite{}

	res, err := engine.Decide(ToolProfile{Criticality: CriticalityHigh}, undefined)
	require.NoError(t, err)
	assert.Equal(t, DecisionReview, res.Decision)
	assert.Equal(t, "no_signals_high_criticality", res.Reason)
	assert.False(t, res.TokenRequired)

	res, err = engine.Decide(ToolProfile{Criticality: CriticalityMedium}, undefined)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.False(t, res.TokenRequired)

	res, err = engine.Decide(ToolProfile{Criticality: CriticalityLow}, undefined)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.False(t, res.TokenRequired)
}

func TestRequireTokenOverride(t *testing.T) {
	engine := MustNewEngine(DefaultConfig())

	res, err := engine.Decide(ToolProfile{Criticality: CriticalityMedium, RequireToken: true}, defined(0.1))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.True(t, res.TokenRequired)

	assert.True(t, engine.TokenRequired(ToolProfile{Criticality: CriticalityHigh}))
	assert.True(t, engine.TokenRequired(ToolProfile{Criticality: CriticalityMedium, RequireToken: true}))
	assert.False(t, engine.TokenRequired(ToolProfile{Criticality: CriticalityLow}))
}

func TestEscalationExpression(t *testing.T) {
	engine := MustNewEngine(DefaultConfig())

	profile := ToolProfile{
		ToolName:     "wire_transfer",
		Criticality:  CriticalityMedium,
		Irreversible: true,
		EscalateExpr: "irreversible && score > 0.05",
	}

	res, err := engine.Decide(profile, defined(0.1))
	require.NoError(t, err)
	assert.Equal(t, DecisionReview, res.Decision)
	assert.Equal(t, "escalation_rule", res.Reason)
	assert.False(t, res.TokenRequired)

	res, err = engine.Decide(profile, defined(0.01))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)
}

func TestEscalationFailsClosed(t *testing.T) {
	engine := MustNewEngine(DefaultConfig())

	profile := ToolProfile{
		ToolName:     "t",
		Criticality:  CriticalityLow,
		EscalateExpr: "this is not CEL (",
	}
	res, err := engine.Decide(profile, defined(0.0))
	assert.Error(t, err)
	assert.Equal(t, DecisionReview, res.Decision)
	assert.Equal(t, "escalation_rule_error", res.Reason)
}

func TestNewEngineValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PolicyVersion = "not-a-version"
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.HighReviewThreshold = 0.9
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Get("missing")
	assert.False(t, ok)

	def := reg.GetOrDefault("missing")
	assert.Equal(t, CriticalityMedium, def.Criticality)
	assert.Equal(t, "missing", def.ToolName)

	reg.Register(ToolProfile{ToolName: "transfer_funds", Criticality: CriticalityHigh})
	reg.Register(ToolProfile{ToolName: "transfer_funds", Criticality: CriticalityHigh, Irreversible: true})

	p, ok := reg.Get("transfer_funds")
	require.True(t, ok)
	assert.True(t, p.Irreversible)
	assert.Len(t, reg.All(), 1)
}

func TestSchemaValidation(t *testing.T) {
	v := NewSchemaValidator()
	profile := ToolProfile{
		ToolName: "transfer_funds",
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["amount", "to"],
			"properties": {
				"amount": {"type": "number", "exclusiveMinimum": 0},
				"to": {"type": "string", "minLength": 1}
			},
			"additionalProperties": false
		}`),
	}

	assert.NoError(t, v.Validate(profile, map[string]any{"amount": 100, "to": "acct_123"}))

	err := v.Validate(profile, map[string]any{"amount": -5, "to": "acct_123"})
	var invalid *ErrInvalidArgs
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "transfer_funds", invalid.ToolName)

	assert.Error(t, v.Validate(profile, map[string]any{"amount": 100}))
	assert.Error(t, v.Validate(profile, map[string]any{"amount": 100, "to": "x", "extra": true}))

	// No schema accepts anything.
	assert.NoError(t, v.Validate(ToolProfile{ToolName: "free"}, map[string]any{"whatever": 1}))
}
