package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/arbiterhq/arbiter/pkg/risk"
)

// Escalation expressions see the composite and the tool profile:
//
//	score < 0.1 && !irreversible          // never escalates
//	irreversible && score > 0.05          // reviews risky irreversible calls
//	regulatory && level != "low"          // regulatory tools want low risk
//
// Expressions must evaluate to bool. Compilation results are cached per
// expression text.
type escalationCache struct {
	mu       sync.Mutex
	env      *cel.Env
	programs map[string]cel.Program
}

func newEscalationCache() *escalationCache {
	return &escalationCache{programs: make(map[string]cel.Program)}
}

func (c *escalationCache) environment() (*cel.Env, error) {
	if c.env != nil {
		return c.env, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("level", cel.StringType),
		cel.Variable("criticality", cel.StringType),
		cel.Variable("irreversible", cel.BoolType),
		cel.Variable("regulatory", cel.BoolType),
		cel.Variable("risk_tier", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}
	c.env = env
	return env, nil
}

func (c *escalationCache) program(expr string) (cel.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prg, ok := c.programs[expr]; ok {
		return prg, nil
	}

	env, err := c.environment()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile escalation expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy: escalation expression must be bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: build escalation program: %w", err)
	}
	c.programs[expr] = prg
	return prg, nil
}

func (c *escalationCache) eval(profile ToolProfile, composite risk.Composite) (bool, error) {
	prg, err := c.program(profile.EscalateExpr)
	if err != nil {
		return false, err
	}

	level := ""
	if composite.Defined {
		level = string(composite.Level)
	}
	out, _, err := prg.Eval(map[string]any{
		"score":        composite.Score,
		"level":        level,
		"criticality":  string(profile.Criticality),
		"irreversible": profile.Irreversible,
		"regulatory":   profile.Regulatory,
		"risk_tier":    profile.RiskTier,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate escalation expression: %w", err)
	}
	escalate, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: escalation expression returned %T, want bool", out.Value())
	}
	return escalate, nil
}
