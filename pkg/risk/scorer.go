package risk

// Component names, used for telemetry attributes and fallback reasons.
const (
	ComponentGrounding          = "grounding"
	ComponentSelfConsistency    = "self_consistency"
	ComponentVerifier           = "verifier"
	ComponentNumericInstability = "numeric_instability"
	ComponentToolMismatch       = "tool_mismatch"
	ComponentDrift              = "drift"
)

// Level is the categorical composite risk level.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Weights are the fixed per-component weights. Renormalization over
// present components happens at scoring time, so they need not sum to 1.
type Weights struct {
	Grounding          float64
	SelfConsistency    float64
	Verifier           float64
	NumericInstability float64
	ToolMismatch       float64
	Drift              float64
}

// DefaultWeights returns the standard component weights.
func DefaultWeights() Weights {
	return Weights{
		Grounding:          0.30,
		SelfConsistency:    0.25,
		Verifier:           0.25,
		NumericInstability: 0.10,
		ToolMismatch:       0.10,
		Drift:              0.10,
	}
}

// Thresholds are the level cutoffs: score < Low → low, < Medium → medium,
// otherwise high. Boundaries are closed on the upper side.
type Thresholds struct {
	Low    float64
	Medium float64
}

// DefaultThresholds returns the standard level cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.20, Medium: 0.35}
}

// Signals are the loosely typed optional inputs for one proposal.
// Pointer fields are typed absence markers; nil means "not available",
// never "zero".
type Signals struct {
	Answer            string
	SecondaryAnswer   *string
	RetrievedContext  *string
	VerifierScore     *float64
	ToolResultSummary *string

	// NormalizedPromptHash and BaselinePromptHash feed drift detection.
	// A nil baseline means drift cannot be evaluated.
	NormalizedPromptHash string
	BaselinePromptHash   *string
}

// Vector holds the independently nullable component risks, each in [0, 1].
type Vector struct {
	Grounding          *float64 `json:"grounding_risk,omitempty"`
	SelfConsistency    *float64 `json:"self_consistency_risk,omitempty"`
	Verifier           *float64 `json:"verifier_risk,omitempty"`
	NumericInstability *float64 `json:"numeric_instability_risk,omitempty"`
	ToolMismatch       *float64 `json:"tool_mismatch_risk,omitempty"`
	Drift              *float64 `json:"drift_risk,omitempty"`
}

// Composite is the renormalized weighted mean of the present components.
// Defined is false when no component was present; Score and Level are
// meaningless in that case and policy treats the request per its
// no-signals rule.
type Composite struct {
	Score   float64 `json:"score"`
	Level   Level   `json:"level"`
	Defined bool    `json:"defined"`
}

// Scorer computes risk vectors and composites.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer builds a scorer with the given weights and thresholds.
func NewScorer(w Weights, t Thresholds) *Scorer {
	return &Scorer{weights: w, thresholds: t}
}

// NewDefaultScorer builds a scorer with the standard weights and cutoffs.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights(), DefaultThresholds())
}

// Score derives the component risks from the signals and folds the present
// ones into the composite. Absent components are omitted from both the
// numerator and the denominator.
func (s *Scorer) Score(in Signals) (Vector, Composite) {
	var vec Vector

	if in.RetrievedContext != nil {
		vec.Grounding = ptr(clamp01(1.0 - Jaccard(in.Answer, *in.RetrievedContext)))
	}
	if in.SecondaryAnswer != nil {
		vec.SelfConsistency = ptr(clamp01(1.0 - Jaccard(in.Answer, *in.SecondaryAnswer)))
	}
	if in.VerifierScore != nil {
		vec.Verifier = ptr(clamp01(1.0 - *in.VerifierScore))
	}
	vec.NumericInstability = NumericInstability(in.Answer, in.SecondaryAnswer)
	if mismatch := ToolClaimMismatch(in.Answer, in.ToolResultSummary); mismatch != nil {
		v := 0.0
		if *mismatch {
			v = 1.0
		}
		vec.ToolMismatch = &v
	}
	if in.BaselinePromptHash != nil {
		v := 0.0
		if in.NormalizedPromptHash != *in.BaselinePromptHash {
			v = 1.0
		}
		vec.Drift = &v
	}

	return vec, s.Composite(vec)
}

// Composite folds an existing vector into its composite score and level.
func (s *Scorer) Composite(vec Vector) Composite {
	type component struct {
		value  *float64
		weight float64
	}
	components := []component{
		{vec.Grounding, s.weights.Grounding},
		{vec.SelfConsistency, s.weights.SelfConsistency},
		{vec.Verifier, s.weights.Verifier},
		{vec.NumericInstability, s.weights.NumericInstability},
		{vec.ToolMismatch, s.weights.ToolMismatch},
		{vec.Drift, s.weights.Drift},
	}

	weightedSum, totalWeight := 0.0, 0.0
	for _, c := range components {
		if c.value == nil {
			continue
		}
		weightedSum += clamp01(*c.value) * c.weight
		totalWeight += c.weight
	}

	if totalWeight == 0 {
		return Composite{Defined: false}
	}
	score := clamp01(weightedSum / totalWeight)
	return Composite{Score: score, Level: s.LevelFor(score), Defined: true}
}

// LevelFor maps a composite score to its categorical level.
func (s *Scorer) LevelFor(score float64) Level {
	switch {
	case score < s.thresholds.Low:
		return LevelLow
	case score < s.thresholds.Medium:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// PrimaryComponent returns the name of the component with the highest
// weighted contribution to the composite. False when the vector is empty.
func (s *Scorer) PrimaryComponent(vec Vector) (string, bool) {
	type contribution struct {
		name   string
		value  *float64
		weight float64
	}
	contributions := []contribution{
		{ComponentGrounding, vec.Grounding, s.weights.Grounding},
		{ComponentSelfConsistency, vec.SelfConsistency, s.weights.SelfConsistency},
		{ComponentVerifier, vec.Verifier, s.weights.Verifier},
		{ComponentNumericInstability, vec.NumericInstability, s.weights.NumericInstability},
		{ComponentToolMismatch, vec.ToolMismatch, s.weights.ToolMismatch},
		{ComponentDrift, vec.Drift, s.weights.Drift},
	}

	best, bestScore, found := "", -1.0, false
	for _, c := range contributions {
		if c.value == nil {
			continue
		}
		if contrib := clamp01(*c.value) * c.weight; contrib > bestScore {
			best, bestScore, found = c.name, contrib, true
		}
	}
	return best, found
}

func ptr(v float64) *float64 { return &v }

// Float is a convenience helper for building optional signal values.
func Float(v float64) *float64 { return &v }

// String is a convenience helper for building optional signal values.
func String(v string) *string { return &v }
