package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/pkg/canonicalize"
	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/risk"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/token"
)

// ProposeRequest carries one tool invocation and its optional scoring
// signals. Pointer fields are typed absence markers.
type ProposeRequest struct {
	ToolName string
	Args     map[string]any
	Prompt   string

	ModelAnswer       string
	SecondaryAnswer   *string
	ToolResultSummary *string
	RetrievedContext  *string
	VerifierScore     *float64
	PromptTemplateID  string
}

// ProposeResponse is the proposal outcome. Allow responses may carry a
// commit token; blocked and review responses carry the deterministic
// fallback fields instead.
type ProposeResponse struct {
	Status      string `json:"status"` // "allow" | "blocked" | "review"
	ProposalID  string `json:"proposal_id"`
	CommitToken string `json:"commit_token,omitempty"`

	Action string `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`
	Draft  *Draft `json:"draft,omitempty"`

	Policy    policy.Result  `json:"policy"`
	Vector    risk.Vector    `json:"risk_vector"`
	Composite risk.Composite `json:"composite"`
}

// Proposer runs the propose flow: profile resolution, args schema
// validation, hashing, scoring, the policy matrix, and token issue or
// fallback, persisting the proposal before returning.
type Proposer struct {
	registry  *policy.Registry
	validator *policy.SchemaValidator
	scorer    *risk.Scorer
	engine    *policy.Engine
	codec     *token.Codec
	store     store.Store
	telemetry Telemetry
	logger    *slog.Logger

	tokenTTL          time.Duration
	heuristicVerifier bool
	now               func() time.Time
}

// ProposerOption customizes a Proposer.
type ProposerOption func(*Proposer)

// WithTokenTTL overrides the token lifetime passed to the codec.
func WithTokenTTL(ttl time.Duration) ProposerOption {
	return func(p *Proposer) { p.tokenTTL = ttl }
}

// WithHeuristicVerifier enables the local heuristic verifier for
// requests that supply no verifier score.
func WithHeuristicVerifier() ProposerOption {
	return func(p *Proposer) { p.heuristicVerifier = true }
}

// WithProposerTelemetry wires a decision telemetry sink.
func WithProposerTelemetry(t Telemetry) ProposerOption {
	return func(p *Proposer) { p.telemetry = t }
}

// WithProposerClock overrides the wall clock, for tests.
func WithProposerClock(now func() time.Time) ProposerOption {
	return func(p *Proposer) { p.now = now }
}

// NewProposer wires a proposer. All collaborators are explicit; there is
// no ambient registry or store.
func NewProposer(reg *policy.Registry, scorer *risk.Scorer, engine *policy.Engine, codec *token.Codec, st store.Store, opts ...ProposerOption) *Proposer {
	p := &Proposer{
		registry:  reg,
		validator: policy.NewSchemaValidator(),
		scorer:    scorer,
		engine:    engine,
		codec:     codec,
		store:     st,
		telemetry: nopTelemetry{},
		logger:    slog.Default().With("component", "gate.proposer"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propose evaluates one tool invocation. The proposal record is
// persisted before the response is returned; its decision is final.
func (p *Proposer) Propose(ctx context.Context, req ProposeRequest) (resp ProposeResponse, err error) {
	ctx, finish := p.telemetry.StartOperation(ctx, "propose", req.ToolName)
	defer func() { finish(err) }()

	profile := p.registry.GetOrDefault(req.ToolName)

	if err := p.validator.Validate(profile, req.Args); err != nil {
		return ProposeResponse{}, err
	}

	argsHash, err := canonicalize.ArgsHash(req.Args)
	if err != nil {
		return ProposeResponse{}, fmt.Errorf("gate: hash args: %w", err)
	}
	promptHash := canonicalize.PromptHash(req.Prompt)
	normalizedHash := canonicalize.NormalizedPromptHash(req.Prompt)

	baseline, err := p.resolveBaseline(ctx, req.ToolName, normalizedHash)
	if err != nil {
		return ProposeResponse{}, err
	}

	verifierScore := req.VerifierScore
	if verifierScore == nil && p.heuristicVerifier {
		score, basis := risk.HeuristicVerifierScore(req.ModelAnswer, req.RetrievedContext)
		verifierScore = &score
		p.logger.DebugContext(ctx, "heuristic verifier applied",
			"tool", req.ToolName, "score", score, "basis", basis)
	}

	vec, composite := p.scorer.Score(risk.Signals{
		Answer:               req.ModelAnswer,
		SecondaryAnswer:      req.SecondaryAnswer,
		RetrievedContext:     req.RetrievedContext,
		VerifierScore:        verifierScore,
		ToolResultSummary:    req.ToolResultSummary,
		NormalizedPromptHash: normalizedHash,
		BaselinePromptHash:   baseline,
	})

	result, err := p.engine.Decide(profile, composite)
	if err != nil {
		// Decide fails closed; log and proceed with its REVIEW result.
		p.logger.WarnContext(ctx, "policy escalation error", "tool", req.ToolName, "error", err)
	}

	proposalID := uuid.NewString()
	resp = ProposeResponse{
		ProposalID: proposalID,
		Policy:     result,
		Vector:     vec,
		Composite:  composite,
	}

	switch result.Decision {
	case policy.DecisionAllow:
		resp.Status = StatusAllow
		if result.TokenRequired {
			issued, err := p.codec.Issue(proposalID, req.ToolName, argsHash, composite.Score, p.tokenTTL)
			if err != nil {
				return ProposeResponse{}, fmt.Errorf("gate: issue token: %w", err)
			}
			resp.CommitToken = issued.Blob
		}
	default:
		component, present := p.scorer.PrimaryComponent(vec)
		fb := NewFallback(result.Decision, FallbackReason(component, present, result.Reason), req.ToolName, req.Args)
		resp.Status = fb.Status
		resp.Action = fb.Action
		resp.Reason = fb.Reason
		resp.Draft = &fb.Draft
	}

	record := store.Proposal{
		ProposalID:     proposalID,
		ToolName:       req.ToolName,
		ArgsJSON:       mustArgsJSON(req.Args),
		PromptHash:     promptHash,
		CompositeScore: composite.Score,
		Decision:       string(result.Decision),
		CreatedAt:      p.now().UTC(),
	}
	if err := p.store.PutProposal(ctx, record); err != nil {
		return ProposeResponse{}, fmt.Errorf("%w: put proposal: %w", ErrStorageUnavailable, err)
	}

	p.telemetry.RecordProposal(ctx, req.ToolName, string(result.Decision), result.Reason)
	p.logger.InfoContext(ctx, "proposal decided",
		"tool", req.ToolName,
		"proposal_id", proposalID,
		"decision", result.Decision,
		"reason", result.Reason,
		"composite", composite.Score,
		"composite_defined", composite.Defined,
	)
	return resp, nil
}

// resolveBaseline fetches the drift baseline, bootstrapping it from the
// current normalized hash when the tool has none. The bootstrap write
// does not feed the current score: drift is absent until a baseline
// predates the request.
func (p *Proposer) resolveBaseline(ctx context.Context, toolName, normalizedHash string) (*string, error) {
	hash, ok, err := p.store.GetBaselinePromptHash(ctx, toolName)
	if err != nil {
		return nil, fmt.Errorf("%w: get baseline: %w", ErrStorageUnavailable, err)
	}
	if ok {
		return &hash, nil
	}
	if err := p.store.SetBaselinePromptHash(ctx, toolName, normalizedHash); err != nil {
		return nil, fmt.Errorf("%w: bootstrap baseline: %w", ErrStorageUnavailable, err)
	}
	return nil, nil
}

func mustArgsJSON(args map[string]any) string {
	b, err := canonicalize.Canonical(args)
	if err != nil {
		// Args already canonicalized successfully for the hash; this
		// cannot fail with the same input.
		return "{}"
	}
	return string(b)
}
