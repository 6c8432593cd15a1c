package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Decisions records proposal and commit outcomes. It satisfies the
// gate.Telemetry contract; wire it into Proposers and Verifiers with
// their telemetry options.
type Decisions struct {
	provider *Provider

	proposalCounter metric.Int64Counter
	commitCounter   metric.Int64Counter
}

// NewDecisions builds the decision counters on the provider's meter.
func NewDecisions(p *Provider) (*Decisions, error) {
	d := &Decisions{provider: p}
	if p.meter == nil {
		// Disabled provider: stay inert.
		return d, nil
	}

	var err error
	d.proposalCounter, err = p.meter.Int64Counter("arbiter.proposals.total",
		metric.WithDescription("Proposal decisions by tool, decision and reason"),
		metric.WithUnit("{proposal}"),
	)
	if err != nil {
		return nil, err
	}
	d.commitCounter, err = p.meter.Int64Counter("arbiter.commits.total",
		metric.WithDescription("Commit attempts by tool, outcome and reason"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// StartOperation opens a span plus the RED instruments for one propose
// or commit call via the provider. toolName may be empty when the tool
// is not yet known.
func (d *Decisions) StartOperation(ctx context.Context, operation, toolName string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{attribute.String("operation", operation)}
	if toolName != "" {
		attrs = append(attrs, attribute.String("tool", toolName))
	}
	return d.provider.TrackOperation(ctx, "arbiter."+operation, attrs...)
}

func (d *Decisions) RecordProposal(ctx context.Context, toolName, decision, reason string) {
	if d.proposalCounter == nil {
		return
	}
	d.proposalCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	))
}

func (d *Decisions) RecordCommit(ctx context.Context, toolName string, committed bool, reason string) {
	if d.commitCounter == nil {
		return
	}
	d.commitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.Bool("committed", committed),
		attribute.String("reason", reason),
	))
}
