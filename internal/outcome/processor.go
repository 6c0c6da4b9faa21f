// Package outcome assembles final evaluation results: pattern lookup against
// the action table, status, and processing metadata.
package outcome

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/rules"
)

// EngineVersion is stamped into evaluation metadata.
const EngineVersion = "kestrel-1.0"

// Processor turns a core rule-set or decision result into a persisted
// Evaluation.
type Processor struct{}

// NewProcessor creates a result processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Input contains everything needed to assemble one evaluation.
type Input struct {
	TenantID  string
	RequestID string
	TraceID   string
	Kind      string // domain.KindRuleSet or domain.KindDMN

	Result          *domain.RuleSetResult
	DecisionOutputs map[string]any
	Decisions       int

	// Actions is the pattern -> recommendation table for this request.
	Actions domain.ActionTable

	// Trace retains the full per-rule partitions on the evaluation.
	Trace bool

	ParseMs   int64
	EvalMs    int64
	StartTime time.Time
}

// Process assembles the final evaluation.
func (p *Processor) Process(ctx context.Context, in *Input) *domain.Evaluation {
	eval := &domain.Evaluation{
		ID:              uuid.New().String(),
		TenantID:        in.TenantID,
		RequestID:       in.RequestID,
		Kind:            in.Kind,
		Timestamp:       time.Now().UTC(),
		TotalPoints:     in.Result.TotalPoints,
		Pattern:         in.Result.Pattern,
		DecisionOutputs: in.DecisionOutputs,
	}

	eval.Status = domain.StatusNoMatch
	for _, o := range in.Result.Outcomes {
		if o.Matched {
			eval.Status = domain.StatusMatch
			break
		}
	}

	if rec, ok := rules.ResolveAction(in.Actions, in.Result.Pattern); ok {
		eval.Recommendation = &rec
	}

	if in.Trace {
		trace := *in.Result
		eval.Trace = &trace
	}

	eval.Metadata = domain.EvaluationMetadata{
		TraceID:        in.TraceID,
		ParseMs:        in.ParseMs,
		EvalMs:         in.EvalMs,
		TotalMs:        time.Since(in.StartTime).Milliseconds(),
		RulesEvaluated: len(in.Result.Outcomes),
		RulesSkipped:   in.Result.Skipped,
		Decisions:      in.Decisions,
		EngineVersion:  EngineVersion,
	}

	return eval
}
