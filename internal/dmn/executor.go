package dmn

import (
	"context"
	"log/slog"

	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/rules"
)

// Executor runs a parsed DMN model: decisions execute sequentially in
// scheduler order against a shared data context that is enriched with each
// completed decision's mapped outputs before the next decision runs.
type Executor struct {
	engine *rules.Engine
}

// NewExecutor creates a multi-decision executor on top of the rule engine.
func NewExecutor(engine *rules.Engine) *Executor {
	return &Executor{engine: engine}
}

// Execute evaluates every decision of the model against the record.
//
// The record itself is never mutated; decisions run against a clone that
// accumulates upstream outputs. Because the scheduler order respects the
// declared information requirements, a field written by decision D is visible
// to every decision that depends on D, directly or transitively.
func (x *Executor) Execute(ctx context.Context, model *Model, record domain.Record, trace bool) (*domain.DecisionResult, error) {
	data := record.Clone()
	order := Order(model.Metadata())

	result := &domain.DecisionResult{
		Order:           order,
		DecisionOutputs: make(map[string]any),
	}

	// No usable decision metadata: flatten every rule into a single pass
	// with no cross-decision enrichment. Keeps single-table documents
	// working even when dependency information is absent.
	if len(order) == 0 {
		flat, err := x.engine.ExecuteRuleSet(ctx, model.AllRules(), data, rules.ExecOptions{Trace: trace})
		if err != nil {
			return nil, err
		}
		result.RuleSetResult = *flat
		return result, nil
	}

	for _, id := range order {
		decision := model.Decision(id)
		if decision == nil || len(decision.Rules) == 0 {
			continue
		}

		opts := rules.ExecOptions{
			Trace:          trace,
			FirstMatchOnly: decision.Meta.FirstMatchOnly(),
		}
		dr, err := x.engine.ExecuteRuleSet(ctx, decision.Rules, data, opts)
		if err != nil {
			return nil, err
		}

		// Matched outputs become visible to downstream decisions before
		// the next decision runs.
		for _, outcome := range dr.Outcomes {
			if !outcome.Matched {
				continue
			}
			mapped := mapOutputs(decision.Meta, outcome)
			data.Merge(mapped)
			for k, v := range mapped {
				result.DecisionOutputs[k] = v
			}
		}

		result.TotalPoints += dr.TotalPoints
		result.Pattern += dr.Pattern
		result.Outcomes = append(result.Outcomes, dr.Outcomes...)
		result.Matched = append(result.Matched, dr.Matched...)
		result.Unmatched = append(result.Unmatched, dr.Unmatched...)
		result.Skipped += dr.Skipped
	}

	return result, nil
}

// mapOutputs converts one matched rule's output-label map to record fields
// using the decision's output-field mapping. A rule with no output map falls
// back to its single legacy action result under the first output column.
func mapOutputs(meta *domain.DecisionMetadata, outcome domain.RuleOutcome) map[string]any {
	outputs := outcome.Outputs
	if len(outputs) == 0 && outcome.ActionResult != domain.NoMatchSentinel && len(meta.Outputs) > 0 {
		outputs = map[string]any{meta.Outputs[0].Label: outcome.ActionResult}
	}

	mapped := make(map[string]any, len(outputs))
	for label, value := range outputs {
		field, ok := meta.OutputFields[label]
		if !ok {
			slog.Warn("matched output has no field mapping, dropping",
				"decision_id", meta.ID,
				"rule_id", outcome.RuleID,
				"label", label,
			)
			continue
		}
		mapped[field] = value
	}
	return mapped
}
