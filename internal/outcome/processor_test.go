package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

func input(result *domain.RuleSetResult) *Input {
	return &Input{
		TenantID:  "tenant-1",
		RequestID: "req-1",
		TraceID:   "trace-1",
		Kind:      domain.KindRuleSet,
		Result:    result,
		StartTime: time.Now(),
	}
}

func TestProcessMatch(t *testing.T) {
	p := NewProcessor()

	result := &domain.RuleSetResult{
		TotalPoints: 42,
		Pattern:     "A-B",
		Outcomes: []domain.RuleOutcome{
			{RuleID: "r1", Matched: true, ActionResult: "A", Points: 40},
			{RuleID: "r2", Matched: false, ActionResult: "-"},
			{RuleID: "r3", Matched: true, ActionResult: "B", Points: 2},
		},
	}

	in := input(result)
	in.Actions = domain.ActionTable{"A-B": "review"}

	eval := p.Process(context.Background(), in)

	if eval.ID == "" {
		t.Error("evaluation must get an id")
	}
	if eval.Status != domain.StatusMatch {
		t.Errorf("expected MATCH, got %q", eval.Status)
	}
	if eval.TotalPoints != 42 || eval.Pattern != "A-B" {
		t.Errorf("result fields not carried: %+v", eval)
	}
	if eval.Recommendation == nil || *eval.Recommendation != "review" {
		t.Errorf("expected recommendation review, got %v", eval.Recommendation)
	}
	if eval.Metadata.TraceID != "trace-1" || eval.Metadata.EngineVersion != EngineVersion {
		t.Errorf("unexpected metadata %+v", eval.Metadata)
	}
	if eval.Metadata.RulesEvaluated != 3 {
		t.Errorf("expected 3 rules evaluated, got %d", eval.Metadata.RulesEvaluated)
	}
}

func TestProcessNoMatch(t *testing.T) {
	p := NewProcessor()

	result := &domain.RuleSetResult{
		Pattern: "--",
		Outcomes: []domain.RuleOutcome{
			{RuleID: "r1", Matched: false, ActionResult: "-"},
			{RuleID: "r2", Matched: false, ActionResult: "-"},
		},
	}

	eval := p.Process(context.Background(), input(result))

	if eval.Status != domain.StatusNoMatch {
		t.Errorf("expected NO_MATCH, got %q", eval.Status)
	}
	if eval.Recommendation != nil {
		t.Errorf("no action table entry must leave recommendation nil, got %v", *eval.Recommendation)
	}
}

func TestProcessUnknownPatternLeavesRecommendationNil(t *testing.T) {
	p := NewProcessor()

	result := &domain.RuleSetResult{
		Pattern:  "XY",
		Outcomes: []domain.RuleOutcome{{RuleID: "r1", Matched: true, ActionResult: "X"}},
	}

	in := input(result)
	in.Actions = domain.ActionTable{"AB": "approve"}

	eval := p.Process(context.Background(), in)
	if eval.Recommendation != nil {
		t.Errorf("pattern miss must not resolve, got %v", *eval.Recommendation)
	}
	if eval.Status != domain.StatusMatch {
		t.Errorf("status is independent of the action table, got %q", eval.Status)
	}
}

func TestProcessTraceRetention(t *testing.T) {
	p := NewProcessor()

	result := &domain.RuleSetResult{
		Pattern:  "A",
		Outcomes: []domain.RuleOutcome{{RuleID: "r1", Matched: true, ActionResult: "A"}},
		Matched:  []domain.RuleOutcome{{RuleID: "r1", Matched: true, ActionResult: "A"}},
	}

	in := input(result)
	in.Trace = true
	withTrace := p.Process(context.Background(), in)
	if withTrace.Trace == nil || len(withTrace.Trace.Matched) != 1 {
		t.Errorf("expected trace retained, got %+v", withTrace.Trace)
	}

	in2 := input(result)
	withoutTrace := p.Process(context.Background(), in2)
	if withoutTrace.Trace != nil {
		t.Error("trace must be dropped unless requested")
	}
}

func TestProcessDMNMetadata(t *testing.T) {
	p := NewProcessor()

	result := &domain.RuleSetResult{
		Pattern:  "A",
		Skipped:  2,
		Outcomes: []domain.RuleOutcome{{RuleID: "r1", Matched: true, ActionResult: "A"}},
	}

	in := input(result)
	in.Kind = domain.KindDMN
	in.Decisions = 3
	in.ParseMs = 7
	in.EvalMs = 11
	in.DecisionOutputs = map[string]any{"eligible": true}

	eval := p.Process(context.Background(), in)

	if eval.Kind != domain.KindDMN {
		t.Errorf("expected dmn kind, got %q", eval.Kind)
	}
	if eval.Metadata.Decisions != 3 || eval.Metadata.ParseMs != 7 || eval.Metadata.EvalMs != 11 {
		t.Errorf("unexpected metadata %+v", eval.Metadata)
	}
	if eval.Metadata.RulesSkipped != 2 {
		t.Errorf("expected 2 skipped, got %d", eval.Metadata.RulesSkipped)
	}
	if eval.DecisionOutputs["eligible"] != true {
		t.Errorf("decision outputs not carried: %v", eval.DecisionOutputs)
	}
}
