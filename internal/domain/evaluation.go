package domain

import "time"

// RuleSetResult is the outcome of running one ordered rule set against one
// record: the weighted points sum, the pattern string, and per-rule outcomes.
type RuleSetResult struct {
	TotalPoints float64 `json:"totalPoints"`

	// Pattern is the concatenation, in evaluation order, of every rule's
	// action result or the non-match sentinel.
	Pattern string `json:"pattern"`

	// Outcomes lists every evaluated rule in evaluation order. Rules skipped
	// for evaluation errors are absent.
	Outcomes []RuleOutcome `json:"outcomes,omitempty"`

	// Matched and Unmatched partition Outcomes when a trace was requested.
	Matched   []RuleOutcome `json:"matched,omitempty"`
	Unmatched []RuleOutcome `json:"unmatched,omitempty"`

	// Skipped counts rules dropped for compile or evaluation errors.
	Skipped int `json:"skipped,omitempty"`
}

// DecisionResult extends a rule-set result with the per-decision outputs of a
// DMN multi-decision execution.
type DecisionResult struct {
	RuleSetResult

	// Order is the execution order the scheduler chose.
	Order []string `json:"order,omitempty"`

	// DecisionOutputs merges every decision's mapped output fields.
	DecisionOutputs map[string]any `json:"decisionOutputs,omitempty"`
}

// Evaluation is the complete, persisted result of one evaluation request.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	RequestID string    `json:"requestId,omitempty"`
	Kind      string    `json:"kind"` // "ruleset" or "dmn"
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	TotalPoints    float64 `json:"totalPoints"`
	Pattern        string  `json:"pattern"`
	Recommendation *string `json:"recommendation"`

	DecisionOutputs map[string]any `json:"decisionOutputs,omitempty"`

	// Trace is populated for dry-run requests.
	Trace *RuleSetResult `json:"trace,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	ParseMs        int64  `json:"parseMs"`
	EvalMs         int64  `json:"evalMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesSkipped   int    `json:"rulesSkipped,omitempty"`
	Decisions      int    `json:"decisions,omitempty"`
	EngineVersion  string `json:"engineVersion"`
}

// Evaluation kinds.
const (
	KindRuleSet = "ruleset"
	KindDMN     = "dmn"
)

// Evaluation statuses.
const (
	StatusMatch   = "MATCH"
	StatusNoMatch = "NO_MATCH"
)
