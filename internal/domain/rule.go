package domain

import "encoding/json"

// Operator is the closed set of comparison operators a condition may use.
type Operator string

const (
	OpEqual              Operator = "equal"
	OpNotEqual           Operator = "not_equal"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpRange              Operator = "range"
)

// ConditionDefinition is one declarative condition: an attribute of the data
// record compared against a constant. The constant is carried as expression
// text (strings pre-quoted, range constants as list literals).
type ConditionDefinition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Constant  string   `json:"constant"`
}

// RuleConfig is a prepared rule ready for evaluation. Instances are built once
// per execution request, from stored configuration or a parsed DMN document,
// and are read-only during evaluation.
type RuleConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Expression is the combined predicate over the data record.
	Expression string `json:"expression"`

	// Priority orders evaluation, ascending. Ties keep declaration order.
	Priority int `json:"priority"`

	Weight float64 `json:"weight"`
	Points float64 `json:"points"`

	// ActionResult is the value contributed to the pattern string on a match.
	ActionResult string `json:"actionResult"`

	// Condition is the legacy single-condition form. Declarative rules may
	// supply it instead of Expression; DMN rules retain their first
	// input-column condition here for backward compatibility.
	Condition *ConditionDefinition `json:"condition,omitempty"`

	// DecisionID is set for rules parsed out of a DMN decision table.
	DecisionID string `json:"decisionId,omitempty"`

	// Outputs holds the full output-label -> value map for multi-output DMN
	// rows. Empty for declarative rules, which carry ActionResult only.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Enabled gates evaluation. Disabled rules are absent from the result:
	// no pattern segment, no points, no outcome. Absent in JSON means enabled.
	Enabled bool `json:"enabled"`
}

// UnmarshalJSON defaults Enabled to true so that rules posted or stored
// without the flag evaluate. Disabling takes an explicit "enabled": false.
func (r *RuleConfig) UnmarshalJSON(data []byte) error {
	type plain RuleConfig
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RuleConfig(p)
	return nil
}

// RuleOutcome is the result of evaluating one rule against one record.
type RuleOutcome struct {
	RuleID     string `json:"ruleId"`
	RuleName   string `json:"ruleName"`
	DecisionID string `json:"decisionId,omitempty"`
	Matched    bool   `json:"matched"`

	// ActionResult is the rule's configured result on a match, or the
	// non-match sentinel otherwise. Never the configured result for a miss.
	ActionResult string `json:"actionResult"`

	// Points is the weighted contribution (points * weight), 0 on a miss.
	Points float64 `json:"points"`

	// Outputs carries the matched row's output values for DMN rules.
	Outputs map[string]any `json:"outputs,omitempty"`

	ProcessUs int64 `json:"processUs"` // informational only
}

// NoMatchSentinel is the pattern segment recorded for a rule that evaluated
// cleanly but did not match. It is never a valid action result.
const NoMatchSentinel = "-"

// RuleSet is a stored, named collection of rule definitions.
type RuleSet struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenantId,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version"`
	Rules       []*RuleConfig `json:"rules"`
	Enabled     bool          `json:"enabled"`
}

// ActionTable maps exact pattern strings to recommendations. Lookup is exact,
// character for character, sentinel segments included.
type ActionTable map[string]string
