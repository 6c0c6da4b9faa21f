// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-decisions/kestrel/internal/condition"
	"github.com/opensource-decisions/kestrel/internal/domain"
)

// Engine evaluates prepared rule sets against data records. It holds no
// mutable state: every call compiles against a fresh environment derived from
// the record, so concurrent calls with independent inputs are safe.
type Engine struct{}

// NewEngine creates a new rule evaluation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ExecOptions controls a single rule-set execution.
type ExecOptions struct {
	// Trace retains the full per-rule outcome partitions.
	Trace bool

	// FirstMatchOnly stops at the first matching rule. Used for the
	// UNIQUE/FIRST DMN hit policies.
	FirstMatchOnly bool
}

// ExecuteRuleSet sorts rules by priority ascending (stable, ties keep
// declaration order) and evaluates each against the record in that order.
// Disabled rules are filtered out first and contribute nothing, not even a
// pattern segment.
//
// Per-rule problems are contained: a condition with an unknown operator, a
// predicate that fails to compile, that references a field absent from the
// record, or that does not produce a boolean is logged and skipped, and the
// remaining rules still evaluate. Skipped rules are excluded from both the
// pattern and the points sum.
func (e *Engine) ExecuteRuleSet(ctx context.Context, ruleList []*domain.RuleConfig, record domain.Record, opts ExecOptions) (*domain.RuleSetResult, error) {
	result := &domain.RuleSetResult{}
	if len(ruleList) == 0 {
		return result, nil
	}

	env, err := newEnv(record)
	if err != nil {
		return nil, domain.EvalErr("env_setup", "", err)
	}

	ordered := make([]*domain.RuleConfig, len(ruleList))
	copy(ordered, ruleList)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	activation := map[string]any(record)

	for _, rule := range ordered {
		if !rule.Enabled {
			continue
		}
		outcome, ok := e.evaluateRule(env, rule, activation)
		if !ok {
			result.Skipped++
			continue
		}

		result.Outcomes = append(result.Outcomes, outcome)
		result.Pattern += outcome.ActionResult
		result.TotalPoints += outcome.Points

		if opts.Trace {
			if outcome.Matched {
				result.Matched = append(result.Matched, outcome)
			} else {
				result.Unmatched = append(result.Unmatched, outcome)
			}
		}

		if outcome.Matched && opts.FirstMatchOnly {
			break
		}
	}

	return result, nil
}

// evaluateRule runs one rule. The second return is false when the rule had to
// be skipped.
func (e *Engine) evaluateRule(env *cel.Env, rule *domain.RuleConfig, activation map[string]any) (domain.RuleOutcome, bool) {
	start := time.Now()

	// Rules carrying only the declarative condition triple are translated
	// here, so inline and stored rules behave identically.
	expr := rule.Expression
	if expr == "" && rule.Condition != nil {
		var err error
		expr, err = condition.ToPredicate(*rule.Condition)
		if err != nil {
			slog.Warn("skipping rule: condition does not translate",
				"rule_id", rule.ID,
				"operator", rule.Condition.Operator,
				"error", err,
			)
			return domain.RuleOutcome{}, false
		}
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		slog.Warn("skipping rule: predicate does not compile",
			"rule_id", rule.ID,
			"expression", expr,
			"error", issues.Err(),
		)
		return domain.RuleOutcome{}, false
	}

	prg, err := env.Program(ast)
	if err != nil {
		slog.Warn("skipping rule: program construction failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return domain.RuleOutcome{}, false
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		slog.Warn("skipping rule: evaluation failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return domain.RuleOutcome{}, false
	}

	matched, ok := out.Value().(bool)
	if !ok {
		slog.Warn("skipping rule: predicate is not boolean",
			"rule_id", rule.ID,
			"expression", expr,
		)
		return domain.RuleOutcome{}, false
	}

	outcome := domain.RuleOutcome{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		DecisionID:   rule.DecisionID,
		Matched:      matched,
		ActionResult: domain.NoMatchSentinel,
		ProcessUs:    time.Since(start).Microseconds(),
	}

	if matched {
		outcome.ActionResult = rule.ActionResult
		outcome.Points = rule.Points * rule.Weight
		outcome.Outputs = rule.Outputs
	}

	return outcome, true
}

// Validate checks that an expression is syntactically well formed. Identifier
// resolution happens per execution, against the record's fields.
func (e *Engine) Validate(expression string) error {
	env, err := cel.NewEnv()
	if err != nil {
		return err
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return domain.ConfigErr("bad_expression", expression, issues.Err())
	}
	return nil
}

// newEnv builds a CEL environment declaring one dyn variable per record field.
// Fields that are not valid identifiers can never be referenced and are left
// undeclared.
func newEnv(record domain.Record) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.CrossTypeNumericComparisons(true),
	}
	for key := range record {
		if !validIdent(key) {
			continue
		}
		opts = append(opts, cel.Variable(key, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// reservedIdents are CEL keywords and literals that cannot be declared.
var reservedIdents = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"as": true, "break": true, "const": true, "continue": true,
	"else": true, "for": true, "function": true, "if": true,
	"import": true, "let": true, "loop": true, "package": true,
	"namespace": true, "return": true, "var": true, "void": true,
	"while": true,
}

func validIdent(s string) bool {
	if s == "" || reservedIdents[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
