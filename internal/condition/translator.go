// Package condition translates declarative condition definitions to predicate
// expressions and back from the FEEL subset found in DMN input entries.
package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

// ErrUnknownOperator marks a condition whose operator is outside the closed
// set. Callers log and skip the owning rule; a malformed condition must never
// abort a whole rule set.
var ErrUnknownOperator = errors.New("unknown condition operator")

// operatorSymbols is the fixed operator keyword -> expression symbol table.
var operatorSymbols = map[domain.Operator]string{
	domain.OpEqual:              "==",
	domain.OpNotEqual:           "!=",
	domain.OpGreaterThan:        ">",
	domain.OpGreaterThanOrEqual: ">=",
	domain.OpLessThan:           "<",
	domain.OpLessThanOrEqual:    "<=",
	domain.OpRange:              "in",
}

// ToPredicate renders one condition as "{attribute} {symbol} {constant}".
// Range conditions expect the constant to already be a list literal.
func ToPredicate(c domain.ConditionDefinition) (string, error) {
	sym, ok := operatorSymbols[c.Operator]
	if !ok {
		return "", fmt.Errorf("%w: %q on attribute %q", ErrUnknownOperator, c.Operator, c.Attribute)
	}
	return fmt.Sprintf("%s %s %s", c.Attribute, sym, c.Constant), nil
}

// Combine joins predicate parts with logical AND. DMN decision tables always
// combine input columns with AND semantics; OR across rows is expressed by
// separate rows.
func Combine(parts []string) string {
	return strings.Join(parts, " && ")
}

// FromFEEL parses a DMN input-entry cell into an operator keyword and a
// constant literal. Forms are checked in a fixed precedence order.
func FromFEEL(text, typeRef string) (domain.Operator, string) {
	t := strings.TrimSpace(text)

	// The DMN wildcard. Matched as equality against the empty string, not as
	// "any value"; see the project design notes before changing this.
	if t == "" || t == "-" {
		return domain.OpEqual, `""`
	}

	if isQuoted(t) {
		return domain.OpEqual, `"` + t[1:len(t)-1] + `"`
	}

	for _, p := range []struct {
		prefix string
		op     domain.Operator
	}{
		{">=", domain.OpGreaterThanOrEqual},
		{"<=", domain.OpLessThanOrEqual},
		{">", domain.OpGreaterThan},
		{"<", domain.OpLessThan},
	} {
		if strings.HasPrefix(t, p.prefix) {
			return p.op, strings.TrimSpace(t[len(p.prefix):])
		}
	}

	if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
		inner := t[1 : len(t)-1]
		if lo, hi, ok := strings.Cut(inner, ".."); ok {
			return domain.OpRange, fmt.Sprintf("[%s, %s]", strings.TrimSpace(lo), strings.TrimSpace(hi))
		}
		return domain.OpRange, t
	}

	if strings.HasPrefix(t, "not(") && strings.HasSuffix(t, ")") {
		inner := strings.TrimSpace(t[4 : len(t)-1])
		return domain.OpNotEqual, quoteIfNeeded(inner)
	}

	if isNumber(t) || isBool(t) {
		return domain.OpEqual, t
	}

	return domain.OpEqual, `"` + t + `"`
}

// EvalValue evaluates a FEEL-subset output entry to a typed value:
// quoted text -> string, number -> float64, true/false -> bool, else the raw
// trimmed text.
func EvalValue(text string) any {
	t := strings.TrimSpace(text)
	if isQuoted(t) {
		return t[1 : len(t)-1]
	}
	if n, err := strconv.ParseFloat(t, 64); err == nil {
		return n
	}
	switch t {
	case "true":
		return true
	case "false":
		return false
	}
	return t
}

// NormalizeField converts a column display label to a record field name:
// lowercased, spaces replaced with underscores.
func NormalizeField(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')
}

func quoteIfNeeded(s string) string {
	if isQuoted(s) {
		return `"` + s[1:len(s)-1] + `"`
	}
	if isNumber(s) || isBool(s) {
		return s
	}
	return `"` + s + `"`
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isBool(s string) bool {
	return s == "true" || s == "false"
}
