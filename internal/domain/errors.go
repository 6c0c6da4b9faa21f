package domain

import "fmt"

// ErrorKind classifies evaluation failures for the API boundary.
type ErrorKind string

const (
	// KindConfiguration covers malformed or unreadable rule/DMN sources.
	// Nothing valid to run; the whole evaluation aborts.
	KindConfiguration ErrorKind = "configuration"

	// KindDataValidation covers invalid input records or request shapes.
	KindDataValidation ErrorKind = "data_validation"

	// KindRuleEvaluation covers systemic evaluation failures. Routine
	// per-rule problems are contained and logged, never surfaced as errors.
	KindRuleEvaluation ErrorKind = "rule_evaluation"
)

// Error carries a stable kind and code plus enough context to act on.
type Error struct {
	Kind  ErrorKind
	Code  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s/%s", e.Kind, e.Code)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigErr builds a configuration error.
func ConfigErr(code, field string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Field: field, Err: err}
}

// ValidationErr builds a data-validation error.
func ValidationErr(code, field string, err error) *Error {
	return &Error{Kind: KindDataValidation, Code: code, Field: field, Err: err}
}

// EvalErr builds a rule-evaluation error.
func EvalErr(code, field string, err error) *Error {
	return &Error{Kind: KindRuleEvaluation, Code: code, Field: field, Err: err}
}
