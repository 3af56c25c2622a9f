package engine

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrMalformedRule indicates a rule that cannot be compiled or checked.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrClassifierTimeout indicates a classifier exceeded its time budget.
	ErrClassifierTimeout = errors.New("classifier timeout")

	// ErrConflictUnresolved indicates no strategy, fallback included, could
	// resolve a conflict.
	ErrConflictUnresolved = errors.New("conflict unresolved")

	// ErrInvariantViolation indicates a resolution tried to suppress a
	// protected violation.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrEvaluationFailed indicates an evaluation that could not complete.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrNoSnapshot indicates no rule snapshot has been published.
	ErrNoSnapshot = errors.New("no rule snapshot published")

	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrContentTooLarge indicates content above the configured size limit.
	ErrContentTooLarge = errors.New("content too large")

	// ErrUnknownStrategy indicates a strategy name outside the closed set.
	ErrUnknownStrategy = errors.New("unknown resolution strategy")

	// ErrInvalidOverride indicates an override token that does not match
	// any warning the rule could have produced for the content.
	ErrInvalidOverride = errors.New("invalid override")

	// ErrOverrideNotAllowed indicates the rule does not permit overrides.
	ErrOverrideNotAllowed = errors.New("override not allowed")

	// ErrJustificationRequired indicates an override without the
	// justification the rule requires.
	ErrJustificationRequired = errors.New("override justification required")
)

// ErrorKind classifies contained evaluation failures.
type ErrorKind string

const (
	KindMalformedRule      ErrorKind = "malformed_rule"
	KindClassifierTimeout  ErrorKind = "classifier_timeout"
	KindConflictUnresolved ErrorKind = "conflict_unresolved"
	KindInvariantViolation ErrorKind = "invariant_violation"
	KindEvaluationFailed   ErrorKind = "evaluation_failed"
)

// sentinel returns the sentinel error matching the kind.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformedRule:
		return ErrMalformedRule
	case KindClassifierTimeout:
		return ErrClassifierTimeout
	case KindConflictUnresolved:
		return ErrConflictUnresolved
	case KindInvariantViolation:
		return ErrInvariantViolation
	default:
		return ErrEvaluationFailed
	}
}

// EvalError is the error type for every contained or fatal evaluation
// failure. errors.Is matches both the kind's sentinel and the cause.
type EvalError struct {
	Kind   ErrorKind
	RuleID string
	Err    error
}

// Error returns the error message.
func (e *EvalError) Error() string {
	switch {
	case e.RuleID != "" && e.Err != nil:
		return fmt.Sprintf("%s: rule %s: %v", e.Kind, e.RuleID, e.Err)
	case e.RuleID != "":
		return fmt.Sprintf("%s: rule %s", e.Kind, e.RuleID)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the kind's sentinel and the underlying cause.
func (e *EvalError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newEvalError(kind ErrorKind, ruleID string, err error) *EvalError {
	return &EvalError{Kind: kind, RuleID: ruleID, Err: err}
}

// asRuleError converts err into the contained form reported in results.
func asRuleError(err error) RuleError {
	var ee *EvalError
	if errors.As(err, &ee) {
		re := RuleError{RuleID: ee.RuleID, Kind: ee.Kind, Message: string(ee.Kind)}
		if ee.Err != nil {
			re.Message = ee.Err.Error()
		}
		return re
	}
	return RuleError{Kind: KindEvaluationFailed, Message: err.Error()}
}
