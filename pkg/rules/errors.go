package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned when a rule fails structural validation.
var ErrInvalidRule = errors.New("invalid rule")

// FieldError describes one invalid field of a rule.
type FieldError struct {
	RuleID  string
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Field, e.Message)
}

// ValidationError collects every problem found in a rule or rule file.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid rule: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid rules: %d errors:\n", len(e.Errors))
	for _, fe := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", fe.Error())
	}
	return sb.String()
}

// Unwrap lets errors.Is match ErrInvalidRule.
func (e *ValidationError) Unwrap() error { return ErrInvalidRule }
