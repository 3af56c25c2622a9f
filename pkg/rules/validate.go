package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Known parameter names with built-in checks.
const (
	ParamMaxQuoteLength = "max_quote_length"
	ParamMaxWords       = "max_words"
)

// checkParameters are the parameters that act as detectors on their own.
var checkParameters = []string{ParamMaxQuoteLength, ParamMaxWords}

// HasDetector reports whether the rule can ever produce a match.
func (r *Rule) HasDetector() bool {
	if !r.Patterns.Empty() {
		return true
	}
	for _, name := range checkParameters {
		if _, ok := r.Parameters[name]; ok {
			return true
		}
	}
	return false
}

// Normalize fills defaults for optional fields. It returns a modified copy.
func Normalize(r Rule) Rule {
	r.ID = strings.TrimSpace(r.ID)
	if r.Version == "" {
		r.Version = DefaultVersion
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Override == "" {
		r.Override = OverrideNone
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	return r
}

// Validate checks the structure of a rule. It does not compile regular
// expressions; see Lint for that. A structurally valid rule with a malformed
// pattern is isolated by the engine at evaluation time.
func Validate(r *Rule) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.ID) == "" {
		add("id", "rule id cannot be empty")
	}
	if !r.Tier.Valid() {
		add("tier", "invalid tier %q: must be 'safety', 'operational', or 'preference'", r.Tier)
	}
	if !r.Severity.Valid() {
		add("severity", "invalid severity %q", r.Severity)
	}
	if !r.Mode.Valid() {
		add("mode", "invalid mode %q: must be 'strict', 'advisory', or 'adaptive'", r.Mode)
	}
	if r.Status != "" && !r.Status.Valid() {
		add("status", "invalid status %q", r.Status)
	}
	if r.Override != "" && !r.Override.Valid() {
		add("override", "invalid override policy %q", r.Override)
	}
	if t := r.Patterns.ConfidenceThreshold; t < 0 || t > 1 {
		add("patterns.confidence_threshold", "must be between 0.0 and 1.0, got %v", t)
	}
	if !r.HasDetector() {
		add("patterns", "rule needs at least one keyword, regex, classifier, or check parameter")
	}
	for _, kw := range r.Patterns.Keywords {
		if strings.TrimSpace(kw) == "" {
			add("patterns.keywords", "keywords cannot be blank")
			break
		}
	}
	for _, name := range checkParameters {
		if n, ok, err := r.IntParameter(name); err != nil {
			add("parameters."+name, "%v", err)
		} else if ok && n <= 0 {
			add("parameters."+name, "must be positive, got %d", n)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Lint runs Validate and additionally compiles every regular expression.
func Lint(r *Rule) error {
	var errs []FieldError
	if err := Validate(r); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			errs = append(errs, ve.Errors...)
		}
	}
	for i, expr := range r.Patterns.Regex {
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, FieldError{
				RuleID:  r.ID,
				Field:   fmt.Sprintf("patterns.regex[%d]", i),
				Message: err.Error(),
			})
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
