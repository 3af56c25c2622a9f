package rules

import (
	"fmt"
	"strings"
)

// Tier is one of the three fixed priority classes of a rule.
type Tier string

const (
	// TierSafety rules are non-negotiable.
	TierSafety Tier = "safety"

	// TierOperational rules carry legal and operational obligations.
	TierOperational Tier = "operational"

	// TierPreference rules encode organization and user preferences.
	TierPreference Tier = "preference"
)

// Tiers lists all tiers in evaluation order, highest first.
var Tiers = []Tier{TierSafety, TierOperational, TierPreference}

// Rank returns the tier's position in the total order. Higher ranks win.
// Unknown tiers rank below every known tier.
func (t Tier) Rank() int {
	switch t {
	case TierSafety:
		return 3
	case TierOperational:
		return 2
	case TierPreference:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() > 0 }

// Severity is the impact of a rule violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns the severity's position in its order. Higher ranks are more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Weight returns the severity's contribution to a validation score.
func (s Severity) Weight() float64 {
	return float64(s.Rank()) / 4
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Mode is the enforcement mode a rule requests when it matches.
type Mode string

const (
	// ModeStrict blocks matching content.
	ModeStrict Mode = "strict"

	// ModeAdvisory lets content through with a warning.
	ModeAdvisory Mode = "advisory"

	// ModeAdaptive transforms or annotates content depending on severity.
	ModeAdaptive Mode = "adaptive"
)

// Rank orders modes by restrictiveness. Strict is the most restrictive.
func (m Mode) Rank() int {
	switch m {
	case ModeStrict:
		return 3
	case ModeAdaptive:
		return 2
	case ModeAdvisory:
		return 1
	default:
		return 0
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m.Rank() > 0 }

// OverridePolicy controls whether callers may override a warning.
type OverridePolicy string

const (
	OverrideNone                  OverridePolicy = "none"
	OverrideJustificationRequired OverridePolicy = "justification_required"
	OverrideFree                  OverridePolicy = "free"
)

// Valid reports whether p is a known override policy.
func (p OverridePolicy) Valid() bool {
	switch p {
	case OverrideNone, OverrideJustificationRequired, OverrideFree:
		return true
	}
	return false
}

// Status is the lifecycle status of a rule. Only active rules are evaluated.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusTesting:
		return true
	}
	return false
}

// DefaultConfidenceThreshold is the minimum confidence a match needs when a
// rule does not set its own threshold.
const DefaultConfidenceThreshold = 0.7

// DefaultVersion is assigned to rules loaded without a version.
const DefaultVersion = "1.0.0"

// Pattern holds the detection primitives of a rule.
type Pattern struct {
	// Keywords are matched case-insensitively as literal substrings.
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// Regex are Go regular expressions matched against the raw content.
	Regex []string `yaml:"regex,omitempty" json:"regex,omitempty"`

	// Classifier names an injected classifier capability. Empty disables it.
	Classifier string `yaml:"classifier,omitempty" json:"classifier,omitempty"`

	// ConfidenceThreshold is the minimum combined confidence for a match.
	// Zero means DefaultConfidenceThreshold.
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty"`
}

// Threshold returns the effective confidence threshold of the pattern.
func (p Pattern) Threshold() float64 {
	if p.ConfidenceThreshold <= 0 {
		return DefaultConfidenceThreshold
	}
	return p.ConfidenceThreshold
}

// Empty reports whether the pattern has no detection primitive at all.
func (p Pattern) Empty() bool {
	return len(p.Keywords) == 0 && len(p.Regex) == 0 && p.Classifier == ""
}

// Rule is an immutable description of a single rule.
type Rule struct {
	// ID uniquely identifies the rule within a RuleSet.
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description explains what the rule guards against.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version identifies this revision of the rule.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	Tier     Tier     `yaml:"tier" json:"tier"`
	Category string   `yaml:"category,omitempty" json:"category,omitempty"`
	Severity Severity `yaml:"severity" json:"severity"`
	Mode     Mode     `yaml:"mode" json:"mode"`
	Status   Status   `yaml:"status,omitempty" json:"status,omitempty"`

	// Patterns are the detection primitives.
	Patterns Pattern `yaml:"patterns" json:"patterns"`

	// Parameters configure built-in checks, e.g. max_quote_length.
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Override controls whether a warning produced by this rule may be overridden.
	Override OverridePolicy `yaml:"override,omitempty" json:"override,omitempty"`

	// Tags declare applicability, e.g. "domain:technical" or "role:admin".
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Message is reported with every violation of the rule.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// Suggestion is advisory text attached to warn and suggest outcomes.
	Suggestion string `yaml:"suggestion,omitempty" json:"suggestion,omitempty"`
}

// IsActive reports whether the rule takes part in evaluation.
func (r *Rule) IsActive() bool {
	return r.Status == "" || r.Status == StatusActive
}

// IsStrictSafety reports whether the rule is protected by the never-override
// guarantee.
func (r *Rule) IsStrictSafety() bool {
	return r.Tier == TierSafety && r.Mode == ModeStrict
}

// TagValues returns the values of all tags with the given key, for example
// TagValues("domain") on ["domain:legal", "domain:medical"] returns
// ["legal", "medical"].
func (r *Rule) TagValues(key string) []string {
	prefix := key + ":"
	var values []string
	for _, tag := range r.Tags {
		if v, ok := strings.CutPrefix(tag, prefix); ok {
			values = append(values, v)
		}
	}
	return values
}

// IntParameter returns the named parameter as an int. Integer-valued floats are
// accepted because YAML and JSON decoders differ in how they type numbers.
func (r *Rule) IntParameter(name string) (int, bool, error) {
	raw, ok := r.Parameters[name]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case uint64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, true, fmt.Errorf("parameter %s: %v is not an integer", name, v)
		}
		return int(v), true, nil
	default:
		return 0, true, fmt.Errorf("parameter %s: unsupported type %T", name, raw)
	}
}

// String returns a short identifier for logs.
func (r *Rule) String() string {
	return fmt.Sprintf("%s@%s[%s/%s/%s]", r.ID, r.Version, r.Tier, r.Severity, r.Mode)
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	c := r
	c.Patterns.Keywords = append([]string(nil), r.Patterns.Keywords...)
	c.Patterns.Regex = append([]string(nil), r.Patterns.Regex...)
	c.Tags = append([]string(nil), r.Tags...)
	if r.Parameters != nil {
		c.Parameters = make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	return c
}
