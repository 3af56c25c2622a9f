package rules

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validRule(id string, tier Tier) Rule {
	return Rule{
		ID:       id,
		Tier:     tier,
		Severity: SeverityMedium,
		Mode:     ModeAdvisory,
		Patterns: Pattern{Keywords: []string{"example"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr string
	}{
		{name: "valid", mutate: func(r *Rule) {}},
		{name: "empty id", mutate: func(r *Rule) { r.ID = "  " }, wantErr: "rule id cannot be empty"},
		{name: "bad tier", mutate: func(r *Rule) { r.Tier = "urgent" }, wantErr: "invalid tier"},
		{name: "bad severity", mutate: func(r *Rule) { r.Severity = "extreme" }, wantErr: "invalid severity"},
		{name: "bad mode", mutate: func(r *Rule) { r.Mode = "loud" }, wantErr: "invalid mode"},
		{name: "threshold out of range", mutate: func(r *Rule) { r.Patterns.ConfidenceThreshold = 1.5 }, wantErr: "between 0.0 and 1.0"},
		{name: "no detector", mutate: func(r *Rule) { r.Patterns = Pattern{} }, wantErr: "at least one"},
		{
			name: "parameter check only",
			mutate: func(r *Rule) {
				r.Patterns = Pattern{}
				r.Parameters = map[string]any{ParamMaxQuoteLength: 100}
			},
		},
		{
			name: "non-integer parameter",
			mutate: func(r *Rule) {
				r.Parameters = map[string]any{ParamMaxQuoteLength: 10.5}
			},
			wantErr: "not an integer",
		},
		{
			name: "negative parameter",
			mutate: func(r *Rule) {
				r.Parameters = map[string]any{ParamMaxWords: -1}
			},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule("r1", TierOperational)
			tt.mutate(&r)
			err := Validate(&r)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Validate() error should wrap ErrInvalidRule")
			}
		})
	}
}

func TestLintCompilesRegex(t *testing.T) {
	r := validRule("bad-regex", TierPreference)
	r.Patterns.Regex = []string{"([unclosed"}

	if err := Validate(&r); err != nil {
		t.Fatalf("Validate() should not compile regex, got %v", err)
	}
	err := Lint(&r)
	if err == nil {
		t.Fatal("Lint() expected regex error")
	}
	if !strings.Contains(err.Error(), "patterns.regex[0]") {
		t.Errorf("Lint() error = %q, want field patterns.regex[0]", err.Error())
	}
}

func TestNormalize(t *testing.T) {
	r := Normalize(Rule{ID: " spaced "})
	if r.ID != "spaced" {
		t.Errorf("ID = %q, want trimmed", r.ID)
	}
	if r.Version != DefaultVersion || r.Status != StatusActive || r.Override != OverrideNone {
		t.Errorf("defaults not applied: %+v", r)
	}
	if r.Name != "spaced" {
		t.Errorf("Name = %q, want id fallback", r.Name)
	}
}

func TestRuleSetOrderingAndLookup(t *testing.T) {
	set, err := NewRuleSet(3, time.Unix(0, 0), []Rule{
		validRule("pref-b", TierPreference),
		validRule("safe-z", TierSafety),
		validRule("ops-a", TierOperational),
		validRule("pref-a", TierPreference),
		validRule("safe-a", TierSafety),
	})
	if err != nil {
		t.Fatalf("NewRuleSet() error: %v", err)
	}

	var ids []string
	for _, r := range set.Rules() {
		ids = append(ids, r.ID)
	}
	want := "safe-a,safe-z,ops-a,pref-a,pref-b"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	if got := len(set.ByTier(TierSafety)); got != 2 {
		t.Errorf("ByTier(safety) = %d rules, want 2", got)
	}
	if got := set.ByTier(TierOperational); len(got) != 1 || got[0].ID != "ops-a" {
		t.Errorf("ByTier(operational) = %v", got)
	}
	if got := len(set.ByTier(TierPreference)); got != 2 {
		t.Errorf("ByTier(preference) = %d rules, want 2", got)
	}

	if r, ok := set.Get("ops-a"); !ok || r.Tier != TierOperational {
		t.Errorf("Get(ops-a) = %v, %v", r, ok)
	}
	if _, ok := set.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}
	if set.Version() != 3 {
		t.Errorf("Version() = %d, want 3", set.Version())
	}
}

func TestRuleSetRejectsDuplicates(t *testing.T) {
	_, err := NewRuleSet(1, time.Now(), []Rule{
		validRule("dup", TierSafety),
		validRule("dup", TierPreference),
	})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("NewRuleSet() error = %v, want ErrInvalidRule", err)
	}
}

func TestRuleSetIsolatedFromInput(t *testing.T) {
	input := []Rule{validRule("r1", TierSafety)}
	set, err := NewRuleSet(1, time.Now(), input)
	if err != nil {
		t.Fatal(err)
	}
	input[0].Patterns.Keywords[0] = "mutated"

	r, _ := set.Get("r1")
	if r.Patterns.Keywords[0] != "example" {
		t.Errorf("snapshot changed after input mutation: %v", r.Patterns.Keywords)
	}
}

func TestTagValues(t *testing.T) {
	r := Rule{Tags: []string{"domain:technical", "role:admin", "domain:legal", "misc"}}
	got := r.TagValues("domain")
	if strings.Join(got, ",") != "technical,legal" {
		t.Errorf("TagValues(domain) = %v", got)
	}
	if len(r.TagValues("audience")) != 0 {
		t.Error("TagValues(audience) should be empty")
	}
}

func TestOrderings(t *testing.T) {
	if !(TierSafety.Rank() > TierOperational.Rank() && TierOperational.Rank() > TierPreference.Rank()) {
		t.Error("tier ranks are not totally ordered")
	}
	if !(SeverityCritical.Rank() > SeverityHigh.Rank() && SeverityMedium.Rank() > SeverityLow.Rank()) {
		t.Error("severity ranks are not ordered")
	}
	if SeverityCritical.Weight() != 1.0 || SeverityLow.Weight() != 0.25 {
		t.Errorf("severity weights = %v, %v", SeverityCritical.Weight(), SeverityLow.Weight())
	}
	if !(ModeStrict.Rank() > ModeAdaptive.Rank() && ModeAdaptive.Rank() > ModeAdvisory.Rank()) {
		t.Error("mode ranks are not ordered")
	}
}
