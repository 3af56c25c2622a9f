package engine

import (
	"context"
	"errors"
	"testing"

	"mercator-hq/rulegate/pkg/rules"
)

func TestActionFor(t *testing.T) {
	tests := []struct {
		mode rules.Mode
		sev  rules.Severity
		want Action
	}{
		{rules.ModeStrict, rules.SeverityLow, ActionBlock},
		{rules.ModeAdvisory, rules.SeverityCritical, ActionWarn},
		{rules.ModeAdaptive, rules.SeverityCritical, ActionAdapt},
		{rules.ModeAdaptive, rules.SeverityHigh, ActionAdapt},
		{rules.ModeAdaptive, rules.SeverityMedium, ActionSuggest},
		{rules.ModeAdaptive, rules.SeverityLow, ActionSuggest},
		{"unknown", rules.SeverityLow, ActionBlock},
	}
	for _, tt := range tests {
		v := &Violation{Mode: tt.mode, Severity: tt.sev}
		if got := actionFor(v); got != tt.want {
			t.Errorf("actionFor(%s, %s) = %s, want %s", tt.mode, tt.sev, got, tt.want)
		}
	}
}

func TestDispatch_TierTotality(t *testing.T) {
	eng := newTestEngine(t, newRuleSet(t))
	vs := []*Violation{
		violation("safety-block", rules.TierSafety, rules.SeverityCritical, rules.ModeStrict, 0.8, Span{0, 4}),
		violation("op-warn", rules.TierOperational, rules.SeverityHigh, rules.ModeAdvisory, 0.9, Span{10, 14}),
		violation("pref-suggest", rules.TierPreference, rules.SeverityLow, rules.ModeAdaptive, 0.9, Span{20, 24}),
	}

	out := eng.dispatch(context.Background(), "bomb      spam      fmt!", Digest("x"), vs, nil)
	if len(out.enforced) != 1 || out.enforced[0].RuleID != "safety-block" {
		t.Fatalf("enforced = %v, want only the safety block", ruleIDs(out.enforced))
	}
	if len(out.warnings) != 0 {
		t.Errorf("lower-tier warnings must not be enforced: %+v", out.warnings)
	}
	lower := 0
	for _, s := range out.suggestions {
		if s.Type == SuggestionLowerTier {
			lower++
		}
	}
	if lower != 2 {
		t.Errorf("lower-tier suggestions = %d, want 2", lower)
	}
	if out.score != 0.2 {
		t.Errorf("score = %v, want 0.2", out.score)
	}
}

func TestDispatch_SuppressedBecomeSuggestions(t *testing.T) {
	eng := newTestEngine(t, newRuleSet(t))
	a := violation("a", rules.TierOperational, rules.SeverityHigh, rules.ModeAdvisory, 0.8, Span{0, 4})
	b := violation("b", rules.TierOperational, rules.SeverityLow, rules.ModeStrict, 0.8, Span{0, 4})

	out := eng.dispatch(context.Background(), "text", Digest("text"), []*Violation{a, b}, map[string]bool{"b": true})
	if len(out.enforced) != 1 || out.enforced[0].RuleID != "a" {
		t.Fatalf("enforced = %v, want [a]", ruleIDs(out.enforced))
	}
	if b.Action != "" {
		t.Errorf("suppressed violation kept action %q", b.Action)
	}
	found := false
	for _, s := range out.suggestions {
		if s.Type == SuggestionSuppressed && s.SourceRule == "b" {
			found = true
		}
	}
	if !found {
		t.Error("suppressed violation should surface as a suggestion")
	}
}

func TestDispatch_AdaptAndEscalation(t *testing.T) {
	content := "my password is hunter2"
	adaptV := func() *Violation {
		return violation("pii", rules.TierOperational, rules.SeverityHigh, rules.ModeAdaptive, 0.9, Span{15, 22})
	}
	prefV := func() *Violation {
		return violation("tone", rules.TierPreference, rules.SeverityLow, rules.ModeAdvisory, 0.8, Span{0, 2})
	}

	t.Run("adapted content", func(t *testing.T) {
		eng := newTestEngine(t, newRuleSet(t))
		out := eng.dispatch(context.Background(), content, Digest(content), []*Violation{adaptV(), prefV()}, nil)
		if out.adaptedContent == nil {
			t.Fatal("expected adapted content")
		}
		if *out.adaptedContent != "my password is *******" {
			t.Errorf("adapted content = %q", *out.adaptedContent)
		}
		if len(out.enforced) != 2 {
			t.Errorf("enforced = %v, want both violations", ruleIDs(out.enforced))
		}
	})

	t.Run("transformer failure escalates to block", func(t *testing.T) {
		failing := TransformerFunc(func(context.Context, string, []Span) (string, error) {
			return "", errors.New("rewrite failed")
		})
		eng := newTestEngine(t, newRuleSet(t), WithTransformer(failing))
		out := eng.dispatch(context.Background(), content, Digest(content), []*Violation{adaptV(), prefV()}, nil)
		if out.adaptedContent != nil {
			t.Error("no adapted content expected after a transformer failure")
		}
		if len(out.enforced) != 1 || out.enforced[0].Action != ActionBlock {
			t.Fatalf("enforced = %+v, want the escalated block only", out.enforced)
		}
		if len(out.errs) != 1 || out.errs[0].RuleID != "pii" {
			t.Errorf("errs = %+v", out.errs)
		}
	})
}

func TestDispatch_Warnings(t *testing.T) {
	eng := newTestEngine(t, newRuleSet(t))
	digest := Digest("content")
	free := violation("free", rules.TierOperational, rules.SeverityMedium, rules.ModeAdvisory, 0.8, Span{0, 3})
	free.override = rules.OverrideFree
	justified := violation("justified", rules.TierOperational, rules.SeverityMedium, rules.ModeAdvisory, 0.8, Span{0, 3})
	justified.override = rules.OverrideJustificationRequired
	locked := violation("locked", rules.TierOperational, rules.SeverityMedium, rules.ModeAdvisory, 0.8, Span{0, 3})
	locked.override = rules.OverrideNone

	out := eng.dispatch(context.Background(), "content", digest, []*Violation{free, justified, locked}, nil)
	byRule := make(map[string]Warning)
	for _, w := range out.warnings {
		byRule[w.RuleID] = w
	}
	if byRule["free"].OverrideToken != OverrideToken("free", digest) || byRule["free"].JustificationRequired {
		t.Errorf("unexpected free warning %+v", byRule["free"])
	}
	if byRule["justified"].OverrideToken == "" || !byRule["justified"].JustificationRequired {
		t.Errorf("unexpected justified warning %+v", byRule["justified"])
	}
	if byRule["locked"].OverrideToken != "" {
		t.Errorf("rules without override policy must not carry a token: %+v", byRule["locked"])
	}
}

func TestRedactor(t *testing.T) {
	content := "call 555-1234 or 555-9876 now"
	spans := []Span{{5, 13}, {17, 25}, {8, 10}}
	tests := []struct {
		cfg  RedactionConfig
		want string
	}{
		{RedactionConfig{Strategy: RedactMask}, "call ******** or ******** now"},
		{RedactionConfig{Strategy: RedactRemove}, "call  or  now"},
		{RedactionConfig{Strategy: RedactReplace, Replacement: "[phone]"}, "call [phone] or [phone] now"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cfg.Strategy), func(t *testing.T) {
			got, err := NewRedactor(tt.cfg).Transform(context.Background(), content, spans)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewRedactor(RedactionConfig{Strategy: RedactMask}).Transform(context.Background(), "abc", []Span{{2, 9}}); err == nil {
		t.Error("expected error for a span outside the content")
	}
}
