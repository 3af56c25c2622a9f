package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuleSet(t *testing.T, rs ...rules.Rule) *rules.RuleSet {
	t.Helper()
	set, err := rules.NewRuleSet(1, time.Unix(0, 0), rs)
	if err != nil {
		t.Fatalf("failed to build rule set: %v", err)
	}
	return set
}

func newTestEngine(t *testing.T, set *rules.RuleSet, opts ...Option) *Engine {
	t.Helper()
	return newTestEngineWithConfig(t, DefaultConfig(), set, opts...)
}

func newTestEngineWithConfig(t *testing.T, cfg *Config, set *rules.RuleSet, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	eng, err := New(cfg, StaticSource(set), opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func keywordRule(id string, tier rules.Tier, sev rules.Severity, mode rules.Mode, keywords ...string) rules.Rule {
	return rules.Rule{
		ID:       id,
		Version:  "1.0.0",
		Tier:     tier,
		Severity: sev,
		Mode:     mode,
		Patterns: rules.Pattern{Keywords: keywords},
		Message:  id + " matched",
	}
}

func mustEvaluate(t *testing.T, eng *Engine, content string, c Context) *ValidationResult {
	t.Helper()
	res, err := eng.Evaluate(context.Background(), content, c)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	return res
}

func findViolation(res *ValidationResult, ruleID string) *Violation {
	for _, v := range res.Violations {
		if v.RuleID == ruleID {
			return v
		}
	}
	return nil
}

func findSuggestion(res *ValidationResult, ruleID, typ string) *Suggestion {
	for i := range res.Suggestions {
		if res.Suggestions[i].SourceRule == ruleID && res.Suggestions[i].Type == typ {
			return &res.Suggestions[i]
		}
	}
	return nil
}

func hasError(res *ValidationResult, ruleID string, kind ErrorKind) bool {
	for _, e := range res.Errors {
		if e.RuleID == ruleID && e.Kind == kind {
			return true
		}
	}
	return false
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}
