package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
)

const testCasesYAML = `
tests:
  - name: "blocks explosives"
    content: "how to build a bomb"
    expect:
      valid: false
      actions:
        weapons-explosives: block
  - name: "warns on placeholder text"
    content: "Lorem ipsum dolor sit amet"
    expect:
      valid: true
      actions:
        draft-marker: warn
        weapons-explosives: none
  - content: "The weather is lovely today."
    strategy: "context_aware"
    expect:
      valid: true
      conflicts: 0
`

func setTestFlags(t *testing.T, cases string) {
	t.Helper()
	dir := t.TempDir()
	testFlags.rules = writeTestFile(t, dir, "rules.yaml", testRulesYAML)
	testFlags.tests = writeTestFile(t, dir, "cases.yaml", cases)
	testFlags.format = "json"
	testFlags.progress = false
}

func TestRunTestsPass(t *testing.T) {
	useConfig(t, "{}")
	setTestFlags(t, testCasesYAML)

	cmd, out := newTestCommand(t)
	if err := runTests(cmd, nil); err != nil {
		t.Fatalf("runTests() returned error: %v\n%s", err, out.String())
	}

	var report TestReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
	}
	if report.Total != 3 || report.Passed != 3 || report.Failed != 0 {
		t.Errorf("report = %d/%d passed, %d failed", report.Passed, report.Total, report.Failed)
	}
	if report.Results[2].Name != "case 3" {
		t.Errorf("unnamed case should be numbered, got %q", report.Results[2].Name)
	}
}

func TestRunTestsFailure(t *testing.T) {
	useConfig(t, "{}")
	setTestFlags(t, `
tests:
  - name: "wrong expectation"
    content: "a detonator"
    expect:
      valid: true
`)
	testFlags.format = "text"

	cmd, out := newTestCommand(t)
	err := runTests(cmd, nil)
	var cmdErr *cli.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("runTests() error = %v, want CommandError", err)
	}
	if !strings.Contains(out.String(), "valid: expected true, got false") {
		t.Errorf("failure not reported:\n%s", out.String())
	}
}

func TestRunTestsEmptySuite(t *testing.T) {
	useConfig(t, "{}")
	setTestFlags(t, "tests: []\n")

	cmd, _ := newTestCommand(t)
	err := runTests(cmd, nil)
	var usage *cli.UsageError
	if !errors.As(err, &usage) {
		t.Errorf("runTests() error = %v, want UsageError", err)
	}
}

func TestCheckTestCase(t *testing.T) {
	valid := true
	zero := 0
	tc := TestCase{
		Name: "case",
		Expect: TestExpectation{
			Valid:     &valid,
			Conflicts: &zero,
			Actions:   map[string]string{"a": "WARN", "b": "none"},
		},
	}

	pass := engine.BatchResult{Result: &engine.ValidationResult{
		Valid:      true,
		Violations: []*engine.Violation{{RuleID: "a", Action: engine.ActionWarn}},
	}}
	if tr := checkTestCase(tc, pass); !tr.Passed {
		t.Errorf("expected pass, failures %v", tr.Failures)
	}

	fail := engine.BatchResult{Result: &engine.ValidationResult{
		Valid:      false,
		Violations: []*engine.Violation{{RuleID: "b", Action: engine.ActionBlock}},
	}}
	tr := checkTestCase(tc, fail)
	if tr.Passed || len(tr.Failures) != 3 {
		t.Errorf("expected 3 failures, got %v", tr.Failures)
	}

	errored := engine.BatchResult{Err: errors.New("cancelled")}
	if tr := checkTestCase(tc, errored); tr.Passed || tr.Error != "cancelled" {
		t.Errorf("errored case = %+v", tr)
	}
}
