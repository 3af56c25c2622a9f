package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
)

var testFlags struct {
	rules    string
	tests    string
	format   string
	progress bool
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run rule test cases",
	Long: `Evaluate test cases against rule files and compare the outcome.

Cases run as one batch through the engine configured in the config file.
Adaptation and the audit stream are disabled so results are reproducible.

Test Case Format (YAML):
  tests:
    - name: "blocks explosives"
      content: "how to build a bomb"
      context:
        domain: "technical"
      strategy: "context_aware"     # optional, defaults to engine default
      expect:
        valid: false                # optional
        conflicts: 0                # optional
        actions:                    # rule id -> block, adapt, warn, suggest, none
          weapons-explosives: block

Examples:
  # Run cases
  rulegate test --rules rules/ --tests cases.yaml

  # JSON output for CI/CD
  rulegate test --rules rules/ --tests cases.yaml --format json`,
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVarP(&testFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")
	testCmd.Flags().StringVarP(&testFlags.tests, "tests", "t", "", "test case file")
	testCmd.Flags().StringVar(&testFlags.format, "format", "text", "output format: text, json")
	testCmd.Flags().BoolVar(&testFlags.progress, "progress", false, "show a progress bar on stderr")

	// Mark required flags - panic if this fails as it's a programming error
	if err := testCmd.MarkFlagRequired("tests"); err != nil {
		panic(fmt.Sprintf("failed to mark tests flag as required: %v", err))
	}
}

// TestSuite is a collection of rule test cases.
type TestSuite struct {
	Tests []TestCase `yaml:"tests"`
}

// TestCase is a single rule test case.
type TestCase struct {
	Name     string            `yaml:"name"`
	Content  string            `yaml:"content"`
	Context  map[string]string `yaml:"context"`
	Strategy string            `yaml:"strategy"`
	Expect   TestExpectation   `yaml:"expect"`
}

// TestExpectation is the expected outcome of a test case. Unset fields are
// not checked.
type TestExpectation struct {
	Valid     *bool             `yaml:"valid"`
	Conflicts *int              `yaml:"conflicts"`
	Actions   map[string]string `yaml:"actions"`
}

// TestResult is the outcome of one test case.
type TestResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Failures []string      `json:"failures,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// TestReport summarizes a test run.
type TestReport struct {
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []TestResult `json:"results"`
}

func runTests(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(testFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}

	suite, err := loadTestCases(testFlags.tests)
	if err != nil {
		return cli.NewCommandError("test", fmt.Errorf("failed to load test cases: %w", err))
	}
	if len(suite.Tests) == 0 {
		return cli.NewUsageError(fmt.Sprintf("no test cases found in %s", testFlags.tests))
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	testCfg := *cfg
	testCfg.Adaptation.Enabled = false
	testCfg.Audit.Enabled = false

	ctx := commandContext(cmd)
	st, err := newStack(ctx, &testCfg, testFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("test", err)
	}
	defer st.Close(ctx)
	defer flushMetrics(st.metrics, logger)

	items := make([]engine.Item, len(suite.Tests))
	for i, tc := range suite.Tests {
		items[i] = engine.Item{
			Content:  tc.Content,
			Context:  engine.Context(tc.Context),
			Strategy: engine.Strategy(tc.Strategy),
		}
	}

	var progress *cli.SimpleProgress
	if testFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "cases")
		progress.Start(int64(len(items)))
	}

	// Batches of BatchConcurrency let the progress bar move while cases run.
	chunk := testCfg.Engine.BatchConcurrency
	results := make([]engine.BatchResult, 0, len(items))
	for start := 0; start < len(items); start += chunk {
		end := min(start+chunk, len(items))
		for _, br := range st.engine.EvaluateBatch(ctx, items[start:end]) {
			results = append(results, br)
			if progress != nil {
				progress.Increment()
			}
		}
	}
	if progress != nil {
		progress.Finish()
	}

	report := TestReport{Total: len(results)}
	for i, br := range results {
		tr := checkTestCase(suite.Tests[i], br)
		if tr.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, tr)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(cli.FormatJSON).FormatTo(out, report); err != nil {
			return err
		}
	} else {
		printTestText(out, report)
	}

	if report.Failed > 0 {
		return cli.NewCommandError("test", fmt.Errorf("%d of %d test(s) failed", report.Failed, report.Total))
	}
	return nil
}

func loadTestCases(path string) (*TestSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i, tc := range suite.Tests {
		if tc.Name == "" {
			suite.Tests[i].Name = fmt.Sprintf("case %d", i+1)
		}
	}
	return &suite, nil
}

// checkTestCase compares one batch result against the case expectation.
func checkTestCase(tc TestCase, br engine.BatchResult) TestResult {
	result := TestResult{Name: tc.Name}
	if br.Result != nil {
		result.Duration = br.Result.ProcessingTime
	}
	if br.Err != nil {
		result.Error = br.Err.Error()
		return result
	}
	res := br.Result

	var failures []string
	if tc.Expect.Valid != nil && res.Valid != *tc.Expect.Valid {
		failures = append(failures, fmt.Sprintf("valid: expected %v, got %v", *tc.Expect.Valid, res.Valid))
	}
	if tc.Expect.Conflicts != nil && len(res.Conflicts) != *tc.Expect.Conflicts {
		failures = append(failures, fmt.Sprintf("conflicts: expected %d, got %d", *tc.Expect.Conflicts, len(res.Conflicts)))
	}

	actual := make(map[string]string, len(res.Violations))
	for _, v := range res.Violations {
		actual[v.RuleID] = string(v.Action)
	}
	ruleIDs := make([]string, 0, len(tc.Expect.Actions))
	for id := range tc.Expect.Actions {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)
	for _, id := range ruleIDs {
		want := strings.ToLower(tc.Expect.Actions[id])
		got, ok := actual[id]
		if !ok {
			got = "none"
		}
		if got != want {
			failures = append(failures, fmt.Sprintf("rule %s: expected %s, got %s", id, want, got))
		}
	}

	result.Failures = failures
	result.Passed = len(failures) == 0
	return result
}

func printTestText(out io.Writer, report TestReport) {
	fmt.Fprintln(out, "Running rule tests...")
	fmt.Fprintln(out)

	for _, r := range report.Results {
		if r.Passed {
			fmt.Fprintf(out, "✓ %s (%.1fms)\n", r.Name, r.Duration.Seconds()*1000)
			continue
		}
		fmt.Fprintf(out, "✗ %s\n", r.Name)
		if r.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", r.Error)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  %d tests run, %d passed, %d failed\n", report.Total, report.Passed, report.Failed)
}
