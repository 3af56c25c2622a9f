package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
	"mercator-hq/rulegate/pkg/rules"
	"mercator-hq/rulegate/pkg/rules/source"
)

var lintFlags struct {
	file   string
	dir    string
	strict bool
	format string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule files",
	Long: `Validate rule files for syntax and semantic errors.

The lint command parses rule files and checks every rule:
  - YAML syntax and unknown fields
  - Rule structure (tier, severity, mode, override policy)
  - Regular expressions compile
  - Rule IDs are unique across all files

It also warns about rules that are valid but probably not what the author
meant, such as a threshold no detector can reach.

Examples:
  # Lint single file
  rulegate lint --file rules/safety.yaml

  # Lint directory
  rulegate lint --dir rules/

  # Strict mode (warnings as errors)
  rulegate lint --dir rules/ --strict

  # JSON output for CI/CD
  rulegate lint --dir rules/ --format json`,
	RunE: lintRules,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "rule file to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of rule files")
	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
}

// LintResult is the lint outcome for a single rule file.
type LintResult struct {
	File     string      `json:"file"`
	Valid    bool        `json:"valid"`
	Rules    int         `json:"rules"`
	Errors   []LintIssue `json:"errors,omitempty"`
	Warnings []LintIssue `json:"warnings,omitempty"`
}

// LintIssue is a single lint error or warning.
type LintIssue struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func lintRules(cmd *cobra.Command, args []string) error {
	if lintFlags.file == "" && lintFlags.dir == "" {
		return cli.NewUsageError("either --file or --dir must be specified")
	}
	format, err := cli.ParseFormat(lintFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}

	files, err := lintTargets(lintFlags.file, lintFlags.dir)
	if err != nil {
		return err
	}

	results := lintFiles(files)

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(cli.FormatJSON).FormatTo(out, results); err != nil {
			return err
		}
	} else {
		printLintText(out, results, lintFlags.strict)
	}

	errCount, warnCount := 0, 0
	for _, r := range results {
		errCount += len(r.Errors)
		warnCount += len(r.Warnings)
	}
	if errCount > 0 {
		return cli.NewCommandError("lint", fmt.Errorf("%d error(s) found", errCount))
	}
	if lintFlags.strict && warnCount > 0 {
		return cli.NewCommandError("lint", fmt.Errorf("%d warning(s) found in strict mode", warnCount))
	}
	return nil
}

func lintTargets(file, dir string) ([]string, error) {
	var files []string
	if file != "" {
		files = append(files, file)
	}
	if dir != "" {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("failed to list rule files: %w", err)
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return nil, cli.NewUsageError("no rule files found")
	}
	sort.Strings(files)
	return files, nil
}

// lintFiles lints every file and reports rule IDs defined more than once.
func lintFiles(files []string) []LintResult {
	results := make([]LintResult, 0, len(files))
	definedIn := make(map[string]string)

	for _, file := range files {
		result, loaded := lintFile(file)
		for _, r := range loaded {
			if prev, dup := definedIn[r.ID]; dup {
				result.Errors = append(result.Errors, LintIssue{
					RuleID:  r.ID,
					Field:   "id",
					Message: fmt.Sprintf("duplicate rule id, first defined in %s", prev),
				})
				continue
			}
			definedIn[r.ID] = file
		}
		result.Valid = len(result.Errors) == 0
		results = append(results, result)
	}
	return results
}

func lintFile(path string) (LintResult, []rules.Rule) {
	result := LintResult{File: path}

	if _, err := os.Stat(path); err != nil {
		result.Errors = append(result.Errors, LintIssue{Message: err.Error()})
		return result, nil
	}

	loaded, err := source.LoadFile(path)
	if err != nil {
		var ve *rules.ValidationError
		if errors.As(err, &ve) {
			for _, fe := range ve.Errors {
				result.Errors = append(result.Errors, LintIssue{RuleID: fe.RuleID, Field: fe.Field, Message: fe.Message})
			}
		} else {
			result.Errors = append(result.Errors, LintIssue{Message: err.Error()})
		}
		return result, nil
	}

	result.Rules = len(loaded)
	for i := range loaded {
		r := &loaded[i]
		if err := rules.Lint(r); err != nil {
			var ve *rules.ValidationError
			if errors.As(err, &ve) {
				for _, fe := range ve.Errors {
					result.Errors = append(result.Errors, LintIssue{RuleID: fe.RuleID, Field: fe.Field, Message: fe.Message})
				}
			}
		}
		result.Warnings = append(result.Warnings, lintWarnings(r)...)
	}
	return result, loaded
}

// lintWarnings flags valid rules that probably do not behave as intended.
func lintWarnings(r *rules.Rule) []LintIssue {
	var warnings []LintIssue
	warn := func(field, format string, args ...any) {
		warnings = append(warnings, LintIssue{RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if reach := engine.MaxConfidence(*r); reach > 0 && r.Patterns.Threshold() > reach {
		warn("patterns.confidence_threshold",
			"threshold %.2f is above the %.2f its detectors can reach; the rule never matches",
			r.Patterns.Threshold(), reach)
	}
	if r.Tier == rules.TierSafety && r.Mode != rules.ModeStrict {
		warn("mode", "safety rule in %s mode can be suppressed by conflict resolution", r.Mode)
	}
	if r.IsStrictSafety() && r.Override != rules.OverrideNone {
		warn("override", "strict safety rules block and are never overridable; override policy %q has no effect", r.Override)
	}
	if r.Status == rules.StatusInactive {
		warn("status", "rule is inactive and will not be evaluated")
	}
	if r.Message == "" {
		warn("message", "rule has no message; violations will be reported without explanation")
	}
	return warnings
}

func printLintText(out io.Writer, results []LintResult, strict bool) {
	totalErrors := 0
	totalWarnings := 0

	for _, result := range results {
		fmt.Fprintf(out, "Validating %s...\n", result.File)

		if len(result.Errors) == 0 && len(result.Warnings) == 0 {
			fmt.Fprintf(out, "✓ %d rule(s) valid\n", result.Rules)
		}
		for _, issue := range result.Errors {
			fmt.Fprintf(out, "✗ Error: %s\n", formatIssue(issue))
			totalErrors++
		}
		for _, issue := range result.Warnings {
			fmt.Fprintf(out, "⚠  Warning: %s\n", formatIssue(issue))
			totalWarnings++
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  %d error(s), %d warning(s)\n", totalErrors, totalWarnings)
	if strict && totalWarnings > 0 {
		fmt.Fprintln(out, "  Strict mode enabled: treating warnings as errors")
	}
}

func formatIssue(issue LintIssue) string {
	switch {
	case issue.RuleID != "" && issue.Field != "":
		return fmt.Sprintf("%s [rule %s, %s]", issue.Message, issue.RuleID, issue.Field)
	case issue.RuleID != "":
		return fmt.Sprintf("%s [rule %s]", issue.Message, issue.RuleID)
	default:
		return issue.Message
	}
}
