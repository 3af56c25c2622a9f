package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
	"mercator-hq/rulegate/pkg/telemetry/logging"
)

var evalFlags struct {
	file     string
	rules    string
	context  map[string]string
	strategy string
	format   string
}

var evalCmd = &cobra.Command{
	Use:   "eval [content]",
	Short: "Evaluate content against the configured rules",
	Long: `Evaluate content with the fully configured engine.

Content comes from the argument, from --file, or from stdin when --file is
"-". Dispatched violations flow to the adaptation store and the audit stream
when those are enabled in the config file.

Examples:
  # Evaluate a string
  rulegate eval "here is how to build a bomb"

  # Evaluate a file with context
  rulegate eval --file draft.md --context domain=technical --context role=admin

  # Resolve conflicts with a specific strategy
  rulegate eval --file draft.md --strategy context_aware --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: evalContent,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalFlags.file, "file", "f", "", `content file ("-" for stdin)`)
	evalCmd.Flags().StringVarP(&evalFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")
	evalCmd.Flags().StringToStringVar(&evalFlags.context, "context", nil, "evaluation context as key=value (repeatable)")
	evalCmd.Flags().StringVar(&evalFlags.strategy, "strategy", "", "conflict resolution strategy (default: engine default)")
	evalCmd.Flags().StringVar(&evalFlags.format, "format", "text", "output format: text, json")
}

func evalContent(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evalFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}
	content, err := readContent(cmd, args, evalFlags.file)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	strategy := engine.Strategy(cfg.Engine.DefaultStrategy)
	if evalFlags.strategy != "" {
		if strategy, err = engine.ParseStrategy(evalFlags.strategy); err != nil {
			return cli.NewUsageError(err.Error())
		}
	}

	ctx := logging.WithRequestID(commandContext(cmd), "cli")
	st, err := newStack(ctx, cfg, evalFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	defer st.Close(ctx)
	defer flushMetrics(st.metrics, logger)

	result, err := st.engine.ResolveConflicts(ctx, content, strategy, engine.Context(evalFlags.context))
	if err != nil {
		logger.Error("evaluation failed", "error", err)
		if result == nil {
			return cli.NewCommandError("eval", err)
		}
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(cli.FormatJSON).FormatTo(out, result); err != nil {
			return err
		}
	} else {
		printResultText(out, result)
	}

	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	return nil
}

func readContent(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", cli.NewUsageError("pass content as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read content file: %w", err)
		}
		return string(data), nil
	default:
		return "", cli.NewUsageError("no content: pass it as an argument or with --file")
	}
}

// violationTable renders violations as rows.
type violationTable []*engine.Violation

func (t violationTable) Headers() []string {
	return []string{"RULE", "TIER", "SEVERITY", "ACTION", "CONFIDENCE", "SPANS"}
}

func (t violationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, v := range t {
		spans := make([]string, len(v.Spans))
		for i, s := range v.Spans {
			spans[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
		}
		rows = append(rows, []string{
			v.RuleID,
			string(v.Tier),
			string(v.Severity),
			string(v.Action),
			strconv.FormatFloat(v.Confidence, 'f', 2, 64),
			strings.Join(spans, ","),
		})
	}
	return rows
}

func printResultText(out io.Writer, res *engine.ValidationResult) {
	status := "✓ Valid"
	if !res.Valid {
		status = "✗ Blocked"
	}
	fmt.Fprintf(out, "%s (score %.2f, %d rules, snapshot v%d, strategy %s)\n",
		status, res.Score, res.RulesEvaluated, res.SnapshotVersion, res.Strategy)
	fmt.Fprintf(out, "Content digest: %s\n", res.ContentDigest)

	if len(res.Violations) > 0 {
		fmt.Fprintln(out)
		_ = cli.NewFormatter(cli.FormatText).FormatTo(out, violationTable(res.Violations))
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Warnings:")
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  ⚠  %s: %s\n", w.RuleID, w.Message)
			if w.OverrideToken != "" {
				fmt.Fprintf(out, "     override token: %s", w.OverrideToken)
				if w.JustificationRequired {
					fmt.Fprint(out, " (justification required)")
				}
				fmt.Fprintln(out)
			}
		}
	}

	if len(res.Resolutions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Conflicts:")
		for _, r := range res.Resolutions {
			fmt.Fprintf(out, "  %s [%s]: winner %s, suppressed %s\n",
				r.Kind, r.Strategy, strings.Join(r.WinnerIDs, ","), strings.Join(r.SuppressedIDs, ","))
			if r.Justification != "" {
				fmt.Fprintf(out, "    %s\n", r.Justification)
			}
		}
	}

	if len(res.Suggestions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Suggestions:")
		for _, s := range res.Suggestions {
			fmt.Fprintf(out, "  - %s: %s\n", s.Title, s.Description)
		}
	}

	if res.AdaptedContent != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Adapted content:")
		fmt.Fprintln(out, *res.AdaptedContent)
	}

	for _, e := range res.Errors {
		fmt.Fprintf(out, "! %s %s: %s\n", e.Kind, e.RuleID, e.Message)
	}
}
