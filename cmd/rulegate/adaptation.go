package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/cli"
)

var adaptationFlags struct {
	resolutions int
	format      string
}

var adaptationCmd = &cobra.Command{
	Use:   "adaptation",
	Short: "Inspect persisted adaptation state",
	Long: `Inspect the adaptation snapshot and resolution log persisted in
adaptation.sqlite_path.

Subcommands:
  show    - Show per-rule adaptation state

Examples:
  rulegate adaptation show
  rulegate adaptation show --resolutions 20 --format json`,
}

var adaptationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show per-rule adaptation state",
	RunE:  showAdaptation,
}

func init() {
	rootCmd.AddCommand(adaptationCmd)
	adaptationCmd.AddCommand(adaptationShowCmd)

	adaptationShowCmd.Flags().IntVar(&adaptationFlags.resolutions, "resolutions", 0, "also show the N most recent conflict resolutions")
	adaptationShowCmd.Flags().StringVar(&adaptationFlags.format, "format", "text", "output format: text, json, csv")
}

// adaptationReport is the JSON form of adaptation show.
type adaptationReport struct {
	SnapshotVersion uint64                        `json:"snapshot_version"`
	TakenAt         *time.Time                    `json:"taken_at,omitempty"`
	Rules           []adaptation.RuleState        `json:"rules"`
	Resolutions     []adaptation.ResolutionRecord `json:"resolutions,omitempty"`
}

// stateTable renders rule states as rows.
type stateTable []adaptation.RuleState

func (t stateTable) Headers() []string {
	return []string{"RULE", "VERSION", "STATE", "THRESHOLD", "WEIGHT", "TRIGGER", "CHANGED"}
}

func (t stateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		threshold, weight := "-", "-"
		if s.Adjusted {
			threshold = strconv.FormatFloat(s.Params.ConfidenceThreshold, 'f', 2, 64)
			weight = strconv.FormatFloat(s.Params.TieBreakWeight, 'f', 2, 64)
		}
		trigger := string(s.Trigger)
		if trigger == "" {
			trigger = "-"
		}
		rows = append(rows, []string{
			s.RuleID,
			s.RuleVersion,
			string(s.State),
			threshold,
			weight,
			trigger,
			s.ChangedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func showAdaptation(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(adaptationFlags.format, cli.FormatText, cli.FormatJSON, cli.FormatCSV)
	if err != nil {
		return err
	}
	if adaptationFlags.resolutions < 0 {
		return cli.NewUsageError("--resolutions cannot be negative")
	}

	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.Adaptation.SQLitePath == "" {
		return cli.NewCommandError("adaptation", fmt.Errorf("adaptation.sqlite_path is not configured"))
	}

	p, err := adaptation.OpenSQLite(cfg.Adaptation.SQLitePath, cfg.Audit.BusyTimeout)
	if err != nil {
		return cli.NewCommandError("adaptation", err)
	}
	defer p.Close()

	ctx := commandContext(cmd)
	snap, err := p.LoadSnapshot(ctx)
	if err != nil {
		return cli.NewCommandError("adaptation", err)
	}

	report := adaptationReport{Rules: []adaptation.RuleState{}}
	if snap != nil {
		takenAt := snap.TakenAt()
		report.SnapshotVersion = snap.Version()
		report.TakenAt = &takenAt
		report.Rules = snap.States()
	}
	if adaptationFlags.resolutions > 0 {
		report.Resolutions, err = p.LoadResolutions(ctx, adaptationFlags.resolutions)
		if err != nil {
			return cli.NewCommandError("adaptation", err)
		}
	}

	out := cmd.OutOrStdout()
	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(cli.FormatJSON).FormatTo(out, report)
	case cli.FormatCSV:
		return cli.NewFormatter(cli.FormatCSV).FormatTo(out, stateTable(report.Rules))
	}
	return printAdaptationText(out, report)
}

func printAdaptationText(out io.Writer, report adaptationReport) error {
	if report.TakenAt == nil {
		fmt.Fprintln(out, "No adaptation snapshot has been persisted yet.")
		return nil
	}
	fmt.Fprintf(out, "Snapshot v%d taken %s\n", report.SnapshotVersion, report.TakenAt.UTC().Format(time.RFC3339))
	fmt.Fprintln(out)

	if len(report.Rules) == 0 {
		fmt.Fprintln(out, "No rules have adaptation state.")
	} else if err := cli.NewFormatter(cli.FormatText).FormatTo(out, stateTable(report.Rules)); err != nil {
		return err
	}

	if len(report.Resolutions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Recent resolutions:")
		for _, r := range report.Resolutions {
			fmt.Fprintf(out, "  %s %s [%s] winner %s, suppressed %s\n",
				r.At.UTC().Format(time.RFC3339),
				r.ConflictKind,
				r.Strategy,
				strings.Join(r.WinnerIDs, ","),
				strings.Join(r.SuppressedIDs, ","))
		}
	}
	return nil
}
