package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/config"
	"mercator-hq/rulegate/pkg/rules/registry"
	"mercator-hq/rulegate/pkg/telemetry/health"
	"mercator-hq/rulegate/pkg/telemetry/tracing"
)

var doctorFlags struct {
	timeout time.Duration
	format  string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that configured components are reachable",
	Long: `Load the configuration and check each configured component: the rule
layers, the audit database, the adaptation database and the trace exporter.
Disabled components are listed but never fail the report.

Exits non-zero when any check is unhealthy.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().DurationVar(&doctorFlags.timeout, "timeout", 5*time.Second, "per-check timeout")
	doctorCmd.Flags().StringVar(&doctorFlags.format, "format", "text", "output format: text, json")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(doctorFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	checker := health.New(doctorFlags.timeout)

	checker.RegisterCheck("rules", func(ctx context.Context) error {
		reg := registry.New(ruleSource(cfg.Rules, "", logger), registry.WithLogger(logger))
		rs, err := reg.Reload(ctx)
		if err != nil {
			return err
		}
		if rs.Len() == 0 {
			return fmt.Errorf("no active rules loaded")
		}
		return nil
	})

	if cfg.Audit.Enabled {
		checker.RegisterCheck("audit", func(ctx context.Context) error {
			store, err := openAuditStorage(cfg.Audit)
			if err != nil {
				return err
			}
			defer store.Close()
			if p, ok := store.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		})
	} else {
		checker.RegisterDisabled("audit", "audit.enabled is false")
	}

	switch {
	case !cfg.Adaptation.Enabled:
		checker.RegisterDisabled("adaptation", "adaptation.enabled is false")
	case cfg.Adaptation.SQLitePath == "":
		checker.RegisterDisabled("adaptation", "in-memory only (adaptation.sqlite_path is empty)")
	default:
		checker.RegisterCheck("adaptation", func(ctx context.Context) error {
			p, err := adaptation.OpenSQLite(cfg.Adaptation.SQLitePath, cfg.Audit.BusyTimeout)
			if err != nil {
				return err
			}
			defer p.Close()
			_, err = p.LoadSnapshot(ctx)
			return err
		})
	}

	if cfg.Telemetry.Tracing.Enabled {
		checker.RegisterCheck("tracing", func(ctx context.Context) error {
			t, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
			if err != nil {
				return err
			}
			return t.Shutdown(ctx)
		})
	} else {
		checker.RegisterDisabled("tracing", "telemetry.tracing.enabled is false")
	}

	report := checker.Run(commandContext(cmd))

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(cli.FormatJSON).FormatTo(out, report); err != nil {
			return err
		}
	} else {
		printDoctorText(out, cfg, report)
	}

	if !report.Healthy() {
		return cli.NewCommandError("doctor", fmt.Errorf("%s", report.Status))
	}
	return nil
}

func printDoctorText(out io.Writer, cfg *config.Config, report health.Report) {
	fmt.Fprintf(out, "rulegate %s, default strategy %s\n\n", Version, cfg.Engine.DefaultStrategy)
	for _, c := range report.Checks {
		mark := "✓"
		switch c.Status {
		case health.StatusUnhealthy:
			mark = "✗"
		case health.StatusDisabled:
			mark = "-"
		}
		fmt.Fprintf(out, "%s %-12s %s", mark, c.Name, c.Status)
		if c.Message != "" {
			fmt.Fprintf(out, ": %s", c.Message)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "\nStatus: %s\n", report.Status)
}
