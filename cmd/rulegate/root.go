package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/config"
	"mercator-hq/rulegate/pkg/telemetry/metrics"
)

var (
	// Global flags
	cfgFile    string
	verbose    bool
	metricsOut string
)

var rootCmd = &cobra.Command{
	Use:   "rulegate",
	Short: "Rulegate - tiered rule evaluation and conflict resolution",
	Long: `Rulegate evaluates content against tiered rules (safety, operational,
preference), resolves conflicts between matching rules, and dispatches
block, adapt, warn and suggest actions.

The command tool covers the rule authoring loop:
  - lint and test rule files
  - evaluate content with the configured engine
  - query and prune the audit stream of dispatched violations
  - inspect adapted rule parameters
  - check the configured components with doctor`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "rulegate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")
}

// setup loads the configuration and builds the logger for a command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	explicit := rootCmd.PersistentFlags().Changed("config")
	cfg, err := loadConfig(cfgFile, explicit)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg, verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// flushMetrics writes the collector to --metrics-out when set.
func flushMetrics(c *metrics.Collector, logger *slog.Logger) {
	if metricsOut == "" || c == nil {
		return
	}
	if err := c.WriteTextfile(metricsOut); err != nil {
		logger.Warn("failed to write metrics file", "path", metricsOut, "error", err)
	}
}

// commandContext returns the command's context, or a background context for
// commands invoked directly in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
