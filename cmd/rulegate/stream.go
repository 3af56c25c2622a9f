package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/audit/retention"
	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/config"
	"mercator-hq/rulegate/pkg/engine"
	"mercator-hq/rulegate/pkg/rules/registry"
	"mercator-hq/rulegate/pkg/telemetry/logging"
)

var streamFlags struct {
	rules string
	watch bool
	raw   bool
	prune bool
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Evaluate a stream of items read from stdin",
	Long: `Read one item per line from stdin, evaluate it, and write one JSON result
per line to stdout. Items are JSON objects:

  {"content": "...", "context": {"domain": "technical"}, "strategy": "context_aware"}

With --raw every line is plain content evaluated with an empty context.

The session keeps the engine's background work running between items: the
adaptation store recomputes on adaptation.recompute_schedule, --watch reloads
rules when their files change, and --prune applies audit retention on
audit.retention_schedule. The stream ends at EOF or on SIGINT/SIGTERM.

Examples:
  rulegate stream --watch < items.ndjson
  tail -f drafts.log | rulegate stream --raw`,
	RunE: streamItems,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVarP(&streamFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")
	streamCmd.Flags().BoolVar(&streamFlags.watch, "watch", false, "reload rules when rule files change (default: rules.watch)")
	streamCmd.Flags().BoolVar(&streamFlags.raw, "raw", false, "treat each line as plain content")
	streamCmd.Flags().BoolVar(&streamFlags.prune, "prune", false, "run audit retention on its schedule")
}

// streamItem is one input line.
type streamItem struct {
	Content  string            `json:"content"`
	Context  map[string]string `json:"context,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
}

// streamOutput is one output line.
type streamOutput struct {
	Line   int                      `json:"line"`
	Result *engine.ValidationResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

func streamItems(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	st, err := newStack(ctx, cfg, streamFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("stream", err)
	}
	defer st.Close(context.Background())
	defer flushMetrics(st.metrics, logger)

	stop, err := startBackground(ctx, cfg, st, logger)
	if err != nil {
		return cli.NewCommandError("stream", err)
	}
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), cfg.Engine.MaxContentBytes+64*1024)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			break
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		out := streamOutput{Line: line}
		item, err := parseStreamItem(text, streamFlags.raw)
		if err == nil {
			out.Result, err = evaluateItem(logging.WithBatchIndex(ctx, line), st.engine, item)
		}
		if err != nil {
			out.Error = err.Error()
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cli.NewCommandError("stream", fmt.Errorf("failed to read input: %w", err))
	}
	return nil
}

func parseStreamItem(line string, raw bool) (streamItem, error) {
	if raw {
		return streamItem{Content: line}, nil
	}
	var item streamItem
	if err := json.Unmarshal([]byte(line), &item); err != nil {
		return item, fmt.Errorf("invalid item: %w", err)
	}
	return item, nil
}

func evaluateItem(ctx context.Context, eng *engine.Engine, item streamItem) (*engine.ValidationResult, error) {
	if item.Strategy == "" {
		return eng.Evaluate(ctx, item.Content, engine.Context(item.Context))
	}
	strategy, err := engine.ParseStrategy(item.Strategy)
	if err != nil {
		return nil, err
	}
	return eng.ResolveConflicts(ctx, item.Content, strategy, engine.Context(item.Context))
}

// startBackground starts the rule watcher and the recompute and retention
// schedulers that apply to cfg. The returned func stops the schedulers and
// waits for a running job to finish.
func startBackground(ctx context.Context, cfg *config.Config, st *stack, logger *slog.Logger) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if streamFlags.watch || cfg.Rules.Watch {
		paths := watchPaths(cfg.Rules, streamFlags.rules)
		wcfg := registry.DefaultWatcherConfig(paths...)
		wcfg.Debounce = cfg.Rules.DebounceInterval
		w, err := registry.NewWatcher(st.registry, wcfg, logger)
		if err != nil {
			return nil, err
		}
		wctx, wcancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := w.Run(wctx); err != nil {
				logger.Error("rule watcher stopped", "error", err)
			}
		}()
		stops = append(stops, func() {
			wcancel()
			<-done
		})
	}

	if st.store != nil {
		sched := adaptation.NewScheduler(st.store)
		if err := sched.Start(ctx); err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, sched.Stop)
	}

	if streamFlags.prune && st.auditDB != nil {
		pruner := retention.NewPruner(st.auditDB, retentionConfig(cfg.Audit), retention.WithLogger(logger))
		if err := pruner.Start(ctx); err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, pruner.Stop)
	}

	return stopAll, nil
}

func watchPaths(cfg config.RulesConfig, override string) []string {
	if override != "" {
		return []string{override}
	}
	paths := []string{cfg.SystemPath}
	for _, p := range []string{cfg.OrganizationPath, cfg.UserPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
