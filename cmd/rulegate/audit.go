package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/audit/export"
	"mercator-hq/rulegate/pkg/audit/retention"
	"mercator-hq/rulegate/pkg/cli"
)

var auditFlags struct {
	timeRange       string
	rule            string
	tier            string
	action          string
	category        string
	digest          string
	snapshotVersion uint64
	minConfidence   float64
	limit           int
	offset          int
	sortBy          string
	sortOrder       string
	format          string
	output          string

	archive   string
	maxEvents int64
	dryRun    bool
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and maintain the audit stream",
	Long: `Query, export and prune dispatched violations recorded in the audit database.

Subcommands:
  query   - Query audit events with filters
  count   - Count audit events matching filters
  prune   - Apply the retention policy now

Examples:
  # Blocks in the last day
  rulegate audit query --action block --time-range "2026-05-01T00:00:00Z/2026-05-02T00:00:00Z"

  # Export a rule's history as CSV
  rulegate audit query --rule pii-email --format csv --output pii.csv`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events",
	Long: `Query audit events with filters.

Time Range Format:
  RFC3339 interval format: "start/end"
  Example: "2026-05-01T00:00:00Z/2026-05-02T00:00:00Z"

JSON and CSV output stream results, so large exports do not load the whole
result set into memory.`,
	RunE: queryAudit,
}

var auditCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count audit events",
	RunE:  countAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events outside the retention policy",
	Long: `Delete events older than audit.retention_days and, with --max-events,
the oldest events beyond that count. With --archive, deleted events are first
written to a JSON file in the given directory.`,
	RunE: pruneAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditCountCmd, auditPruneCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditCountCmd} {
		c.Flags().StringVar(&auditFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")
		c.Flags().StringVar(&auditFlags.rule, "rule", "", "filter by rule ID")
		c.Flags().StringVar(&auditFlags.tier, "tier", "", "filter by tier (safety, operational, preference)")
		c.Flags().StringVar(&auditFlags.action, "action", "", "filter by action (block, adapt, warn, suggest)")
		c.Flags().StringVar(&auditFlags.category, "category", "", "filter by category")
		c.Flags().StringVar(&auditFlags.digest, "digest", "", "filter by content digest")
		c.Flags().Uint64Var(&auditFlags.snapshotVersion, "snapshot", 0, "filter by rule snapshot version")
		c.Flags().Float64Var(&auditFlags.minConfidence, "min-confidence", 0, "minimum confidence")
	}
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", 100, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
	auditQueryCmd.Flags().StringVar(&auditFlags.sortBy, "sort", "occurred_at", "sort field: occurred_at, recorded_at, confidence")
	auditQueryCmd.Flags().StringVar(&auditFlags.sortOrder, "order", "desc", "sort order: asc, desc")
	auditQueryCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json, csv")
	auditQueryCmd.Flags().StringVarP(&auditFlags.output, "output", "o", "", "output file (default: stdout)")

	auditPruneCmd.Flags().StringVar(&auditFlags.archive, "archive", "", "archive deleted events to this directory")
	auditPruneCmd.Flags().Int64Var(&auditFlags.maxEvents, "max-events", 0, "keep at most this many events (0: unlimited)")
	auditPruneCmd.Flags().BoolVar(&auditFlags.dryRun, "dry-run", false, "report what would be deleted without deleting")
}

// buildAuditQuery converts the filter flags into a query.
func buildAuditQuery() (*audit.Query, error) {
	q := &audit.Query{
		RuleID:          auditFlags.rule,
		Tier:            auditFlags.tier,
		Action:          auditFlags.action,
		Category:        auditFlags.category,
		ContentDigest:   auditFlags.digest,
		SnapshotVersion: auditFlags.snapshotVersion,
		Limit:           auditFlags.limit,
		Offset:          auditFlags.offset,
		SortBy:          auditFlags.sortBy,
		SortOrder:       auditFlags.sortOrder,
	}

	if auditFlags.timeRange != "" {
		parts := strings.Split(auditFlags.timeRange, "/")
		if len(parts) != 2 {
			return nil, cli.NewUsageError("invalid time range format (expected: start/end)")
		}
		start, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return nil, cli.NewUsageError(fmt.Sprintf("invalid start time: %v", err))
		}
		end, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return nil, cli.NewUsageError(fmt.Sprintf("invalid end time: %v", err))
		}
		q.StartTime = &start
		q.EndTime = &end
	}

	if auditFlags.minConfidence > 0 {
		minConfidence := auditFlags.minConfidence
		q.MinConfidence = &minConfidence
	}
	return q, nil
}

func openAudit(cmd *cobra.Command) (audit.Storage, error) {
	cfg, _, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	store, err := openAuditStorage(cfg.Audit)
	if err != nil {
		return nil, cli.NewCommandError("audit", fmt.Errorf("failed to open audit storage: %w", err))
	}
	return store, nil
}

func queryAudit(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(auditFlags.format, cli.FormatText, cli.FormatJSON, cli.FormatCSV)
	if err != nil {
		return err
	}
	q, err := buildAuditQuery()
	if err != nil {
		return err
	}

	store, err := openAudit(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var out io.Writer = cmd.OutOrStdout()
	if auditFlags.output != "" {
		f, err := os.Create(auditFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx := commandContext(cmd)
	switch format {
	case cli.FormatJSON:
		return streamAudit(ctx, store, q, export.NewJSONExporter(true), out)
	case cli.FormatCSV:
		return streamAudit(ctx, store, q, export.NewCSVExporter(true), out)
	}

	events, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("query failed: %w", err))
	}
	return printAuditText(out, events, q)
}

type streamExporter interface {
	ExportStream(ctx context.Context, eventsCh <-chan *audit.Event, w io.Writer) error
}

func streamAudit(ctx context.Context, store audit.Storage, q *audit.Query, exp streamExporter, out io.Writer) error {
	events, errs, err := store.QueryStream(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("query failed: %w", err))
	}
	if err := exp.ExportStream(ctx, events, out); err != nil {
		return cli.NewCommandError("audit", err)
	}
	if err := <-errs; err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("query failed: %w", err))
	}
	return nil
}

// auditTable renders audit events as rows.
type auditTable []*audit.Event

func (t auditTable) Headers() []string {
	return []string{"OCCURRED", "RULE", "TIER", "ACTION", "CONFIDENCE", "DIGEST"}
}

func (t auditTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, ev := range t {
		digest := ev.ContentDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		rows = append(rows, []string{
			ev.OccurredAt.UTC().Format(time.RFC3339),
			ev.RuleID,
			ev.Tier,
			ev.Action,
			strconv.FormatFloat(ev.Confidence, 'f', 2, 64),
			digest,
		})
	}
	return rows
}

func printAuditText(out io.Writer, events []*audit.Event, q *audit.Query) error {
	if q.StartTime != nil && q.EndTime != nil {
		fmt.Fprintf(out, "Time range: %s to %s\n",
			q.StartTime.Format(time.RFC3339),
			q.EndTime.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Total events: %d\n", len(events))

	if len(events) == 0 {
		fmt.Fprintln(out, "No events found.")
		return nil
	}
	fmt.Fprintln(out)
	if err := cli.NewFormatter(cli.FormatText).FormatTo(out, auditTable(events)); err != nil {
		return err
	}
	if q.Limit > 0 && len(events) == q.Limit {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Use --limit and --offset for pagination.")
	}
	return nil
}

func countAudit(cmd *cobra.Command, args []string) error {
	q, err := buildAuditQuery()
	if err != nil {
		return err
	}
	q.Limit, q.Offset, q.SortBy, q.SortOrder = 0, 0, "", ""

	store, err := openAudit(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Count(commandContext(cmd), q)
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("count failed: %w", err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	store, err := openAuditStorage(cfg.Audit)
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("failed to open audit storage: %w", err))
	}
	defer store.Close()

	rc := retentionConfig(cfg.Audit)
	rc.MaxEvents = auditFlags.maxEvents
	if auditFlags.archive != "" {
		rc.ArchiveBeforeDelete = true
		rc.ArchivePath = auditFlags.archive
	}
	pruner := retention.NewPruner(store, rc, retention.WithLogger(logger))

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	if auditFlags.dryRun {
		if rc.RetentionDays == 0 {
			fmt.Fprintln(out, "Retention is disabled (retention_days: 0)")
			return nil
		}
		cutoff := pruner.Cutoff()
		n, err := store.Count(ctx, &audit.Query{EndTime: &cutoff})
		if err != nil {
			return cli.NewCommandError("audit", fmt.Errorf("count failed: %w", err))
		}
		fmt.Fprintf(out, "Would delete %d events older than %s\n", n, cutoff.Format(time.RFC3339))
		return nil
	}

	deleted, err := pruner.Prune(ctx)
	if err != nil {
		return cli.NewCommandError("audit", err)
	}
	fmt.Fprintf(out, "✓ Deleted %d events\n", deleted)
	return nil
}
