package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/rulegate/pkg/audit"
)

// CSVExporter exports audit events as CSV.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Header is the CSV column order.
var Header = []string{
	"id", "occurred_at", "recorded_at",
	"rule_id", "rule_version", "tier", "severity", "category",
	"action", "confidence", "spans",
	"content_digest", "snapshot_version",
}

// Export writes events to w. Spans are flattened to "start-end" pairs
// separated by semicolons.
func (e *CSVExporter) Export(ctx context.Context, events []*audit.Event, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError("csv", len(events), err)
		}
	}
	for _, ev := range events {
		if err := writer.Write(row(ev)); err != nil {
			return audit.NewExportError("csv", len(events), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", len(events), err)
	}
	return nil
}

// ExportStream writes events from eventsCh to w, flushing every 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, eventsCh <-chan *audit.Event, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			writer.Flush()
			return ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(row(ev)); err != nil {
				return audit.NewExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func row(ev *audit.Event) []string {
	return []string{
		ev.ID,
		formatTime(ev.OccurredAt),
		formatTime(ev.RecordedAt),
		ev.RuleID,
		ev.RuleVersion,
		ev.Tier,
		ev.Severity,
		ev.Category,
		ev.Action,
		strconv.FormatFloat(ev.Confidence, 'f', 4, 64),
		formatSpans(ev.Spans),
		ev.ContentDigest,
		strconv.FormatUint(ev.SnapshotVersion, 10),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatSpans(spans []audit.Span) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = strconv.Itoa(s.Start) + "-" + strconv.Itoa(s.End)
	}
	return strings.Join(parts, ";")
}
