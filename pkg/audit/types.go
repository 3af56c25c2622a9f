package audit

import (
	"context"
	"io"
	"time"
)

// Event is the persisted form of one dispatched violation. Events are
// written once and never updated.
type Event struct {
	// Identity
	ID              string `json:"id"`               // Dispatch event id
	ContentDigest   string `json:"content_digest"`   // SHA-256 of the evaluated content
	SnapshotVersion uint64 `json:"snapshot_version"` // Rule snapshot the decision was made against

	// Rule
	RuleID      string `json:"rule_id"`
	RuleVersion string `json:"rule_version"`
	Tier        string `json:"tier"`     // "safety", "operational", "preference"
	Severity    string `json:"severity"` // "critical", "high", "medium", "low"
	Category    string `json:"category"`

	// Decision
	Action     string  `json:"action"` // "block", "adapt", "warn", "suggest"
	Confidence float64 `json:"confidence"`
	Spans      []Span  `json:"spans"`

	// Timestamps
	OccurredAt time.Time `json:"occurred_at"` // When the engine dispatched the violation
	RecordedAt time.Time `json:"recorded_at"` // When the recorder accepted the event
}

// Span is a half-open byte range of the evaluated content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Query defines filter parameters for querying audit events.
type Query struct {
	// Time range over OccurredAt
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	RuleID          string `json:"rule_id,omitempty"`
	Tier            string `json:"tier,omitempty"`
	Action          string `json:"action,omitempty"`
	Category        string `json:"category,omitempty"`
	ContentDigest   string `json:"content_digest,omitempty"`
	SnapshotVersion uint64 `json:"snapshot_version,omitempty"` // Zero matches every version

	// Thresholds
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`  // Max events to return
	Offset int `json:"offset,omitempty"` // Skip N events

	// Sorting
	SortBy    string `json:"sort_by,omitempty"`    // "occurred_at", "recorded_at", "confidence"
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc"
}

// Storage defines the interface for audit storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists events atomically: either all are written or none.
	Store(ctx context.Context, events ...*Event) error

	// Query retrieves events matching the query filters.
	// Returns an empty slice if no events match.
	Query(ctx context.Context, query *Query) ([]*Event, error)

	// QueryStream returns a channel of events for large result sets.
	//
	// Returns:
	//   - eventsCh: channel of events (buffered)
	//   - errCh: channel for errors (buffered, max 1 error)
	//   - error: immediate error (e.g., invalid query)
	//
	// Both channels are closed when the query completes or fails. Callers
	// should drain eventsCh and then read errCh.
	QueryStream(ctx context.Context, query *Query) (<-chan *Event, <-chan error, error)

	// Count returns the number of events matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes events matching the query filters and returns the
	// number removed. Used by retention.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Exporter writes audit events in a file format.
type Exporter interface {
	Export(ctx context.Context, events []*Event, w io.Writer) error
}
