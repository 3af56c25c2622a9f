package audit

import (
	"fmt"
	"time"
)

// StorageError wraps a failure of an audit storage backend.
type StorageError struct {
	Backend   string // "sqlite" or "memory"
	Operation string // e.g. "store", "query", "delete"
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage %s: %s failed: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// QueryError reports a query rejected before it reached storage.
type QueryError struct {
	Query *Query
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid audit query: %v", e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// NewQueryError creates a new QueryError.
func NewQueryError(query *Query, cause error) *QueryError {
	return &QueryError{Query: query, Cause: cause}
}

// RecorderError reports a batch of dispatch events the recorder failed to
// persist. The events are lost.
type RecorderError struct {
	FirstEventID string
	Count        int
	Cause        error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("failed to record %d audit events starting at %s: %v", e.Count, e.FirstEventID, e.Cause)
}

func (e *RecorderError) Unwrap() error { return e.Cause }

// NewRecorderError creates a RecorderError for batch.
func NewRecorderError(batch []*Event, cause error) *RecorderError {
	e := &RecorderError{Count: len(batch), Cause: cause}
	if len(batch) > 0 {
		e.FirstEventID = batch[0].ID
	}
	return e
}

// RetentionError reports a failed pruning pass. Reason is "age" or "count".
type RetentionError struct {
	Reason string
	Cutoff time.Time
	Cause  error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("audit retention (%s, cutoff %s): %v", e.Reason, e.Cutoff.UTC().Format(time.RFC3339), e.Cause)
}

func (e *RetentionError) Unwrap() error { return e.Cause }

// NewRetentionError creates a new RetentionError.
func NewRetentionError(reason string, cutoff time.Time, cause error) *RetentionError {
	return &RetentionError{Reason: reason, Cutoff: cutoff, Cause: cause}
}

// ExportError reports a failure while writing events in an export format.
type ExportError struct {
	Format     string // "json" or "csv"
	EventCount int    // events written before the failure
	Cause      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("audit %s export failed after %d events: %v", e.Format, e.EventCount, e.Cause)
}

func (e *ExportError) Unwrap() error { return e.Cause }

// NewExportError creates a new ExportError.
func NewExportError(format string, eventCount int, cause error) *ExportError {
	return &ExportError{Format: format, EventCount: eventCount, Cause: cause}
}
