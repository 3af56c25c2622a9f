package audit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"storage", NewStorageError("sqlite", "store", cause), "audit storage sqlite: store failed"},
		{"query", NewQueryError(&Query{}, cause), "invalid audit query"},
		{"recorder", NewRecorderError([]*Event{{ID: "ev-1"}, {ID: "ev-2"}}, cause), "record 2 audit events starting at ev-1"},
		{"retention", NewRetentionError("count", cutoff, cause), "audit retention (count, cutoff 2026-01-02T03:04:05Z)"},
		{"export", NewExportError("csv", 7, cause), "audit csv export failed after 7 events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Error("error does not unwrap to its cause")
			}
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestNewRecorderErrorEmptyBatch(t *testing.T) {
	err := NewRecorderError(nil, errors.New("x"))
	if err.Count != 0 || err.FirstEventID != "" {
		t.Errorf("unexpected error fields: %+v", err)
	}
}
