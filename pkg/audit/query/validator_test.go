package query

import (
	"errors"
	"testing"
	"time"

	"mercator-hq/rulegate/pkg/audit"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	tooHigh := 1.5

	tests := []struct {
		name    string
		query   audit.Query
		wantErr bool
	}{
		{"empty", audit.Query{}, false},
		{"full", audit.Query{StartTime: &earlier, EndTime: &now, RuleID: "r", Tier: "safety", Action: "block", Limit: 10, SortBy: "confidence", SortOrder: "asc"}, false},
		{"negative limit", audit.Query{Limit: -1}, true},
		{"limit too high", audit.Query{Limit: MaxLimit + 1}, true},
		{"negative offset", audit.Query{Offset: -1}, true},
		{"bad sort field", audit.Query{SortBy: "rule_id"}, true},
		{"bad sort order", audit.Query{SortOrder: "up"}, true},
		{"inverted range", audit.Query{StartTime: &now, EndTime: &earlier}, true},
		{"confidence out of range", audit.Query{MinConfidence: &tooHigh}, true},
		{"unknown tier", audit.Query{Tier: "gold"}, true},
		{"unknown action", audit.Query{Action: "allow"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var qerr *audit.QueryError
				if !errors.As(err, &qerr) {
					t.Errorf("expected *audit.QueryError, got %T", err)
				}
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	q := audit.Query{}
	ApplyDefaults(&q)
	if q.Limit != DefaultLimit || q.SortBy != DefaultSortBy || q.SortOrder != DefaultSortOrder {
		t.Errorf("defaults not applied: %+v", q)
	}

	q = audit.Query{Limit: 5, SortBy: "confidence", SortOrder: "asc"}
	ApplyDefaults(&q)
	if q.Limit != 5 || q.SortBy != "confidence" || q.SortOrder != "asc" {
		t.Errorf("explicit values overwritten: %+v", q)
	}
}
