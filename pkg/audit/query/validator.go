package query

import (
	"fmt"

	"mercator-hq/rulegate/pkg/audit"
)

const (
	// DefaultLimit is the default number of events to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of events returned by a single query.
	MaxLimit = 10000

	// DefaultSortBy is the default sort column.
	DefaultSortBy = "occurred_at"

	// DefaultSortOrder is the default sort order.
	DefaultSortOrder = "desc"
)

// ValidSortFields contains the fields that can be used for sorting.
var ValidSortFields = map[string]bool{
	"occurred_at": true,
	"recorded_at": true,
	"confidence":  true,
}

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

var validTiers = map[string]bool{
	"safety":      true,
	"operational": true,
	"preference":  true,
}

var validActions = map[string]bool{
	"block":   true,
	"adapt":   true,
	"warn":    true,
	"suggest": true,
}

// Validate validates a query and returns a *audit.QueryError describing the
// first invalid parameter.
func Validate(q *audit.Query) error {
	if q.Limit < 0 {
		return audit.NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return audit.NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return audit.NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}

	if q.SortBy != "" && !ValidSortFields[q.SortBy] {
		return audit.NewQueryError(q, fmt.Errorf("invalid sort field: %s", q.SortBy))
	}
	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return audit.NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}

	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return audit.NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}

	if q.MinConfidence != nil && (*q.MinConfidence < 0 || *q.MinConfidence > 1) {
		return audit.NewQueryError(q, fmt.Errorf("min_confidence must be between 0 and 1, got %v", *q.MinConfidence))
	}

	if q.Tier != "" && !validTiers[q.Tier] {
		return audit.NewQueryError(q, fmt.Errorf("invalid tier: %s (must be 'safety', 'operational', or 'preference')", q.Tier))
	}
	if q.Action != "" && !validActions[q.Action] {
		return audit.NewQueryError(q, fmt.Errorf("invalid action: %s", q.Action))
	}

	return nil
}

// ApplyDefaults applies default values to a query.
func ApplyDefaults(q *audit.Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = DefaultSortBy
	}
	if q.SortOrder == "" {
		q.SortOrder = DefaultSortOrder
	}
}
