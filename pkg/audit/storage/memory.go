package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/audit/query"
)

// MemoryStorage implements audit.Storage with an in-memory map. It is used by
// tests and by the command tool when no database path is configured.
type MemoryStorage struct {
	events map[string]*audit.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events: make(map[string]*audit.Event),
	}
}

// Store keeps copies of events. Existing ids are skipped.
func (s *MemoryStorage) Store(ctx context.Context, events ...*audit.Event) error {
	if err := ctx.Err(); err != nil {
		return audit.NewStorageError("memory", "store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, exists := s.events[ev.ID]; exists {
			continue
		}
		s.events[ev.ID] = copyEvent(ev)
	}
	return nil
}

// Query retrieves events matching the query filters.
func (s *MemoryStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Event, error) {
	qq := *q
	if err := query.Validate(&qq); err != nil {
		return nil, err
	}
	query.ApplyDefaults(&qq)

	s.mu.RLock()
	results := s.filter(&qq)
	s.mu.RUnlock()

	sortEvents(results, qq.SortBy, qq.SortOrder)

	if qq.Offset >= len(results) {
		return []*audit.Event{}, nil
	}
	end := qq.Offset + qq.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[qq.Offset:end], nil
}

// QueryStream streams the result of Query.
func (s *MemoryStorage) QueryStream(ctx context.Context, q *audit.Query) (<-chan *audit.Event, <-chan error, error) {
	events, err := s.Query(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	eventsCh := make(chan *audit.Event, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventsCh)
		defer close(errCh)

		for _, ev := range events {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case eventsCh <- ev:
			}
		}
	}()

	return eventsCh, errCh, nil
}

// Count returns the number of events matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, ev := range s.events {
		if matchesQuery(ev, q) {
			count++
		}
	}
	return count, nil
}

// Delete removes events matching the query filters.
func (s *MemoryStorage) Delete(ctx context.Context, q *audit.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, ev := range s.events {
		if matchesQuery(ev, q) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close releases resources held by the storage backend.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string]*audit.Event)
	return nil
}

// Size returns the number of stored events.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// filter returns copies of matching events. Callers hold the read lock.
func (s *MemoryStorage) filter(q *audit.Query) []*audit.Event {
	var results []*audit.Event
	for _, ev := range s.events {
		if matchesQuery(ev, q) {
			results = append(results, copyEvent(ev))
		}
	}
	return results
}

// matchesQuery checks if an event matches the query filters.
func matchesQuery(ev *audit.Event, q *audit.Query) bool {
	if q.StartTime != nil && ev.OccurredAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && ev.OccurredAt.After(*q.EndTime) {
		return false
	}

	if q.RuleID != "" && ev.RuleID != q.RuleID {
		return false
	}
	if q.Tier != "" && ev.Tier != q.Tier {
		return false
	}
	if q.Action != "" && ev.Action != q.Action {
		return false
	}
	if q.Category != "" && ev.Category != q.Category {
		return false
	}
	if q.ContentDigest != "" && ev.ContentDigest != q.ContentDigest {
		return false
	}
	if q.SnapshotVersion != 0 && ev.SnapshotVersion != q.SnapshotVersion {
		return false
	}

	if q.MinConfidence != nil && ev.Confidence < *q.MinConfidence {
		return false
	}

	return true
}

// sortEvents orders events the way the SQLite backend does: by the sort
// column, then by id ascending.
func sortEvents(events []*audit.Event, sortBy, order string) {
	desc := order == "desc"
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		var less, equal bool
		switch sortBy {
		case "recorded_at":
			less, equal = a.RecordedAt.Before(b.RecordedAt), a.RecordedAt.Equal(b.RecordedAt)
		case "confidence":
			less, equal = a.Confidence < b.Confidence, a.Confidence == b.Confidence
		default:
			less, equal = a.OccurredAt.Before(b.OccurredAt), a.OccurredAt.Equal(b.OccurredAt)
		}
		if equal {
			return a.ID < b.ID
		}
		if desc {
			return !less
		}
		return less
	})
}

func copyEvent(ev *audit.Event) *audit.Event {
	cp := *ev
	cp.Spans = append([]audit.Span(nil), ev.Spans...)
	return &cp
}
