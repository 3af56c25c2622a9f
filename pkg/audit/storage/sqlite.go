package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/audit/query"
)

const backendSQLite = "sqlite"

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements audit.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, enables WAL mode if configured and
// creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, audit.NewStorageError(backendSQLite, "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError(backendSQLite, "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return audit.NewStorageError(backendSQLite, "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError(backendSQLite, "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError(backendSQLite, "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.NewStorageError(backendSQLite, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError(backendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Store writes events in a single transaction. Events whose id already
// exists are skipped.
func (s *SQLiteStorage) Store(ctx context.Context, events ...*audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.NewStorageError(backendSQLite, "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return audit.NewStorageError(backendSQLite, "prepare", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		spans, err := json.Marshal(ev.Spans)
		if err != nil {
			return audit.NewStorageError(backendSQLite, "encode_spans", err)
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID, ev.ContentDigest, ev.SnapshotVersion,
			ev.RuleID, ev.RuleVersion, ev.Tier, ev.Severity, ev.Category,
			ev.Action, ev.Confidence, string(spans),
			ev.OccurredAt.UTC(), ev.RecordedAt.UTC(),
		)
		if err != nil {
			return audit.NewStorageError(backendSQLite, "store", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return audit.NewStorageError(backendSQLite, "commit", err)
	}
	return nil
}

// Query retrieves events matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Event, error) {
	sqlQuery, args, err := s.buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, audit.NewStorageError(backendSQLite, "query", err)
	}
	defer rows.Close()

	events := []*audit.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, audit.NewStorageError(backendSQLite, "scan", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError(backendSQLite, "query", err)
	}

	return events, nil
}

// QueryStream streams events matching the query filters.
func (s *SQLiteStorage) QueryStream(ctx context.Context, q *audit.Query) (<-chan *audit.Event, <-chan error, error) {
	sqlQuery, args, err := s.buildSelect(q)
	if err != nil {
		return nil, nil, err
	}

	eventsCh := make(chan *audit.Event, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventsCh)
		defer close(errCh)

		rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			errCh <- audit.NewStorageError(backendSQLite, "query_stream", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				errCh <- audit.NewStorageError(backendSQLite, "scan", err)
				return
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case eventsCh <- ev:
			}
		}

		if err := rows.Err(); err != nil {
			errCh <- audit.NewStorageError(backendSQLite, "query_stream", err)
		}
	}()

	return eventsCh, errCh, nil
}

// Count returns the number of events matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	where, args := buildWhereClause(q)

	sqlQuery := "SELECT COUNT(*) FROM audit_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, audit.NewStorageError(backendSQLite, "count", err)
	}
	return count, nil
}

// Delete removes events matching the query filters. Pagination and sorting
// are ignored.
func (s *SQLiteStorage) Delete(ctx context.Context, q *audit.Query) (int64, error) {
	where, args := buildWhereClause(q)

	sqlQuery := "DELETE FROM audit_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, audit.NewStorageError(backendSQLite, "delete", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError(backendSQLite, "delete", err)
	}
	return count, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return audit.NewStorageError(backendSQLite, "ping", err)
	}
	return nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return audit.NewStorageError(backendSQLite, "close", err)
	}

	s.logger.Info("SQLite storage closed")
	return nil
}

// buildSelect validates q and builds the full SELECT statement.
func (s *SQLiteStorage) buildSelect(q *audit.Query) (string, []any, error) {
	qq := *q
	if err := query.Validate(&qq); err != nil {
		return "", nil, err
	}
	query.ApplyDefaults(&qq)

	where, args := buildWhereClause(&qq)

	var sb strings.Builder
	sb.WriteString("SELECT " + selectColumns + " FROM audit_events")
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	// id breaks ties so paging is stable.
	fmt.Fprintf(&sb, " ORDER BY %s %s, id ASC", qq.SortBy, strings.ToUpper(qq.SortOrder))
	fmt.Fprintf(&sb, " LIMIT %d", qq.Limit)
	if qq.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", qq.Offset)
	}
	return sb.String(), args, nil
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the clause (without "WHERE") and the query arguments.
func buildWhereClause(q *audit.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.StartTime != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, q.EndTime.UTC())
	}

	filters := []struct {
		column string
		value  string
	}{
		{"rule_id", q.RuleID},
		{"tier", q.Tier},
		{"action", q.Action},
		{"category", q.Category},
		{"content_digest", q.ContentDigest},
	}
	for _, f := range filters {
		if f.value != "" {
			conditions = append(conditions, f.column+" = ?")
			args = append(args, f.value)
		}
	}

	if q.SnapshotVersion != 0 {
		conditions = append(conditions, "snapshot_version = ?")
		args = append(args, q.SnapshotVersion)
	}
	if q.MinConfidence != nil {
		conditions = append(conditions, "confidence >= ?")
		args = append(args, *q.MinConfidence)
	}

	return strings.Join(conditions, " AND "), args
}

// scanEvent scans a database row into an Event.
func scanEvent(rows *sql.Rows) (*audit.Event, error) {
	var ev audit.Event
	var ruleVersion, category, spans sql.NullString

	err := rows.Scan(
		&ev.ID, &ev.ContentDigest, &ev.SnapshotVersion,
		&ev.RuleID, &ruleVersion, &ev.Tier, &ev.Severity, &category,
		&ev.Action, &ev.Confidence, &spans,
		&ev.OccurredAt, &ev.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.RuleVersion = ruleVersion.String
	ev.Category = category.String
	if spans.Valid && spans.String != "" {
		if err := json.Unmarshal([]byte(spans.String), &ev.Spans); err != nil {
			return nil, fmt.Errorf("failed to decode spans of event %s: %w", ev.ID, err)
		}
	}

	return &ev, nil
}
