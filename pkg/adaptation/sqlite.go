package adaptation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS adaptation_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	taken_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS adaptation_state (
	rule_id TEXT PRIMARY KEY,
	rule_version TEXT NOT NULL,
	state TEXT NOT NULL,
	adjusted INTEGER NOT NULL,
	confidence_threshold REAL NOT NULL,
	tie_break_weight REAL NOT NULL,
	trigger_kind TEXT NOT NULL,
	changed_at INTEGER NOT NULL,
	adjusted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS resolution_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	conflict_id TEXT NOT NULL,
	conflict_kind TEXT NOT NULL,
	strategy TEXT NOT NULL,
	winner_ids TEXT NOT NULL,
	suppressed_ids TEXT NOT NULL,
	justification TEXT NOT NULL,
	snapshot_version INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolution_log_conflict ON resolution_log(conflict_id);

INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, strftime('%s', 'now'));
`

// SQLitePersister persists adaptation state in a SQLite database.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) a persister database at path.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLitePersister, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// LoadSnapshot implements Persister.
func (p *SQLitePersister) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var version, takenAt int64
	err := p.db.QueryRowContext(ctx, `SELECT version, taken_at FROM adaptation_snapshot WHERE id = 1`).
		Scan(&version, &takenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT rule_id, rule_version, state, adjusted, confidence_threshold,
		       tie_break_weight, trigger_kind, changed_at, adjusted_at
		FROM adaptation_state ORDER BY rule_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule states: %w", err)
	}
	defer rows.Close()

	var states []RuleState
	for rows.Next() {
		var (
			st                    RuleState
			state, trigger        string
			adjusted              int
			changedAt, adjustedAt int64
		)
		if err := rows.Scan(&st.RuleID, &st.RuleVersion, &state, &adjusted,
			&st.Params.ConfidenceThreshold, &st.Params.TieBreakWeight,
			&trigger, &changedAt, &adjustedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule state: %w", err)
		}
		st.State = State(state)
		st.Trigger = SignalKind(trigger)
		st.Adjusted = adjusted != 0
		st.ChangedAt = fromUnixNano(changedAt)
		st.AdjustedAt = fromUnixNano(adjustedAt)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewSnapshot(uint64(version), fromUnixNano(takenAt), states), nil
}

// SaveSnapshot implements Persister. The whole snapshot is replaced in one
// transaction.
func (p *SQLitePersister) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM adaptation_state`); err != nil {
		return fmt.Errorf("failed to clear rule states: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO adaptation_state (rule_id, rule_version, state, adjusted,
			confidence_threshold, tie_break_weight, trigger_kind, changed_at, adjusted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range snap.States() {
		adjusted := 0
		if st.Adjusted {
			adjusted = 1
		}
		if _, err := stmt.ExecContext(ctx, st.RuleID, st.RuleVersion, string(st.State), adjusted,
			st.Params.ConfidenceThreshold, st.Params.TieBreakWeight, string(st.Trigger),
			toUnixNano(st.ChangedAt), toUnixNano(st.AdjustedAt)); err != nil {
			return fmt.Errorf("failed to save rule state %s: %w", st.RuleID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO adaptation_snapshot (id, version, taken_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, taken_at = excluded.taken_at`,
		int64(snap.Version()), toUnixNano(snap.TakenAt())); err != nil {
		return fmt.Errorf("failed to save snapshot header: %w", err)
	}

	return tx.Commit()
}

// AppendResolutions implements Persister. Rows are only ever inserted.
func (p *SQLitePersister) AppendResolutions(ctx context.Context, records []ResolutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resolution_log (conflict_id, conflict_kind, strategy, winner_ids,
			suppressed_ids, justification, snapshot_version, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		winners, err := json.Marshal(rec.WinnerIDs)
		if err != nil {
			return err
		}
		suppressed, err := json.Marshal(rec.SuppressedIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.ConflictID, rec.ConflictKind, rec.Strategy,
			string(winners), string(suppressed), rec.Justification,
			int64(rec.SnapshotVersion), toUnixNano(rec.At)); err != nil {
			return fmt.Errorf("failed to append resolution %s: %w", rec.ConflictID, err)
		}
	}
	return tx.Commit()
}

// LoadResolutions returns up to limit persisted resolution records, newest
// first. A limit of zero returns all records.
func (p *SQLitePersister) LoadResolutions(ctx context.Context, limit int) ([]ResolutionRecord, error) {
	query := `SELECT conflict_id, conflict_kind, strategy, winner_ids, suppressed_ids,
		justification, snapshot_version, recorded_at FROM resolution_log ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolution log: %w", err)
	}
	defer rows.Close()

	var out []ResolutionRecord
	for rows.Next() {
		var (
			rec                 ResolutionRecord
			winners, suppressed string
			version, at         int64
		)
		if err := rows.Scan(&rec.ConflictID, &rec.ConflictKind, &rec.Strategy, &winners,
			&suppressed, &rec.Justification, &version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		if err := json.Unmarshal([]byte(winners), &rec.WinnerIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(suppressed), &rec.SuppressedIDs); err != nil {
			return nil, err
		}
		rec.SnapshotVersion = uint64(version)
		rec.At = fromUnixNano(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
