// Package audit persists the stream of dispatched violations so that
// enforcement decisions can be queried after the fact.
//
// # Architecture
//
// The audit trail consists of four parts:
//
//  1. Recorder - Subscribes to the engine and queues dispatch events
//  2. Storage Backend - Persists events (SQLite, or memory for tests)
//  3. Query - Validates and applies filters to stored events
//  4. Retention - Prunes old events on a cron schedule
//
// # Events
//
// Each event captures the rule that fired (id, version, tier, severity,
// category), the dispatched action, the confidence and matched spans, the
// digest of the evaluated content and the rule snapshot version. Content
// itself is never stored.
//
// # Recording Flow
//
// Events are recorded asynchronously so evaluation never waits on storage:
//
//	Engine.Evaluate → OnViolationDispatched
//	     ↓
//	Recorder queue (bounded, drops when full)
//	     ↓
//	Batched write (one transaction per batch)
//	     ↓
//	Storage Backend (SQLite, WAL mode)
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:    "data/audit.db",
//	    WALMode: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	rec := recorder.New(store, recorder.DefaultConfig())
//	defer rec.Close()
//	rec.Attach(eng)
//
//	events, err := store.Query(ctx, &audit.Query{RuleID: "weapons-explosives"})
package audit
