// Package storage provides audit.Storage backends.
//
// SQLiteStorage is the production backend. It runs in WAL mode so the
// recorder's batched writes do not block readers such as "rulegate audit
// query", and it records a schema version on first open.
//
// MemoryStorage keeps events in a map. It applies the same filters,
// ordering and pagination as SQLiteStorage and is used in tests.
package storage
