// Package storage persists the scheduling core's records: notifications,
// per-recipient preferences, tasks, recurring definitions, and short-lived
// dedup keys.
//
// Two backends share one contract:
//   - sqlite: embedded database file (WAL), survives restarts
//   - memory: process-local maps, for tests and ephemeral runs
//
// Every status mutation is a conditional update guarded by the record's
// current status, so concurrent or repeated passes are safe without
// external locking.
package storage
