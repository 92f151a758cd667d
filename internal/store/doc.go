// Package store is the SQLite run store of a fuzzing campaign.
//
// It records three append-only tables:
//   - campaigns: one row per campaign, keyed by its UUIDv7
//   - test_cases: generated sequences, keyed by content-addressed ID
//   - executions: classified results, keyed by the campaign's logical seq
//
// All reads order by seq, then by ID with binary collation, so two reads of
// the same campaign return identical results.
//
// The database runs in WAL mode with a single writer connection, NORMAL
// synchronous mode, a five second busy timeout and foreign keys on.
package store
