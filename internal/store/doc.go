// Package store persists clipforge state in SQLite.
//
// One database holds jobs, clips, credit accounts with their append-only
// transaction log, redacted error records, and the activity log. Job status
// changes are conditional updates keyed on the expected current status, so a
// lost race surfaces as ErrConflict instead of an illegal transition. Credit
// debits and credits update the balance and append the transaction inside one
// SQL transaction; remaining balance is never stored, only derived.
//
// Timestamps are stored as fixed-width UTC strings so range filters and
// ordering work lexically. Schema changes bump schemaVersion in schema.go.
package store
