// Package daemon coordinates the long-running clipforge process.
//
// It wires configuration, the store, the error handler, the credit ledger,
// the job manager, and the reclaimer into a single lifecycle with flock-based
// locking to prevent multiple instances. Jobs left processing by a previous
// run are failed and refunded before workers start.
//
// Keep orchestration here: job semantics live in internal/jobs and
// maintenance in internal/reclaimer.
package daemon
