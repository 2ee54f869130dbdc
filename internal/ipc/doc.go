// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// Only operations that need the daemon's worker pool or in-memory state go
// over the socket: process requests, status, manual sweeps, and the recent
// error buffer. Every failure is recorded by the daemon's error handler and
// crosses the wire as a Fault carrying the user-facing message and error id.
package ipc
