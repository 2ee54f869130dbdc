// Package preflight provides readiness checks for the filesystem paths and
// binaries clipforge depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a required
//     check fails.
//   - The CLI "clipforge doctor" command renders the same results without a
//     running daemon.
package preflight
