// Package services defines shared utilities consumed by the job pipeline,
// the maintenance reclaimer, and the operator CLI.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, clip indexes, user/session/request
//     identifiers, and sweep names for logging and error capture.
//   - Structured error markers plus the Wrap helper so failures carry a
//     sentinel the error handler can classify without string matching.
//
// Use these helpers when wiring new pipeline logic so error handling and
// observability stay uniform across components.
package services
