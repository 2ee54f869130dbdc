// Package logging assembles structured slog loggers and formatting helpers used
// across clipforge components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with job IDs, clip indexes, users, and correlation IDs. The package
// also provides a no-op logger for tests, a progress sampler for transcoder
// output, and the log archival routine used by the reclaimer.
package logging
