// Package reclaimer runs the periodic maintenance sweeps: expired clip
// archival, temp and orphan file cleanup, log archival, datastore retention
// and compaction, health sampling, and backups.
//
// Sweeps are scheduled with robfig/cron. Each sweep runs at most once at a
// time; an overlapping trigger is skipped rather than queued. A failing sweep
// reports to the error handler and leaves the scheduler and other sweeps
// untouched.
package reclaimer
