package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"clipforge/internal/fileutil"
	"clipforge/internal/logging"
	"clipforge/internal/store"
)

// Retention windows.
const (
	TempMaxAge         = 2 * time.Hour
	OrphanGrace        = time.Hour
	LogMaxAge          = 30 * 24 * time.Hour
	ActivityMaxAge     = 90 * 24 * time.Hour
	ErrorRecordMaxAge  = 180 * 24 * time.Hour
	BackupMaxAge       = 7 * 24 * time.Hour
	errorRateWindow    = time.Hour
	criticalSeverity   = "critical"
	backupDirPrefix    = "backup-"
	backupStampLayout  = "20060102-150405"
	manifestName       = "manifest.json"
	databaseBackupName = "clipforge.db"
	configBackupName   = "config.toml"
)

// sweepExpired archives clips past their expiry after removing their files.
// Archived rows are kept. A clip whose files could not be removed stays
// unarchived so the next run retries it.
func (r *Reclaimer) sweepExpired(ctx context.Context, now time.Time) (Report, error) {
	clips, err := r.store.ExpiredClips(ctx, now)
	if err != nil {
		return Report{}, err
	}
	report := Report{Examined: len(clips)}
	for _, clip := range clips {
		warnings := len(report.Warnings)
		if removed := r.removeBestEffort(ctx, clip.Path, &report); removed {
			report.Bytes += clip.SizeBytes
		}
		r.removeBestEffort(ctx, clip.ThumbnailPath, &report)
		if len(report.Warnings) > warnings {
			continue
		}
		if err := r.store.ArchiveClip(ctx, clip.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return report, err
		}
		report.Removed++
	}
	report.Detail = fmt.Sprintf("archived %d expired clips", report.Removed)
	return report, nil
}

// sweepTemp deletes scratch files older than TempMaxAge.
func (r *Reclaimer) sweepTemp(ctx context.Context, now time.Time) (Report, error) {
	stale, err := fileutil.FilesOlderThan(r.cfg.Paths.TempDir, now.Add(-TempMaxAge))
	if err != nil {
		return Report{}, err
	}
	report := Report{Examined: len(stale)}
	for _, file := range stale {
		if r.removeBestEffort(ctx, file.Path, &report) {
			report.Removed++
			report.Bytes += file.Size
		}
	}
	return report, nil
}

// sweepOrphans deletes files in the artifact directories that no job or
// clip row references. Files younger than OrphanGrace are left alone so an
// upload or segment that is still being recorded is not mistaken for one.
func (r *Reclaimer) sweepOrphans(ctx context.Context, now time.Time) (Report, error) {
	refs, err := r.store.ReferencedPaths(ctx)
	if err != nil {
		return Report{}, err
	}
	known := make(map[string]struct{}, len(refs))
	for path := range refs {
		known[filepath.Clean(path)] = struct{}{}
	}

	var report Report
	for _, dir := range []string{r.cfg.Paths.UploadDir, r.cfg.Paths.ClipDir, r.cfg.Paths.ThumbnailDir} {
		files, err := fileutil.FilesOlderThan(dir, now.Add(-OrphanGrace))
		if err != nil {
			return report, err
		}
		for _, file := range files {
			report.Examined++
			if _, ok := known[filepath.Clean(file.Path)]; ok {
				continue
			}
			if r.removeBestEffort(ctx, file.Path, &report) {
				report.Removed++
				report.Bytes += file.Size
			}
		}
	}
	return report, nil
}

// sweepLogs moves log files older than LogMaxAge into the archive directory.
// The active log file is never moved.
func (r *Reclaimer) sweepLogs(ctx context.Context, now time.Time) (Report, error) {
	moved, err := logging.ArchiveOldLogs(logging.WithContext(ctx, r.logger), r.cfg.Paths.LogArchive, LogMaxAge, now,
		logging.RetentionTarget{
			Dir:     r.cfg.Paths.LogDir,
			Pattern: "*.log*",
			Exclude: []string{r.cfg.LogFilePath()},
		},
	)
	return Report{Removed: moved, Detail: fmt.Sprintf("archived %d log files", moved)}, err
}

// sweepDatastore purges aged activity and error rows, then compacts.
// Critical error records are kept regardless of age.
func (r *Reclaimer) sweepDatastore(ctx context.Context, now time.Time) (Report, error) {
	activity, err := r.store.PurgeActivity(ctx, now.Add(-ActivityMaxAge))
	if err != nil {
		return Report{}, err
	}
	records, err := r.store.PurgeErrorRecords(ctx, now.Add(-ErrorRecordMaxAge), criticalSeverity)
	if err != nil {
		return Report{Removed: int(activity)}, err
	}
	report := Report{
		Removed: int(activity + records),
		Detail:  fmt.Sprintf("purged %d activity rows and %d error records", activity, records),
	}
	if err := r.store.Compact(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// removeBestEffort deletes path. Missing files are not errors; other
// failures are logged and counted as warnings.
func (r *Reclaimer) removeBestEffort(ctx context.Context, path string, report *Report) bool {
	removed, err := fileutil.RemoveIfExists(path)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("remove %s: %v", path, err))
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "file removal failed", "reclaim_remove_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check file permissions"),
			logging.String(logging.FieldImpact, "file retried on the next sweep"),
		)
		return false
	}
	return removed
}
