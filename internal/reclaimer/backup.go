package reclaimer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipforge/internal/fileutil"
	"clipforge/internal/logging"
)

// Manifest describes one backup directory.
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Files     []ManifestEntry `json:"files"`
}

// ManifestEntry is one file captured in a backup.
type ManifestEntry struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// sweepBackup snapshots the database and config into a timestamped
// directory with a manifest, then prunes backups older than BackupMaxAge.
func (r *Reclaimer) sweepBackup(ctx context.Context, now time.Time) (Report, error) {
	dir := filepath.Join(r.cfg.Paths.BackupDir, backupDirPrefix+now.UTC().Format(backupStampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create backup dir: %w", err)
	}
	manifest := Manifest{CreatedAt: now.UTC()}

	dbDest := filepath.Join(dir, databaseBackupName)
	if err := r.store.SnapshotTo(ctx, dbDest); err != nil {
		return Report{}, err
	}
	info, err := os.Stat(dbDest)
	if err != nil {
		return Report{}, fmt.Errorf("stat snapshot: %w", err)
	}
	manifest.Files = append(manifest.Files, ManifestEntry{Name: databaseBackupName, Source: r.store.Path(), Size: info.Size()})

	var report Report
	if source := strings.TrimSpace(r.cfg.SourcePath); source != "" {
		copied, err := fileutil.CopyFileVerified(source, filepath.Join(dir, configBackupName))
		switch {
		case err == nil:
			manifest.Files = append(manifest.Files, ManifestEntry{Name: configBackupName, Source: source, Size: copied.Size, SHA256: copied.SHA256})
		case errors.Is(err, fs.ErrNotExist):
			report.Warnings = append(report.Warnings, "config file missing: "+source)
		default:
			return Report{}, fmt.Errorf("copy config: %w", err)
		}
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), encoded, 0o644); err != nil {
		return Report{}, fmt.Errorf("write manifest: %w", err)
	}
	report.Examined = len(manifest.Files)
	report.Detail = dir

	pruned, err := r.pruneBackups(ctx, now)
	report.Removed = pruned
	return report, err
}

// pruneBackups removes backup directories whose timestamp is older than
// BackupMaxAge. Directories with unparseable names are left alone.
func (r *Reclaimer) pruneBackups(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(r.cfg.Paths.BackupDir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}
	cutoff := now.Add(-BackupMaxAge)
	pruned := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, backupDirPrefix) {
			continue
		}
		stamp, err := time.Parse(backupStampLayout, strings.TrimPrefix(name, backupDirPrefix))
		if err != nil || !stamp.Before(cutoff) {
			continue
		}
		path := filepath.Join(r.cfg.Paths.BackupDir, name)
		if err := os.RemoveAll(path); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, r.logger), "backup prune failed", "backup_prune_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check backup_dir permissions"),
				logging.String(logging.FieldImpact, "old backup kept"),
			)
			continue
		}
		pruned++
	}
	return pruned, nil
}
