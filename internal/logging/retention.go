package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget specifies a directory and filename pattern to archive.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// ArchiveOldLogs moves files matching the provided targets whose modification
// time is older than maxAge into archiveDir. Active log files listed in
// Exclude are never moved. It returns the number of files archived.
func ArchiveOldLogs(logger *slog.Logger, archiveDir string, maxAge time.Duration, now time.Time, targets ...RetentionTarget) (int, error) {
	archiveDir = strings.TrimSpace(archiveDir)
	if archiveDir == "" || maxAge <= 0 {
		return 0, nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure log archive dir: %w", err)
	}
	archiveAbs, err := filepath.Abs(archiveDir)
	if err != nil {
		archiveAbs = archiveDir
	}
	cutoff := now.Add(-maxAge)

	exclusions := make(map[string]struct{})
	for _, target := range targets {
		for _, path := range target.Exclude {
			if trimmed := strings.TrimSpace(path); trimmed != "" {
				if abs, err := filepath.Abs(trimmed); err == nil {
					exclusions[abs] = struct{}{}
				}
			}
		}
	}

	archived := 0
	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil && abs == archiveAbs {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return archived, fmt.Errorf("read log dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if pat := strings.TrimSpace(target.Pattern); pat != "" {
				matched, err := filepath.Match(pat, name)
				if err != nil || !matched {
					continue
				}
			}
			fullPath := filepath.Join(dir, name)
			if absPath, err := filepath.Abs(fullPath); err == nil {
				fullPath = absPath
			}
			if _, skip := exclusions[fullPath]; skip {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			dest := filepath.Join(archiveDir, name)
			if _, err := os.Stat(dest); err == nil {
				dest = filepath.Join(archiveDir, fmt.Sprintf("%s.%d", name, now.Unix()))
			}
			if err := os.Rename(fullPath, dest); err != nil {
				WarnWithContext(logger, "log archive move failed; file remains", "log_archive_failed",
					String("path", fullPath),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_archive_dir ownership"),
					String(FieldImpact, "old log file remains in the active log directory"),
				)
				continue
			}
			archived++
			if logger != nil {
				logger.Info("log archived",
					String("path", fullPath),
					String("archive_path", dest),
					String(FieldEventType, "log_archived"),
				)
			}
		}
	}
	return archived, nil
}
