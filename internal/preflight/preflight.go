package preflight

import (
	"context"

	"clipforge/internal/config"
	"clipforge/internal/deps"
)

// Result reports the outcome of a single preflight check. Advisory results
// never block startup.
type Result struct {
	Name     string
	Passed   bool
	Advisory bool
	Detail   string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	dirs := []struct {
		name string
		path string
	}{
		{"Data directory", cfg.Paths.DataDir},
		{"Upload directory", cfg.Paths.UploadDir},
		{"Clip directory", cfg.Paths.ClipDir},
		{"Thumbnail directory", cfg.Paths.ThumbnailDir},
		{"Temp directory", cfg.Paths.TempDir},
		{"Log directory", cfg.Paths.LogDir},
		{"Backup directory", cfg.Paths.BackupDir},
	}
	results := make([]Result, 0, len(dirs)+3)
	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess(dir.name, dir.path))
	}
	for _, status := range CheckSystemDeps(ctx, cfg) {
		results = append(results, FromDependency(status))
	}
	results = append(results, CheckFreeSpace("Free space", cfg.Paths.DataDir, cfg.Health.DiskWarnPercent))
	return results
}

// Failed returns the blocking results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Advisory {
			failed = append(failed, result)
		}
	}
	return failed
}

// FromDependency converts a dependency status into a preflight result.
func FromDependency(status deps.Status) Result {
	result := Result{
		Name:     status.Name,
		Passed:   status.Available,
		Advisory: status.Optional,
		Detail:   status.Detail,
	}
	if status.Available && status.Version != "" {
		result.Detail = status.Command + " (" + status.Version + ")"
	} else if status.Available && result.Detail == "" {
		result.Detail = status.Command
	}
	return result
}
