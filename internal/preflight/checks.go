package preflight

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"clipforge/internal/config"
	"clipforge/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace reports usage of the filesystem holding path. It is advisory:
// a nearly full disk is worth a warning but does not block startup.
func CheckFreeSpace(name, path string, warnPercent float64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Advisory: true, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	used := 0.0
	if total > 0 {
		used = float64(total-free) / float64(total) * 100
	}
	detail := fmt.Sprintf("%s free of %s (%.1f%% used)", humanize.IBytes(free), humanize.IBytes(total), used)
	passed := warnPercent <= 0 || used < warnPercent
	return Result{Name: name, Passed: passed, Advisory: true, Detail: detail}
}

// CheckSystemDeps evaluates the external binaries for the given config. Both
// the daemon and the CLI doctor command use it.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, deps.MediaRequirements(cfg.Media))
}
