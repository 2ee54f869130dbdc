package reclaimer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"clipforge/internal/logging"
	"clipforge/internal/notifications"
)

// HealthSample is one health measurement.
type HealthSample struct {
	TakenAt        time.Time
	DiskPath       string
	DiskTotalBytes uint64
	DiskFreeBytes  uint64
	DiskUsedPct    float64
	HeapBytes      uint64
	SysBytes       uint64
	Goroutines     int
	ActiveJobs     int
	ActiveClips    int
	RecentErrors   int
	Warnings       []string
}

// statfs reports total and available bytes for the filesystem holding path.
var statfs = func(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return stat.Blocks * bsize, stat.Bavail * bsize, nil
}

// LastHealth returns the most recent health sample, or nil before the first.
func (r *Reclaimer) LastHealth() *HealthSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastHealth == nil {
		return nil
	}
	sample := *r.lastHealth
	return &sample
}

// Sample measures the current health without evaluating thresholds.
func (r *Reclaimer) Sample(ctx context.Context, now time.Time) (HealthSample, error) {
	sample := HealthSample{TakenAt: now, DiskPath: r.cfg.Paths.DataDir, Goroutines: runtime.NumGoroutine()}

	total, free, err := statfs(sample.DiskPath)
	if err != nil {
		return sample, fmt.Errorf("stat filesystem %s: %w", sample.DiskPath, err)
	}
	sample.DiskTotalBytes = total
	sample.DiskFreeBytes = free
	if total > 0 {
		sample.DiskUsedPct = float64(total-free) / float64(total) * 100
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sample.HeapBytes = mem.HeapAlloc
	sample.SysBytes = mem.Sys

	summary, err := r.store.SummarizeJobs(ctx)
	if err != nil {
		return sample, err
	}
	sample.ActiveJobs = summary.Processing
	if sample.ActiveClips, err = r.store.CountClips(ctx, true); err != nil {
		return sample, err
	}
	if sample.RecentErrors, err = r.store.CountErrorRecordsSince(ctx, now.Add(-errorRateWindow)); err != nil {
		return sample, err
	}
	return sample, nil
}

// evaluate fills Warnings from the configured thresholds.
func (r *Reclaimer) evaluate(sample *HealthSample) {
	limits := r.cfg.Health
	if limits.DiskWarnPercent > 0 && sample.DiskUsedPct >= limits.DiskWarnPercent {
		sample.Warnings = append(sample.Warnings, fmt.Sprintf("disk %.1f%% used, %s free",
			sample.DiskUsedPct, humanize.IBytes(sample.DiskFreeBytes)))
	}
	if limits.MemoryWarnMiB > 0 && sample.SysBytes >= uint64(limits.MemoryWarnMiB)*1024*1024 {
		sample.Warnings = append(sample.Warnings, fmt.Sprintf("process memory %s exceeds %d MiB",
			humanize.IBytes(sample.SysBytes), limits.MemoryWarnMiB))
	}
	if limits.ActiveJobsWarnCeiling > 0 && sample.ActiveJobs >= limits.ActiveJobsWarnCeiling {
		sample.Warnings = append(sample.Warnings, fmt.Sprintf("%d jobs processing", sample.ActiveJobs))
	}
	if limits.ErrorRateWarnPerHour > 0 && sample.RecentErrors >= limits.ErrorRateWarnPerHour {
		sample.Warnings = append(sample.Warnings, fmt.Sprintf("%d errors in the last hour", sample.RecentErrors))
	}
}

// sweepHealth samples health, logs it, and raises a warning per threshold
// crossed.
func (r *Reclaimer) sweepHealth(ctx context.Context, now time.Time) (Report, error) {
	sample, err := r.Sample(ctx, now)
	if err != nil {
		return Report{}, err
	}
	r.evaluate(&sample)

	r.mu.Lock()
	r.lastHealth = &sample
	r.mu.Unlock()

	logger := logging.WithContext(ctx, r.logger)
	logger.Info("health sample",
		logging.String("disk_free", humanize.IBytes(sample.DiskFreeBytes)),
		logging.Float64("disk_used_pct", sample.DiskUsedPct),
		logging.String("memory", humanize.IBytes(sample.SysBytes)),
		logging.Int("goroutines", sample.Goroutines),
		logging.Int("active_jobs", sample.ActiveJobs),
		logging.Int("active_clips", sample.ActiveClips),
		logging.Int("errors_last_hour", sample.RecentErrors),
		logging.String(logging.FieldEventType, "health_sample"),
	)
	for _, warning := range sample.Warnings {
		logging.WarnWithContext(logger, "health threshold exceeded", "health_warning",
			logging.String("detail", warning),
			logging.Alert("health"),
			logging.String(logging.FieldErrorHint, "free disk space or investigate recent errors"),
			logging.String(logging.FieldImpact, "processing may degrade"),
		)
		if err := r.notifier.Publish(ctx, notifications.EventHealthWarning, notifications.Payload{
			"check":  "health",
			"detail": warning,
		}); err != nil {
			logger.Debug("health notification failed", logging.Error(err))
		}
	}
	return Report{
		Examined: 1,
		Warnings: sample.Warnings,
		Detail:   fmt.Sprintf("%d active jobs, %d active clips", sample.ActiveJobs, sample.ActiveClips),
	}, nil
}
