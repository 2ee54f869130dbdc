package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateCredits(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMedia() error {
	if c.Media.VideoCRF < 0 || c.Media.VideoCRF > 51 {
		return errors.New("media.video_crf must be between 0 and 51")
	}
	if err := ensurePositiveMap(map[string]int{
		"media.default_clip_seconds": c.Media.DefaultClipSeconds,
		"media.max_clip_seconds":     c.Media.MaxClipSeconds,
	}); err != nil {
		return err
	}
	if c.Media.DefaultClipSeconds > c.Media.MaxClipSeconds {
		return errors.New("media.default_clip_seconds must not exceed media.max_clip_seconds")
	}
	return nil
}

func (c *Config) validateCredits() error {
	if c.Credits.DefaultBalance < 0 {
		return errors.New("credits.default_balance must be >= 0")
	}
	return nil
}

func (c *Config) validateJobs() error {
	return ensurePositiveMap(map[string]int{
		"jobs.workers":                  c.Jobs.Workers,
		"jobs.queue_size":               c.Jobs.QueueSize,
		"errors.recent_capacity":        c.Errors.RecentCapacity,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateHealth() error {
	if c.Health.DiskWarnPercent <= 0 || c.Health.DiskWarnPercent > 100 {
		return errors.New("health.disk_warn_percent must be between 0 and 100")
	}
	if c.Health.MemoryWarnMiB <= 0 {
		return errors.New("health.memory_warn_mib must be positive")
	}
	if c.Health.ErrorRateWarnPerHour < 0 {
		return errors.New("health.error_rate_warn_per_hour must be >= 0")
	}
	if c.Health.ActiveJobsWarnCeiling < 0 {
		return errors.New("health.active_jobs_warn_ceiling must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
