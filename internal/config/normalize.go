package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMedia()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	// Unset artifact directories live under data_dir so a single override
	// relocates the whole tree.
	derived := []struct {
		key    string
		value  *string
		suffix string
	}{
		{"paths.upload_dir", &c.Paths.UploadDir, "uploads"},
		{"paths.clip_dir", &c.Paths.ClipDir, "clips"},
		{"paths.thumbnail_dir", &c.Paths.ThumbnailDir, "thumbnails"},
		{"paths.temp_dir", &c.Paths.TempDir, "tmp"},
		{"paths.log_dir", &c.Paths.LogDir, "logs"},
		{"paths.backup_dir", &c.Paths.BackupDir, "backups"},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.suffix)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	if strings.TrimSpace(c.Paths.LogArchive) == "" {
		c.Paths.LogArchive = filepath.Join(c.Paths.LogDir, "archive")
	}
	if c.Paths.LogArchive, err = expandPath(c.Paths.LogArchive); err != nil {
		return fmt.Errorf("paths.log_archive_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	if c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = defaultFFmpegBinary
	}
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
	c.Media.VideoCodec = strings.TrimSpace(c.Media.VideoCodec)
	if c.Media.VideoCodec == "" {
		c.Media.VideoCodec = defaultVideoCodec
	}
	c.Media.VideoPreset = strings.ToLower(strings.TrimSpace(c.Media.VideoPreset))
	if c.Media.VideoPreset == "" {
		c.Media.VideoPreset = defaultVideoPreset
	}
	c.Media.AudioCodec = strings.TrimSpace(c.Media.AudioCodec)
	if c.Media.AudioCodec == "" {
		c.Media.AudioCodec = defaultAudioCodec
	}
	c.Media.AudioBitrate = strings.ToLower(strings.TrimSpace(c.Media.AudioBitrate))
	if c.Media.AudioBitrate == "" {
		c.Media.AudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("CLIPFORGE_NTFY_TOPIC"); ok && strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
