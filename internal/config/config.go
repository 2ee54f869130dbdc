package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories clipforge reads from and writes to.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	UploadDir    string `toml:"upload_dir"`
	ClipDir      string `toml:"clip_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	TempDir      string `toml:"temp_dir"`
	LogDir       string `toml:"log_dir"`
	LogArchive   string `toml:"log_archive_dir"`
	BackupDir    string `toml:"backup_dir"`
}

// Media contains transcoding engine settings.
type Media struct {
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	FFprobeBinary      string `toml:"ffprobe_binary"`
	VideoCodec         string `toml:"video_codec"`
	VideoPreset        string `toml:"video_preset"`
	VideoCRF           int    `toml:"video_crf"`
	AudioCodec         string `toml:"audio_codec"`
	AudioBitrate       string `toml:"audio_bitrate"`
	DefaultClipSeconds int    `toml:"default_clip_seconds"`
	MaxClipSeconds     int    `toml:"max_clip_seconds"`
}

// Credits contains ledger settings.
type Credits struct {
	DefaultBalance  int64 `toml:"default_balance"`
	RefundOnFailure bool  `toml:"refund_on_failure"`
}

// Jobs contains worker pool sizing for background clip production.
type Jobs struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// Errors contains error handler settings.
type Errors struct {
	RecentCapacity int `toml:"recent_capacity"`
}

// Reclaimer toggles the maintenance scheduler.
type Reclaimer struct {
	Enabled bool `toml:"enabled"`
}

// Health contains thresholds used by the periodic health sample.
type Health struct {
	DiskWarnPercent       float64 `toml:"disk_warn_percent"`
	MemoryWarnMiB         int     `toml:"memory_warn_mib"`
	ErrorRateWarnPerHour  int     `toml:"error_rate_warn_per_hour"`
	ActiveJobsWarnCeiling int     `toml:"active_jobs_warn_ceiling"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	CriticalErrors bool   `toml:"critical_errors"`
	HealthWarnings bool   `toml:"health_warnings"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipforge.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact, scratch, log, and backup directories
//   - Media: ffmpeg/ffprobe binaries and fixed encode parameters
//   - Credits: default balance and refund policy
//   - Jobs: worker pool sizing
//   - Errors: recent-error buffer capacity
//   - Reclaimer: maintenance scheduler toggle
//   - Health: health sample warning thresholds
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Media         Media         `toml:"media"`
	Credits       Credits       `toml:"credits"`
	Jobs          Jobs          `toml:"jobs"`
	Errors        Errors        `toml:"errors"`
	Reclaimer     Reclaimer     `toml:"reclaimer"`
	Health        Health        `toml:"health"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`

	// SourcePath is the config file the values were read from, if any.
	SourcePath string `toml:"-"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		cfg.SourcePath = resolvedPath
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every managed directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range c.ManagedDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ManagedDirectories lists the directories clipforge owns.
func (c *Config) ManagedDirectories() []string {
	return []string{
		c.Paths.DataDir,
		c.Paths.UploadDir,
		c.Paths.ClipDir,
		c.Paths.ThumbnailDir,
		c.Paths.TempDir,
		c.Paths.LogDir,
		c.Paths.LogArchive,
		c.Paths.BackupDir,
	}
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "clipforge.db")
}

// LogFilePath returns the primary log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "clipforge.log")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "clipforged.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "clipforged.pid")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "clipforged.sock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
