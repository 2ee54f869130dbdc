package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"clipforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every managed directory is created before options run.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		DataDir:      filepath.Join(base, "data"),
		UploadDir:    filepath.Join(base, "uploads"),
		ClipDir:      filepath.Join(base, "clips"),
		ThumbnailDir: filepath.Join(base, "thumbnails"),
		TempDir:      filepath.Join(base, "tmp"),
		LogDir:       filepath.Join(base, "logs"),
		LogArchive:   filepath.Join(base, "logs", "archive"),
		BackupDir:    filepath.Join(base, "backups"),
	}
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Jobs.Workers = 1
	cfgVal.Jobs.QueueSize = 8

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithDefaultBalance overrides the opening credit balance.
func WithDefaultBalance(balance int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Credits.DefaultBalance = balance
	}
}

// WithRefundOnFailure toggles automatic refunds for failed jobs.
func WithRefundOnFailure(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Credits.RefundOnFailure = enabled
	}
}

// WithWorkers sets the job worker pool size.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.Workers = workers
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), script)
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
