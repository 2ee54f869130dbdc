package config

const (
	defaultDataDir            = "~/.local/share/clipforge"
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
	defaultVideoCodec         = "libx264"
	defaultVideoPreset        = "veryfast"
	defaultVideoCRF           = 23
	defaultAudioCodec         = "aac"
	defaultAudioBitrate       = "128k"
	defaultClipSeconds        = 60
	defaultMaxClipSeconds     = 3600
	defaultCreditBalance      = 10
	defaultJobWorkers         = 2
	defaultJobQueueSize       = 64
	defaultRecentErrors       = 100
	defaultDiskWarnPercent    = 90
	defaultMemoryWarnMiB      = 1024
	defaultErrorRateWarn      = 50
	defaultActiveJobsWarn     = 20
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultReclaimerEnabled   = true
	defaultRefundOnFailure    = true
	defaultNotifyCritical     = true
	defaultNotifyHealthWarned = true
)

// Default returns a Config populated with repository defaults. Directories
// other than data_dir are left empty and derived during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Media: Media{
			FFmpegBinary:       defaultFFmpegBinary,
			FFprobeBinary:      defaultFFprobeBinary,
			VideoCodec:         defaultVideoCodec,
			VideoPreset:        defaultVideoPreset,
			VideoCRF:           defaultVideoCRF,
			AudioCodec:         defaultAudioCodec,
			AudioBitrate:       defaultAudioBitrate,
			DefaultClipSeconds: defaultClipSeconds,
			MaxClipSeconds:     defaultMaxClipSeconds,
		},
		Credits: Credits{
			DefaultBalance:  defaultCreditBalance,
			RefundOnFailure: defaultRefundOnFailure,
		},
		Jobs: Jobs{
			Workers:   defaultJobWorkers,
			QueueSize: defaultJobQueueSize,
		},
		Errors: Errors{
			RecentCapacity: defaultRecentErrors,
		},
		Reclaimer: Reclaimer{
			Enabled: defaultReclaimerEnabled,
		},
		Health: Health{
			DiskWarnPercent:       defaultDiskWarnPercent,
			MemoryWarnMiB:         defaultMemoryWarnMiB,
			ErrorRateWarnPerHour:  defaultErrorRateWarn,
			ActiveJobsWarnCeiling: defaultActiveJobsWarn,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			CriticalErrors: defaultNotifyCritical,
			HealthWarnings: defaultNotifyHealthWarned,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
