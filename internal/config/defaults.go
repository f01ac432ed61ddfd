package config

const (
	defaultSourceDir         = "~/.local/share/sprocket/sources"
	defaultGeneratedDir      = "~/.local/share/sprocket/generated"
	defaultMetadataDir       = "~/.local/share/sprocket/metadata"
	defaultTempDir           = "~/.local/share/sprocket/tmp"
	defaultLogDir            = "~/.local/share/sprocket/logs"
	defaultRegistryPath      = "~/.local/share/sprocket/registry.json"
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultFFmpegTimeout     = 3600
	defaultServerBind        = "127.0.0.1:7319"
	defaultWatcherDebounceMS = 500
	defaultFreeSpaceFloorPct = 5
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultJobsEnabled       = true
	defaultWatcherEnabled    = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir:    defaultSourceDir,
			GeneratedDir: defaultGeneratedDir,
			MetadataDir:  defaultMetadataDir,
			TempDir:      defaultTempDir,
			LogDir:       defaultLogDir,
			RegistryPath: defaultRegistryPath,
		},
		FFmpeg: FFmpeg{
			Binary:         defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultFFmpegTimeout,
		},
		Server: Server{
			Bind: defaultServerBind,
		},
		Watcher: Watcher{
			Enabled:    defaultWatcherEnabled,
			DebounceMS: defaultWatcherDebounceMS,
		},
		Cache: Cache{
			FreeSpaceFloorPct: defaultFreeSpaceFloorPct,
		},
		Jobs: Jobs{
			Enabled: defaultJobsEnabled,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
