package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.source_dir":    c.Paths.SourceDir,
		"paths.generated_dir": c.Paths.GeneratedDir,
		"paths.metadata_dir":  c.Paths.MetadataDir,
		"paths.temp_dir":      c.Paths.TempDir,
		"paths.log_dir":       c.Paths.LogDir,
		"paths.registry_path": c.Paths.RegistryPath,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.Paths.SourceDir == c.Paths.GeneratedDir {
		return errors.New("paths.source_dir and paths.generated_dir must differ: rebuild scans would misclassify artifacts")
	}
	if c.Paths.GeneratedDir == c.Paths.MetadataDir {
		return errors.New("paths.generated_dir and paths.metadata_dir must differ")
	}
	return nil
}

func (c *Config) validateFFmpeg() error {
	if c.FFmpeg.TimeoutSeconds <= 0 {
		return errors.New("ffmpeg.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind must be set")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if c.Watcher.Enabled && c.Watcher.DebounceMS <= 0 {
		return errors.New("watcher.debounce_ms must be positive when watcher.enabled is true")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.FreeSpaceFloorPct < 0 || c.Cache.FreeSpaceFloorPct > 100 {
		return errors.New("cache.free_space_floor_pct must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
