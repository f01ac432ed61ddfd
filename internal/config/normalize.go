package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFFmpeg()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SourceDir, err = expandPath(c.Paths.SourceDir); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if c.Paths.GeneratedDir, err = expandPath(c.Paths.GeneratedDir); err != nil {
		return fmt.Errorf("paths.generated_dir: %w", err)
	}
	if c.Paths.MetadataDir, err = expandPath(c.Paths.MetadataDir); err != nil {
		return fmt.Errorf("paths.metadata_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.RegistryPath, err = expandPath(c.Paths.RegistryPath); err != nil {
		return fmt.Errorf("paths.registry_path: %w", err)
	}
	if strings.TrimSpace(c.Jobs.Path) != "" {
		if c.Jobs.Path, err = expandPath(c.Jobs.Path); err != nil {
			return fmt.Errorf("jobs.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.Binary = strings.TrimSpace(c.FFmpeg.Binary)
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	cleaned := make([]string, 0, len(c.FFmpeg.ExtraArgs))
	for _, arg := range c.FFmpeg.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	c.FFmpeg.ExtraArgs = cleaned
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
