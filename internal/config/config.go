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

// Paths contains directory and document location configuration.
type Paths struct {
	SourceDir    string `toml:"source_dir"`
	GeneratedDir string `toml:"generated_dir"`
	MetadataDir  string `toml:"metadata_dir"`
	TempDir      string `toml:"temp_dir"`
	LogDir       string `toml:"log_dir"`
	RegistryPath string `toml:"registry_path"`
}

// FFmpeg contains configuration for the external transformation engine.
type FFmpeg struct {
	Binary         string   `toml:"binary"`
	FFprobeBinary  string   `toml:"ffprobe_binary"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	ExtraArgs      []string `toml:"extra_args"`
}

// Server contains configuration for the daemon's HTTP surface.
type Server struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Watcher contains configuration for the source directory watcher.
type Watcher struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// Cache contains thresholds for cache housekeeping.
type Cache struct {
	// FreeSpaceFloorPct blocks new transformations when the generated
	// directory's filesystem falls below this free-space percentage.
	FreeSpaceFloorPct int `toml:"free_space_floor_pct"`
}

// Jobs contains configuration for the execution audit store.
type Jobs struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Sprocket.
type Config struct {
	Paths   Paths   `toml:"paths"`
	FFmpeg  FFmpeg  `toml:"ffmpeg"`
	Server  Server  `toml:"server"`
	Watcher Watcher `toml:"watcher"`
	Cache   Cache   `toml:"cache"`
	Jobs    Jobs    `toml:"jobs"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sprocket/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved config path; the third reports whether a file was found.
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
		if _, err = os.Stat(expanded); err != nil {
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

	projectPath, err := filepath.Abs("sprocket.toml")
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

// EnsureDirectories creates the directories Sprocket needs to operate.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.SourceDir,
		c.Paths.GeneratedDir,
		c.Paths.MetadataDir,
		c.Paths.TempDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.RegistryPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	if strings.TrimSpace(c.FFmpeg.Binary) == "" {
		return "ffmpeg"
	}
	return c.FFmpeg.Binary
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	if strings.TrimSpace(c.FFmpeg.FFprobeBinary) == "" {
		return "ffprobe"
	}
	return c.FFmpeg.FFprobeBinary
}

// JobsPath returns the resolved location of the execution audit database.
func (c *Config) JobsPath() string {
	if strings.TrimSpace(c.Jobs.Path) != "" {
		return c.Jobs.Path
	}
	return filepath.Join(c.Paths.LogDir, "jobs.db")
}

// LockPath returns the lock file serializing registry mutation across
// processes.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "sprocketd.lock")
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
