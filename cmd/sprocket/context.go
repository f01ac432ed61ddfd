package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/jobs"
	"sprocket/internal/logging"
	"sprocket/internal/registry"
	"sprocket/internal/services/ffmpeg"
	"sprocket/internal/toolkit"
)

// newEngine is a seam so command tests can substitute the transformation
// engine without a real ffmpeg binary.
var newEngine = func(cfg *config.Config) ffmpeg.Client {
	opts := []ffmpeg.Option{
		ffmpeg.WithBinary(cfg.FFmpegBinary()),
		ffmpeg.WithExtraArgs(cfg.FFmpeg.ExtraArgs),
	}
	if cfg.FFmpeg.TimeoutSeconds > 0 {
		opts = append(opts, ffmpeg.WithTimeout(time.Duration(cfg.FFmpeg.TimeoutSeconds)*time.Second))
	}
	return ffmpeg.NewCLI(opts...)
}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// openRegistry loads the registry for read-only commands. Mutating commands
// go through withToolkit, which serializes against the daemon.
func (c *commandContext) openRegistry() (*config.Config, *registry.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.Open(cfg.Paths.RegistryPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open registry: %w", err)
	}
	return cfg, reg, nil
}

// withToolkit runs fn with a fully wired toolkit while holding the registry
// lock, so a CLI mutation cannot race a running daemon. It fails fast when
// the daemon owns the lock.
func (c *commandContext) withToolkit(fn func(*config.Config, *toolkit.Toolkit) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("registry lock at %s is held; stop the sprocket daemon or use it via MCP instead", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := c.newLogger(cfg)
	if err != nil {
		return err
	}
	reg, err := registry.Open(cfg.Paths.RegistryPath, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	var store *jobs.Store
	if cfg.Jobs.Enabled {
		store, err = jobs.Open(cfg.JobsPath())
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer store.Close()
	}

	tk := toolkit.New(cfg, reg, newEngine(cfg), store, logger)
	return fn(cfg, tk)
}

// newLogger builds a CLI logger writing to stderr so command output on
// stdout stays machine-readable.
func (c *commandContext) newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
