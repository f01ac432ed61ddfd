package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/daemon"
	"sprocket/internal/jobs"
	"sprocket/internal/logging"
	"sprocket/internal/mcptools"
	"sprocket/internal/preflight"
	"sprocket/internal/registry"
	"sprocket/internal/services/ffmpeg"
	"sprocket/internal/toolkit"
)

const version = "0.3.0"

func newRootCommand() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:           "sprocketd",
		Short:         "Sprocket media toolkit daemon",
		Long:          "Serves the media toolkit over MCP, watches the source directory, and owns the registry while running.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, strings.TrimSpace(configFlag))
		},
	}

	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logPath := filepath.Join(cfg.Paths.LogDir, "sprocketd.log")
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	checks := preflight.RunAll(cfg)
	for _, result := range checks {
		if !result.Passed {
			logging.WarnWithContext(logger, "preflight check failed", "preflight",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldErrorHint, "operations touching this dependency will fail"))
		}
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "sprocketd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	reg, err := registry.Open(cfg.Paths.RegistryPath, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if warning := reg.LoadWarning(); warning != "" {
		logging.WarnWithContext(logger, "registry loaded with warning", "registry_load",
			logging.String("detail", warning),
			logging.String(logging.FieldErrorHint, "run `sprocket rebuild` to recover registrations from disk"))
	}

	var store *jobs.Store
	if cfg.Jobs.Enabled {
		store, err = jobs.Open(cfg.JobsPath())
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer store.Close()
	}

	engineOpts := []ffmpeg.Option{
		ffmpeg.WithBinary(cfg.FFmpegBinary()),
		ffmpeg.WithExtraArgs(cfg.FFmpeg.ExtraArgs),
	}
	if cfg.FFmpeg.TimeoutSeconds > 0 {
		engineOpts = append(engineOpts, ffmpeg.WithTimeout(time.Duration(cfg.FFmpeg.TimeoutSeconds)*time.Second))
	}
	engine := ffmpeg.NewCLI(engineOpts...)

	tk := toolkit.New(cfg, reg, engine, store, logger)

	mcpServer, err := mcptools.NewServer(tk, version, logger)
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}

	d, err := daemon.New(cfg, tk, mcpServer.Handler(), logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("sprocket daemon shutting down")
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
