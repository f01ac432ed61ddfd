// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"sprocket/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Directories are created so tests can write into them immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.SourceDir = filepath.Join(base, "sources")
	cfg.Paths.GeneratedDir = filepath.Join(base, "generated")
	cfg.Paths.MetadataDir = filepath.Join(base, "metadata")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.RegistryPath = filepath.Join(base, "registry.json")
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Watcher.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWatcher enables the source watcher on the test config.
func WithWatcher(debounceMS int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Watcher.Enabled = true
		cfg.Watcher.DebounceMS = debounceMS
	}
}
