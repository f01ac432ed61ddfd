package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidatesAfterNormalize(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize defaults: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !filepath.IsAbs(cfg.Paths.RegistryPath) {
		t.Fatalf("registry path not absolute: %q", cfg.Paths.RegistryPath)
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	body := `
[paths]
source_dir = "` + filepath.Join(dir, "src") + `"
generated_dir = "` + filepath.Join(dir, "gen") + `"
metadata_dir = "` + filepath.Join(dir, "meta") + `"
temp_dir = "` + filepath.Join(dir, "tmp") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
registry_path = "` + filepath.Join(dir, "registry.json") + `"

[ffmpeg]
timeout_seconds = 120

[logging]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(configPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.FFmpeg.TimeoutSeconds != 120 {
		t.Fatalf("timeout = %d, want 120", cfg.FFmpeg.TimeoutSeconds)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Server.Bind == "" {
		t.Fatal("defaults should fill unset sections")
	}
	if cfg.JobsPath() != filepath.Join(dir, "logs", "jobs.db") {
		t.Fatalf("jobs path = %q", cfg.JobsPath())
	}
}

func TestValidateRejectsSharedDirectories(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Paths.GeneratedDir = cfg.Paths.SourceDir
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected shared-directory error, got %v", err)
	}
}

func TestValidateRejectsBadLogging(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Logging.Format = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected logging format error")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths = Paths{
		SourceDir:    filepath.Join(dir, "src"),
		GeneratedDir: filepath.Join(dir, "gen"),
		MetadataDir:  filepath.Join(dir, "meta"),
		TempDir:      filepath.Join(dir, "tmp"),
		LogDir:       filepath.Join(dir, "logs"),
		RegistryPath: filepath.Join(dir, "state", "registry.json"),
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for _, p := range []string{cfg.Paths.SourceDir, cfg.Paths.GeneratedDir, filepath.Join(dir, "state")} {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %q missing: %v", p, err)
		}
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") {
		t.Fatal("sample config missing paths section")
	}
}
