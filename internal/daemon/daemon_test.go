package daemon_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sprocket/internal/config"
	"sprocket/internal/daemon"
	"sprocket/internal/logging"
	"sprocket/internal/mcptools"
	"sprocket/internal/registry"
	"sprocket/internal/services/ffmpeg"
	"sprocket/internal/testsupport"
	"sprocket/internal/toolkit"
)

type stubEngine struct{}

func (stubEngine) Run(ctx context.Context, req ffmpeg.Request, progress func(ffmpeg.Progress)) (ffmpeg.Result, error) {
	if req.OutputPath != "" {
		if err := os.WriteFile(req.OutputPath, []byte("artifact"), 0o644); err != nil {
			return ffmpeg.Result{}, err
		}
	}
	return ffmpeg.Result{OutputPath: req.OutputPath}, nil
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *toolkit.Toolkit) {
	t.Helper()
	reg, err := registry.Open(cfg.Paths.RegistryPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	tk := toolkit.New(cfg, reg, stubEngine{}, nil, logging.NewNop())
	server, err := mcptools.NewServer(tk, "test", logging.NewNop())
	if err != nil {
		t.Fatalf("mcp server: %v", err)
	}
	d, err := daemon.New(cfg, tk, server.Handler(), logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d, tk
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, http.NotFoundHandler(), logging.NewNop()); err == nil {
		t.Fatal("expected error for nil toolkit")
	}
	if _, err := daemon.New(nil, &toolkit.Toolkit{}, http.NotFoundHandler(), logging.NewNop()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestStartServesHealthAndEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", d.Addr()))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	second, _ := newDaemon(t, cfg)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the daemon lock")
	}

	status := d.Status()
	if !status.Running || status.Address == "" || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("status = %+v", status)
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("daemon still reports running after stop")
	}

	// The lock is free again once stopped.
	third, _ := newDaemon(t, cfg)
	if err := third.Start(context.Background()); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	third.Stop()
}

func TestBearerTokenGuardsMCP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Token = "secret"
	d, _ := newDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	base := fmt.Sprintf("http://%s", d.Addr())

	resp, err := http.Get(base + "/mcp")
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/mcp", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("wrong token request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("valid token request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("valid token rejected")
	}

	// Health endpoint stays open.
	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestWatcherPropagatesStaleness(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWatcher(20))
	d, tk := newDaemon(t, cfg)

	srcPath := filepath.Join(cfg.Paths.SourceDir, "clip.mp4")
	testsupport.WriteFile(t, srcPath, "original clip contents")
	srcID, err := tk.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	exec, err := tk.Execute(context.Background(), "trim", []string{srcID}, map[string]any{"duration": 2.0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	testsupport.WriteFile(t, srcPath, "re-exported clip contents with different length")

	deadline := time.Now().Add(5 * time.Second)
	for !tk.Registry().IsStale(exec.Outcome.ID) {
		if time.Now().After(deadline) {
			t.Fatal("derivation never marked stale after source change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Files foreign to the registry do not disturb it.
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.SourceDir, "stranger.mp4"), "unknown")
	time.Sleep(100 * time.Millisecond)
	if got := len(tk.Registry().StaleIDs()); got != 1 {
		t.Fatalf("stale set size = %d, want 1", got)
	}
}

func TestStartupSweepDetectsOfflineChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, tk := newDaemon(t, cfg)

	srcPath := filepath.Join(cfg.Paths.SourceDir, "clip.mp4")
	testsupport.WriteFile(t, srcPath, "original clip contents")
	srcID, err := tk.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	exec, err := tk.Execute(context.Background(), "trim", []string{srcID}, map[string]any{"duration": 2.0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Change made "while the daemon was down".
	testsupport.WriteFile(t, srcPath, "re-exported clip contents with different length")

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if !tk.Registry().IsStale(exec.Outcome.ID) {
		t.Fatal("startup sweep missed the offline source change")
	}
}
