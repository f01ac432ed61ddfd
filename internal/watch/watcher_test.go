package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sprocket/internal/logging"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) waitFor(t *testing.T, want int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if paths := r.snapshot(); len(paths) >= want {
			return paths
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, got %v", want, r.snapshot())
	return nil
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", time.Second, func(string) {}, logging.NewNop()); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if _, err := New(t.TempDir(), time.Second, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, 50*time.Millisecond, rec.handle, logging.NewNop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watcher a moment to arm.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(dir, "clip.mp4")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("take"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	paths := rec.waitFor(t, 1)
	// Burst writes collapse into one notification.
	time.Sleep(150 * time.Millisecond)
	if got := rec.snapshot(); len(got) != len(paths) {
		t.Fatalf("burst produced extra notifications: %v", got)
	}
	if filepath.Base(paths[0]) != "clip.mp4" {
		t.Fatalf("unexpected path %q", paths[0])
	}

	cancel()
	<-done
}

func TestWatchLiveBeforeRunStarts(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, 20*time.Millisecond, rec.handle, logging.NewNop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	// The change lands between construction and the event loop starting.
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("take"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	paths := rec.waitFor(t, 1)
	if filepath.Base(paths[0]) != "clip.mp4" {
		t.Fatalf("unexpected path %q", paths[0])
	}

	cancel()
	<-done
}

func TestWatcherIgnoresTransientFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, 30*time.Millisecond, rec.handle, logging.NewNop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{".hidden.mp4", "render.mp4.part", "draft.tmp", "notes~"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "real.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write real file: %v", err)
	}

	paths := rec.waitFor(t, 1)
	time.Sleep(100 * time.Millisecond)
	paths = rec.snapshot()
	if len(paths) != 1 || filepath.Base(paths[0]) != "real.mp4" {
		t.Fatalf("expected only the real file, got %v", paths)
	}
}

func TestIsTransientArtifact(t *testing.T) {
	cases := map[string]bool{
		"/src/clip.mp4":      false,
		"/src/.clip.mp4.swx": true,
		"/src/clip.mp4.part": true,
		"/src/clip.tmp":      true,
		"/src/clip.mp4~":     true,
	}
	for path, want := range cases {
		if got := isTransientArtifact(path); got != want {
			t.Errorf("isTransientArtifact(%q) = %v, want %v", path, got, want)
		}
	}
}
