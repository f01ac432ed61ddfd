package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sprocket/internal/logging"
)

// Handler receives the path of a source file whose contents changed,
// after debouncing.
type Handler func(path string)

// Watcher monitors one directory for source file changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New constructs a watcher over the given directory and establishes the
// underlying watch before returning, so changes made after New are seen even
// when Run has not been scheduled yet. A non-positive debounce falls back to
// 500ms.
func New(dir string, debounce time.Duration, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("watch directory required")
	}
	if handler == nil {
		return nil, fmt.Errorf("watch handler required")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		logger:   logging.NewComponentLogger(logger, "watch"),
		fs:       fs,
		pending:  make(map[string]*time.Timer),
	}
	w.logger.Info("watching source directory", logging.String("dir", dir))
	return w, nil
}

// Run drains watch events until the context is cancelled. The watch itself
// is already live from New; events raised before Run starts are delivered
// once it does.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()
	defer w.drainTimers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if isTransientArtifact(event.Name) {
				continue
			}
			w.schedule(filepath.Clean(event.Name))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watcher error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a source change may go unnoticed until the next sweep"))
		}
	}
}

// schedule (re)arms the per-path debounce timer.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.handler(path)
	})
}

func (w *Watcher) drainTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// isTransientArtifact filters temp files that editors and atomic writers
// leave behind mid-save.
func isTransientArtifact(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	switch filepath.Ext(base) {
	case ".part", ".tmp", ".swp":
		return true
	}
	return strings.HasSuffix(base, "~")
}
