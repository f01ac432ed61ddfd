package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sprocket/internal/config"
	"sprocket/internal/logging"
	"sprocket/internal/registry"
	"sprocket/internal/toolkit"
	"sprocket/internal/watch"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	baseLogger *slog.Logger
	tk         *toolkit.Toolkit
	handler    http.Handler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	listener net.Listener
	server   *http.Server
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	LockFilePath string
	RegistryPath string
}

// New constructs a daemon with initialized dependencies. The handler is the
// MCP HTTP surface to expose; it is mounted at /mcp.
func New(cfg *config.Config, tk *toolkit.Toolkit, handler http.Handler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || tk == nil || handler == nil || logger == nil {
		return nil, errors.New("daemon requires config, toolkit, handler, and logger")
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		baseLogger: logger,
		tk:         tk,
		handler:    handler,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, sweeps sources for offline changes, and
// launches the watcher and the MCP HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sprocket daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.sweepSources(runCtx); err != nil {
		d.releaseOnStartFailure()
		return fmt.Errorf("startup source sweep: %w", err)
	}

	if d.cfg.Watcher.Enabled {
		if err := d.startWatcher(runCtx); err != nil {
			d.releaseOnStartFailure()
			return fmt.Errorf("start watcher: %w", err)
		}
	}

	if err := d.startServer(runCtx); err != nil {
		d.releaseOnStartFailure()
		d.wg.Wait()
		return fmt.Errorf("start server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("sprocket daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.Addr()))
	return nil
}

// Stop shuts down background services, persists the registry, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("http shutdown", logging.Error(err))
		}
		cancelShutdown()
		d.server = nil
		d.listener = nil
	}
	d.wg.Wait()

	if reg := d.tk.Registry(); reg.Dirty() {
		if err := reg.Save(); err != nil {
			logging.WarnWithContext(d.logger, "final registry save failed", "registry_save",
				logging.Error(err),
				logging.String(logging.FieldImpact, "registrations since the last save are lost"))
		}
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sprocket daemon stopped")
}

// Close releases all resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Addr reports the bound address of the HTTP listener, empty when the
// daemon is not serving.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Status reports runtime information for the CLI.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Address:      d.Addr(),
		LockFilePath: d.lockPath,
		RegistryPath: d.tk.Registry().Path(),
	}
}

// sweepSources checks every registered source for changes made while the
// daemon was offline.
func (d *Daemon) sweepSources(ctx context.Context) error {
	divergences, err := d.tk.SweepSources(ctx)
	if err != nil {
		return err
	}
	for _, div := range divergences {
		logging.WarnWithContext(d.logger, "source changed while offline", "source_divergence",
			logging.String(logging.FieldResourceID, div.SourceID),
			logging.Bool("missing", div.Missing),
			logging.Int("stale_dependents", len(div.StaleIDs)))
	}
	return nil
}

func (d *Daemon) startWatcher(ctx context.Context) error {
	debounce := time.Duration(d.cfg.Watcher.DebounceMS) * time.Millisecond
	watcher, err := watch.New(d.cfg.Paths.SourceDir, debounce, d.handleSourceChange, d.baseLogger)
	if err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("watcher stopped", logging.Error(err))
		}
	}()
	return nil
}

// handleSourceChange receives debounced watcher notifications. Paths that do
// not correspond to a registered source are ignored; registration is an
// explicit operator action.
func (d *Daemon) handleSourceChange(path string) {
	divergence, changed, err := d.tk.InvalidateSinceChange(path)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			d.logger.Debug("ignoring change to unregistered file", logging.String("path", path))
			return
		}
		d.logger.Warn("source invalidation failed",
			logging.String("path", path),
			logging.Error(err))
		return
	}
	if !changed {
		return
	}
	d.logger.Info("source changed",
		logging.String(logging.FieldResourceID, divergence.SourceID),
		logging.Int("stale_dependents", len(divergence.StaleIDs)))
}

func (d *Daemon) startServer(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Bind, err)
	}
	d.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/mcp", authMiddleware(d.cfg.Server.Token, d.handler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	server := d.server
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	d.logger.Info("mcp server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (d *Daemon) releaseOnStartFailure() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}
