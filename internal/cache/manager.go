package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sprocket/internal/identity"
	"sprocket/internal/logging"
	"sprocket/internal/registry"
)

// Outcome is the answer to a cache lookup: a Hit carries the existing
// artifact, a Miss carries the ID the caller must register the result under.
type Outcome struct {
	Hit  bool   `json:"hit"`
	ID   string `json:"id"`
	Path string `json:"path,omitempty"`
}

// Divergence describes one registered source whose on-disk signature no
// longer matches the registry.
type Divergence struct {
	SourceID        string    `json:"source_id"`
	Path            string    `json:"path"`
	Missing         bool      `json:"missing"`
	RecordedSize    int64     `json:"recorded_size"`
	CurrentSize     int64     `json:"current_size"`
	RecordedModTime time.Time `json:"recorded_mod_time"`
	CurrentModTime  time.Time `json:"current_mod_time"`
	StaleIDs        []string  `json:"stale_ids"`
}

// Manager coordinates cache lookups and staleness propagation.
type Manager struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewManager constructs a cache manager over the given registry.
func NewManager(reg *registry.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		reg:    reg,
		logger: logging.NewComponentLogger(logger, "cache"),
	}
}

// GetOrPlan returns a Hit when the exact derivation is registered, not
// stale, and still backed by a live file; otherwise a Miss carrying the
// planned ID. A miss is a planning signal, never an error.
func (m *Manager) GetOrPlan(inputIDs []string, operation string, params map[string]any) (Outcome, error) {
	if id, ok := m.reg.CheckCache(inputIDs, operation, params); ok {
		path, err := m.reg.Resolve(id)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve cached artifact: %w", err)
		}
		m.logger.Debug("cache hit",
			logging.String(logging.FieldOperation, operation),
			logging.String(logging.FieldResourceID, id))
		return Outcome{Hit: true, ID: id, Path: path}, nil
	}

	planned, err := identity.DerivedID(inputIDs, operation, params)
	if err != nil {
		return Outcome{}, err
	}
	m.logger.Debug("cache miss",
		logging.String(logging.FieldOperation, operation),
		logging.String(logging.FieldResourceID, planned))
	return Outcome{Hit: false, ID: planned}, nil
}

// CheckSourceChanges stats every registered source and, for each divergence,
// refreshes the stored signature and marks all transitive dependents stale.
// Sources are never deleted: a missing file is reported, and its downstream
// chain is still marked suspect.
func (m *Manager) CheckSourceChanges(ctx context.Context) ([]Divergence, error) {
	var divergences []Divergence
	for _, source := range m.reg.Sources() {
		select {
		case <-ctx.Done():
			return divergences, ctx.Err()
		default:
		}

		divergence, changed := m.compareSource(source)
		if !changed {
			continue
		}
		m.propagate(&divergence)
		divergences = append(divergences, divergence)
	}
	return divergences, nil
}

// InvalidateSource runs the single-source variant of CheckSourceChanges for
// the source registered under path's filename. The second return reports
// whether the on-disk signature diverged from the registry; paths that do
// not map to a registered source yield registry.ErrNotFound.
func (m *Manager) InvalidateSource(path string) (Divergence, bool, error) {
	id := identity.SourceID(filepath.Base(path))
	source, ok := m.reg.SourceByID(id)
	if !ok {
		return Divergence{}, false, fmt.Errorf("%w: no source registered for %q", registry.ErrNotFound, path)
	}

	divergence, changed := m.compareSource(source)
	if !changed {
		return divergence, false, nil
	}
	m.propagate(&divergence)
	return divergence, true, nil
}

func (m *Manager) compareSource(source registry.Source) (Divergence, bool) {
	divergence := Divergence{
		SourceID:        source.ID,
		Path:            source.Path,
		RecordedSize:    source.Size,
		RecordedModTime: source.ModTime,
	}

	info, err := os.Stat(source.Path)
	if err != nil {
		divergence.Missing = true
		return divergence, true
	}

	divergence.CurrentSize = info.Size()
	divergence.CurrentModTime = info.ModTime().UTC()
	if divergence.CurrentSize == source.Size && divergence.CurrentModTime.Equal(source.ModTime) {
		return divergence, false
	}
	return divergence, true
}

func (m *Manager) propagate(divergence *Divergence) {
	if !divergence.Missing {
		// Refresh the signature so the same change is not reported twice;
		// the stale marks below carry the invalidation from here on.
		if err := m.reg.UpdateSourceSignature(divergence.SourceID, divergence.CurrentSize, divergence.CurrentModTime); err != nil {
			m.logger.Warn("refresh source signature",
				logging.String(logging.FieldResourceID, divergence.SourceID),
				logging.Error(err))
		}
	}

	dependents := m.reg.DependentsOf(divergence.SourceID)
	divergence.StaleIDs = dependents
	if len(dependents) == 0 {
		return
	}

	reason := fmt.Sprintf("source %s changed on disk", divergence.SourceID)
	if divergence.Missing {
		reason = fmt.Sprintf("source %s missing from disk", divergence.SourceID)
	}
	m.reg.MarkStale(dependents, reason)

	m.logger.Info("invalidated dependents of changed source",
		logging.String(logging.FieldResourceID, divergence.SourceID),
		logging.Int("stale_count", len(dependents)),
		logging.Bool("missing", divergence.Missing))
}
