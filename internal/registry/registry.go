package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sprocket/internal/identity"
	"sprocket/internal/logging"
)

// Registry provides thread-safe access to the resource index. Construct with
// Open, mutate through the Register* methods, and persist with Save.
type Registry struct {
	path   string
	logger *slog.Logger

	mu         sync.RWMutex
	sources    map[string]Source
	generated  map[string]Generated
	metadata   map[string]Generated
	operations []OperationRecord
	edges      map[string][]string // generated/metadata ID -> ordered input IDs
	reverse    map[string][]string // input ID -> dependent IDs, derived in memory
	stale      map[string]string   // ID -> reason; persisted so invalidation survives restarts
	extra      map[string][]byte   // unknown top-level document sections, preserved on save

	loadWarning string
	dirty       bool
}

// Open loads the registry document at path, or starts empty when none
// exists. A malformed document never fails Open: the registry starts empty,
// logs loudly, and records the corruption for LoadWarning.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path required")
	}
	logger = logging.NewComponentLogger(logger, "registry")

	r := &Registry{
		path:      path,
		logger:    logger,
		sources:   make(map[string]Source),
		generated: make(map[string]Generated),
		metadata:  make(map[string]Generated),
		edges:     make(map[string][]string),
		reverse:   make(map[string][]string),
		stale:     make(map[string]string),
		extra:     make(map[string][]byte),
	}

	if err := r.load(); err != nil {
		// A document that failed partway through decoding must not leave
		// the registry half-populated; entries without their edges would
		// keep serving cache hits that invalidation can never reach.
		r.reset()
		r.loadWarning = err.Error()
		logging.WarnWithContext(logger, "failed to load registry document", "registry_load_failed",
			logging.Error(err),
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "run a rebuild scan to recover entries from disk"),
			logging.String(logging.FieldImpact, "registry starts empty; previous cache entries are forgotten"))
	}

	return r, nil
}

// Path returns the backing document location.
func (r *Registry) Path() string {
	return r.path
}

// LoadWarning returns the recorded corruption message from Open, or "" when
// the document loaded cleanly.
func (r *Registry) LoadWarning() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadWarning
}

// RegisterSource computes the source ID for path, records the file's current
// size and mtime, and inserts or refreshes the entry. Re-registering the same
// filename always yields the same ID. When the on-disk signature differs from
// the stored one, every transitive dependent is marked stale before the new
// signature is recorded; those artifacts were derived from content that no
// longer exists.
func (r *Registry) RegisterSource(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %q is a directory", abs)
	}

	id := identity.SourceID(filepath.Base(abs))

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sources[id]
	if !exists {
		entry = Source{ID: id, RegisteredAt: time.Now().UTC()}
	} else if entry.Size != info.Size() || !entry.ModTime.Equal(info.ModTime().UTC()) {
		dependents := r.dependentsLocked(id)
		reason := fmt.Sprintf("source %s changed on disk", id)
		for _, dependent := range dependents {
			r.stale[dependent] = reason
		}
		if len(dependents) > 0 {
			r.logger.Info("re-registered source diverged; dependents marked stale",
				logging.String(logging.FieldResourceID, id),
				logging.Int("stale_count", len(dependents)))
		}
	}
	entry.Path = abs
	entry.Size = info.Size()
	entry.ModTime = info.ModTime().UTC()
	r.sources[id] = entry
	r.dirty = true

	r.logger.Debug("registered source",
		logging.String(logging.FieldResourceID, id),
		logging.String("path", abs),
		logging.Int64("size", entry.Size))
	return id, nil
}

// RegisterGenerated records an artifact produced by operation over inputIDs
// with params, wiring dependency edges and appending an operation record in
// one atomic step. Re-registering the identical artifact is a no-op returning
// the existing ID; the same ID with a different path is ErrConflict.
func (r *Registry) RegisterGenerated(inputIDs []string, operation string, params map[string]any, path string) (string, error) {
	return r.registerDerived(KindGenerated, inputIDs, operation, params, path)
}

// RegisterMetadata records an analysis or plan document. Metadata entries
// follow the same identity and dependency rules as generated files.
func (r *Registry) RegisterMetadata(inputIDs []string, operation string, params map[string]any, path string) (string, error) {
	return r.registerDerived(KindMetadata, inputIDs, operation, params, path)
}

func (r *Registry) registerDerived(kind Kind, inputIDs []string, operation string, params map[string]any, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}

	id, err := identity.DerivedID(inputIDs, operation, params)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Inputs must exist at registration time; this is what keeps the
	// dependency graph acyclic by construction.
	for _, inputID := range inputIDs {
		if !r.knownLocked(inputID) {
			return "", fmt.Errorf("%w: input %q for operation %q", ErrNotFound, inputID, operation)
		}
	}

	if existing, ok := r.lookupDerivedLocked(id); ok {
		if existing.Path == abs {
			// Re-registering after a recompute: the artifact reflects its
			// inputs' current state again, so any stale mark is lifted.
			if _, stale := r.stale[id]; stale {
				delete(r.stale, id)
				r.dirty = true
			}
			return id, nil
		}
		return "", fmt.Errorf("%w: id %q maps to %q but %q was offered", ErrConflict, id, existing.Path, abs)
	}

	now := time.Now().UTC()
	entry := Generated{
		ID:         id,
		Path:       abs,
		Operation:  operation,
		InputIDs:   append([]string(nil), inputIDs...),
		Parameters: cloneParams(params),
		CreatedAt:  now,
	}

	switch kind {
	case KindMetadata:
		r.metadata[id] = entry
	default:
		r.generated[id] = entry
	}
	r.operations = append(r.operations, OperationRecord{
		OutputID:   id,
		Operation:  operation,
		InputIDs:   entry.InputIDs,
		Parameters: entry.Parameters,
		Timestamp:  now,
	})
	if len(inputIDs) > 0 {
		r.edges[id] = entry.InputIDs
		for _, inputID := range inputIDs {
			r.reverse[inputID] = append(r.reverse[inputID], id)
		}
	}
	// A freshly produced artifact reflects its inputs' current state.
	delete(r.stale, id)
	r.dirty = true

	r.logger.Debug("registered artifact",
		logging.String(logging.FieldResourceID, id),
		logging.String(logging.FieldOperation, operation),
		logging.String("kind", string(kind)),
		logging.Int("inputs", len(inputIDs)))
	return id, nil
}

// Resolve returns the backing path for id across all three file maps.
func (r *Registry) Resolve(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.sources[id]; ok {
		return entry.Path, nil
	}
	if entry, ok := r.lookupDerivedLocked(id); ok {
		return entry.Path, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, id)
}

// CheckCache reports whether the exact derivation (inputIDs, operation,
// params) already has a usable entry: registered, not stale, and still
// backed by a file on disk. A miss is a planning signal, never an error.
func (r *Registry) CheckCache(inputIDs []string, operation string, params map[string]any) (string, bool) {
	id, err := identity.DerivedID(inputIDs, operation, params)
	if err != nil {
		return "", false
	}

	r.mu.RLock()
	entry, ok := r.lookupDerivedLocked(id)
	_, stale := r.stale[id]
	r.mu.RUnlock()

	if !ok || stale {
		return "", false
	}
	if info, err := os.Stat(entry.Path); err != nil || info.IsDir() {
		return "", false
	}
	return id, true
}

// DependentsOf returns every artifact that directly or transitively used id
// as an input, sorted for stable output.
func (r *Registry) DependentsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependentsLocked(id)
}

func (r *Registry) dependentsLocked(id string) []string {
	seen := make(map[string]struct{})
	queue := append([]string(nil), r.reverse[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		queue = append(queue, r.reverse[next]...)
	}

	out := make([]string, 0, len(seen))
	for dependent := range seen {
		out = append(out, dependent)
	}
	sort.Strings(out)
	return out
}

// MarkStale flags the given IDs as untrustworthy until recomputed. Marks
// persist in the document so invalidation survives restarts. Entries are
// never deleted here; the recompute policy belongs to the caller.
func (r *Registry) MarkStale(ids []string, reason string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if r.knownLocked(id) {
			r.stale[id] = reason
			r.dirty = true
		}
	}
}

// IsStale reports whether id carries a stale mark.
func (r *Registry) IsStale(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stale[id]
	return ok
}

// StaleIDs returns all stale-marked IDs with their reasons.
func (r *Registry) StaleIDs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.stale))
	for id, reason := range r.stale {
		out[id] = reason
	}
	return out
}

// UpdateSourceSignature refreshes the recorded size and mtime of a source
// entry after a divergence has been observed and propagated.
func (r *Registry) UpdateSourceSignature(id string, size int64, modTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	entry.Size = size
	entry.ModTime = modTime.UTC()
	r.sources[id] = entry
	r.dirty = true
	return nil
}

// SourceByID returns the source entry for id.
func (r *Registry) SourceByID(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sources[id]
	return entry, ok
}

// GeneratedByID returns the generated or metadata entry for id.
func (r *Registry) GeneratedByID(id string) (Generated, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupDerivedLocked(id)
}

// Sources returns all source entries sorted by ID.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, entry := range r.sources {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entries returns the file map of the given kind sorted by ID. Sources are
// not included; use Sources for those.
func (r *Registry) Entries(kind Kind) []Generated {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m map[string]Generated
	switch kind {
	case KindMetadata:
		m = r.metadata
	default:
		m = r.generated
	}
	out := make([]Generated, 0, len(m))
	for _, entry := range m {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OperationLog returns the append-only operation records, oldest first.
func (r *Registry) OperationLog() []OperationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]OperationRecord(nil), r.operations...)
}

// Stats summarizes registry contents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	edges := 0
	for _, inputs := range r.edges {
		edges += len(inputs)
	}
	return Stats{
		Sources:    len(r.sources),
		Generated:  len(r.generated),
		Metadata:   len(r.metadata),
		Operations: len(r.operations),
		Edges:      edges,
		Stale:      len(r.stale),
	}
}

// Dirty reports whether unsaved mutations exist.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

func (r *Registry) knownLocked(id string) bool {
	if _, ok := r.sources[id]; ok {
		return true
	}
	_, ok := r.lookupDerivedLocked(id)
	return ok
}

func (r *Registry) lookupDerivedLocked(id string) (Generated, bool) {
	if entry, ok := r.generated[id]; ok {
		return entry, true
	}
	entry, ok := r.metadata[id]
	return entry, ok
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
