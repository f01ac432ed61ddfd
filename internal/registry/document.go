package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sprocket/internal/fileutil"
	"sprocket/internal/logging"
)

// Top-level section names of the persisted document. Unknown sections found
// on load are carried through to the next save untouched, so newer documents
// survive a round trip through an older binary.
const (
	sectionSources    = "source_files"
	sectionGenerated  = "generated_files"
	sectionMetadata   = "metadata_files"
	sectionOperations = "operation_log"
	sectionEdges      = "dependency_edges"
	sectionStale      = "stale_marks"
)

var knownSections = map[string]struct{}{
	sectionSources:    {},
	sectionGenerated:  {},
	sectionMetadata:   {},
	sectionOperations: {},
	sectionEdges:      {},
	sectionStale:      {},
}

// reset discards all in-memory state, returning the registry to the empty
// document shape.
func (r *Registry) reset() {
	r.sources = make(map[string]Source)
	r.generated = make(map[string]Generated)
	r.metadata = make(map[string]Generated)
	r.operations = nil
	r.edges = make(map[string][]string)
	r.reverse = make(map[string][]string)
	r.stale = make(map[string]string)
	r.extra = make(map[string][]byte)
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // fresh start
		}
		return fmt.Errorf("%w: read document: %w", ErrCorruptState, err)
	}
	if len(data) == 0 {
		return nil
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("%w: parse document: %w", ErrCorruptState, err)
	}

	decode := func(name string, target any) error {
		raw, ok := sections[name]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("%w: parse section %s: %w", ErrCorruptState, name, err)
		}
		return nil
	}

	if err := decode(sectionSources, &r.sources); err != nil {
		return err
	}
	if err := decode(sectionGenerated, &r.generated); err != nil {
		return err
	}
	if err := decode(sectionMetadata, &r.metadata); err != nil {
		return err
	}
	if err := decode(sectionOperations, &r.operations); err != nil {
		return err
	}
	if err := decode(sectionEdges, &r.edges); err != nil {
		return err
	}
	if err := decode(sectionStale, &r.stale); err != nil {
		return err
	}

	for name, raw := range sections {
		if _, known := knownSections[name]; !known {
			r.extra[name] = append([]byte(nil), raw...)
		}
	}

	// The reverse index is derived, not persisted.
	for id, inputs := range r.edges {
		for _, inputID := range inputs {
			r.reverse[inputID] = append(r.reverse[inputID], id)
		}
	}

	r.logger.Debug("loaded registry document",
		logging.Int("sources", len(r.sources)),
		logging.Int("generated", len(r.generated)),
		logging.Int("metadata", len(r.metadata)),
		logging.String("path", r.path))
	return nil
}

// Save serializes the entire registry state to the backing document. The
// write is atomic (temp file plus rename), so a crash mid-save leaves the
// previous document intact.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sections := make(map[string]json.RawMessage, 6+len(r.extra))
	encode := func(name string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal section %s: %w", name, err)
		}
		sections[name] = raw
		return nil
	}

	if err := encode(sectionSources, r.sources); err != nil {
		return err
	}
	if err := encode(sectionGenerated, r.generated); err != nil {
		return err
	}
	if err := encode(sectionMetadata, r.metadata); err != nil {
		return err
	}
	if err := encode(sectionOperations, r.operations); err != nil {
		return err
	}
	if err := encode(sectionEdges, r.edges); err != nil {
		return err
	}
	if err := encode(sectionStale, r.stale); err != nil {
		return err
	}
	for name, raw := range r.extra {
		sections[name] = raw
	}

	data, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := fileutil.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}

	r.dirty = false
	r.logger.Debug("saved registry document",
		logging.Int("sources", len(r.sources)),
		logging.Int("generated", len(r.generated)),
		logging.String("path", r.path))
	return nil
}
