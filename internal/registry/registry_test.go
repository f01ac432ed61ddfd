package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sprocket/internal/logging"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func openRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(filepath.Join(t.TempDir(), "registry.json"), logging.NewNop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return reg
}

func TestRegisterSourceDeterministic(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "clip.mp4", "video bytes")

	id, err := reg.RegisterSource(path)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	if id != "src_clip_mp4" {
		t.Fatalf("source id = %q, want src_clip_mp4", id)
	}

	again, err := reg.RegisterSource(path)
	if err != nil {
		t.Fatalf("re-register source: %v", err)
	}
	if again != id {
		t.Fatalf("re-registration changed the ID: %q vs %q", again, id)
	}
	if got := reg.Stats().Sources; got != 1 {
		t.Fatalf("source count = %d, want 1", got)
	}

	resolved, err := reg.Resolve(id)
	if err != nil || resolved != path {
		t.Fatalf("resolve = %q, %v", resolved, err)
	}
}

func TestRegisterSourceChangeInvalidatesDependents(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	srcPath := writeFile(t, dir, "clip.mp4", "original contents")
	srcID, err := reg.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}

	params := map[string]any{"start": 0.0, "duration": 5.0}
	genID, err := reg.RegisterGenerated([]string{srcID}, "trim", params, writeFile(t, dir, "out.mp4", "trimmed"))
	if err != nil {
		t.Fatalf("register generated: %v", err)
	}
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); !ok {
		t.Fatal("expected hit before the source changed")
	}

	// The file is replaced on disk before the operator registers it again.
	writeFile(t, dir, "clip.mp4", "re-exported with a different length")
	if _, err := reg.RegisterSource(srcPath); err != nil {
		t.Fatalf("re-register changed source: %v", err)
	}

	if !reg.IsStale(genID) {
		t.Fatal("dependent not marked stale after source changed")
	}
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); ok {
		t.Fatal("cache hit served for artifact derived from replaced source")
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	entry, ok := reg.SourceByID(srcID)
	if !ok || entry.Size != info.Size() {
		t.Fatalf("signature not refreshed: %+v", entry)
	}
}

func TestRegisterGeneratedIdempotentAndConflicting(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	srcPath := writeFile(t, dir, "clip.mp4", "video")
	srcID, err := reg.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}

	params := map[string]any{"start": 0.0, "duration": 5.0}
	outPath := writeFile(t, dir, "out.mp4", "trimmed")

	id, err := reg.RegisterGenerated([]string{srcID}, "trim", params, outPath)
	if err != nil {
		t.Fatalf("register generated: %v", err)
	}

	// Identical registration is a no-op returning the existing ID.
	same, err := reg.RegisterGenerated([]string{srcID}, "trim", params, outPath)
	if err != nil {
		t.Fatalf("idempotent re-register: %v", err)
	}
	if same != id {
		t.Fatalf("idempotent registration returned %q, want %q", same, id)
	}
	if got := reg.Stats().Generated; got != 1 {
		t.Fatalf("generated count = %d, want 1", got)
	}
	if got := reg.Stats().Operations; got != 1 {
		t.Fatalf("operation log grew on no-op: %d records", got)
	}

	// Same derivation pointing at a different path must halt, not overwrite.
	otherPath := writeFile(t, dir, "other.mp4", "different")
	if _, err := reg.RegisterGenerated([]string{srcID}, "trim", params, otherPath); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterGeneratedRequiresKnownInputs(t *testing.T) {
	reg := openRegistry(t)
	out := writeFile(t, t.TempDir(), "out.mp4", "x")
	_, err := reg.RegisterGenerated([]string{"src_ghost_mp4"}, "trim", nil, out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown input, got %v", err)
	}
}

func TestCheckCacheLifecycle(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	srcID, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "video"))
	if err != nil {
		t.Fatalf("register source: %v", err)
	}

	params := map[string]any{"start": 0.0, "duration": 5.0}
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); ok {
		t.Fatal("cache hit before any registration")
	}

	outPath := writeFile(t, dir, "trimmed.mp4", "trimmed")
	id, err := reg.RegisterGenerated([]string{srcID}, "trim", params, outPath)
	if err != nil {
		t.Fatalf("register generated: %v", err)
	}

	// Param key order must not matter.
	hit, ok := reg.CheckCache([]string{srcID}, "trim", map[string]any{"duration": 5.0, "start": 0.0})
	if !ok || hit != id {
		t.Fatalf("cache check = %q, %v; want %q, true", hit, ok, id)
	}

	// Deleting the backing file turns the entry into a miss.
	if err := os.Remove(outPath); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); ok {
		t.Fatal("cache hit for missing backing file")
	}

	// A stale mark also forces a miss even when the file exists.
	writeFile(t, dir, "trimmed.mp4", "trimmed")
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); !ok {
		t.Fatal("expected hit after restoring the file")
	}
	reg.MarkStale([]string{id}, "source changed")
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); ok {
		t.Fatal("cache hit for stale entry")
	}

	// Re-registering the identical artifact after a recompute lifts the mark.
	if _, err := reg.RegisterGenerated([]string{srcID}, "trim", params, outPath); err != nil {
		t.Fatalf("re-register after recompute: %v", err)
	}
	if reg.IsStale(id) {
		t.Fatal("stale mark survived recompute registration")
	}
	if _, ok := reg.CheckCache([]string{srcID}, "trim", params); !ok {
		t.Fatal("expected hit after recompute cleared staleness")
	}
}

func TestDependentsOfTransitive(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	a, err := reg.RegisterSource(writeFile(t, dir, "a.mp4", "a"))
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	b, err := reg.RegisterGenerated([]string{a}, "trim", map[string]any{"start": 1.0}, writeFile(t, dir, "b.mp4", "b"))
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	c, err := reg.RegisterGenerated([]string{b}, "resize", map[string]any{"width": 640.0}, writeFile(t, dir, "c.mp4", "c"))
	if err != nil {
		t.Fatalf("register c: %v", err)
	}

	got := reg.DependentsOf(a)
	want := []string{b, c}
	if len(got) != 2 {
		t.Fatalf("dependents of %q = %v, want %v", a, got, want)
	}
	for _, id := range want {
		found := false
		for _, dep := range got {
			if dep == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("dependents of %q = %v, missing %q", a, got, id)
		}
	}

	if deps := reg.DependentsOf(c); len(deps) != 0 {
		t.Fatalf("leaf artifact has dependents: %v", deps)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "registry.json")

	reg, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	srcID, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "video"))
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	genID, err := reg.RegisterGenerated([]string{srcID}, "trim", map[string]any{"start": 2.0}, writeFile(t, dir, "out.mp4", "x"))
	if err != nil {
		t.Fatalf("register generated: %v", err)
	}
	reg.MarkStale([]string{genID}, "test reason")
	if err := reg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if reg.Dirty() {
		t.Fatal("registry still dirty after save")
	}

	reloaded, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.LoadWarning() != "" {
		t.Fatalf("unexpected load warning: %q", reloaded.LoadWarning())
	}
	if !reflect.DeepEqual(reloaded.Stats(), reg.Stats()) {
		t.Fatalf("stats diverge after round trip: %+v vs %+v", reloaded.Stats(), reg.Stats())
	}
	if deps := reloaded.DependentsOf(srcID); len(deps) != 1 || deps[0] != genID {
		t.Fatalf("dependency edges lost in round trip: %v", deps)
	}
	if !reloaded.IsStale(genID) {
		t.Fatal("stale mark lost in round trip")
	}
	entry, ok := reloaded.GeneratedByID(genID)
	if !ok || entry.Operation != "trim" {
		t.Fatalf("generated entry lost: %+v, %v", entry, ok)
	}
}

func TestUnknownSectionsSurviveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "registry.json")
	seed := `{"source_files":{},"future_section":{"keep":"me"}}`
	if err := os.WriteFile(docPath, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	reg, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reg.LoadWarning() != "" {
		t.Fatalf("unexpected warning: %q", reg.LoadWarning())
	}
	if _, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "x")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		t.Fatalf("parse document: %v", err)
	}
	raw, ok := sections["future_section"]
	if !ok {
		t.Fatal("unknown section dropped on save")
	}
	var keep map[string]string
	if err := json.Unmarshal(raw, &keep); err != nil || keep["keep"] != "me" {
		t.Fatalf("unknown section mangled: %s", raw)
	}
}

func TestCorruptDocumentDegradesLoudly(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(docPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt document: %v", err)
	}

	reg, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open should not fail on corruption: %v", err)
	}
	if reg.LoadWarning() == "" {
		t.Fatal("corruption must be recorded, not silent")
	}
	stats := reg.Stats()
	if stats.Sources != 0 || stats.Generated != 0 {
		t.Fatalf("corrupt load should start empty, got %+v", stats)
	}
	// The registry remains usable after the fallback.
	if _, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "x")); err != nil {
		t.Fatalf("register after corrupt load: %v", err)
	}
}

func TestCorruptSectionFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "registry.json")

	reg, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	srcID, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "video"))
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	if _, err := reg.RegisterGenerated([]string{srcID}, "trim", map[string]any{"start": 2.0}, writeFile(t, dir, "out.mp4", "x")); err != nil {
		t.Fatalf("register generated: %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Corrupt one section while the others stay parseable. Loading only the
	// healthy sections would leave entries whose edges are gone, beyond the
	// reach of invalidation.
	data, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		t.Fatalf("parse document: %v", err)
	}
	sections["dependency_edges"] = json.RawMessage(`"CORRUPT"`)
	mangled, err := json.Marshal(sections)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	if err := os.WriteFile(docPath, mangled, 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}

	reloaded, err := Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen should not fail on corruption: %v", err)
	}
	if reloaded.LoadWarning() == "" {
		t.Fatal("corruption must be recorded, not silent")
	}
	stats := reloaded.Stats()
	if stats.Sources != 0 || stats.Generated != 0 || stats.Operations != 0 {
		t.Fatalf("partial load survived corruption: %+v", stats)
	}
	if deps := reloaded.DependentsOf(srcID); len(deps) != 0 {
		t.Fatalf("dependents survived corruption: %v", deps)
	}
}

func TestEmptyInputDerivationRegisters(t *testing.T) {
	reg := openRegistry(t)
	out := writeFile(t, t.TempDir(), "synth.mp4", "frames")
	id, err := reg.RegisterGenerated(nil, "generate", map[string]any{"pattern": "testsrc", "duration": 3.0}, out)
	if err != nil {
		t.Fatalf("register zero-input artifact: %v", err)
	}
	hit, ok := reg.CheckCache(nil, "generate", map[string]any{"duration": 3.0, "pattern": "testsrc"})
	if !ok || hit != id {
		t.Fatalf("cache check = %q, %v", hit, ok)
	}
}

func TestRegisterMetadataKeptSeparately(t *testing.T) {
	reg := openRegistry(t)
	dir := t.TempDir()
	srcID, err := reg.RegisterSource(writeFile(t, dir, "clip.mp4", "x"))
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	id, err := reg.RegisterMetadata([]string{srcID}, "analyze", nil, writeFile(t, dir, "analysis.json", "{}"))
	if err != nil {
		t.Fatalf("register metadata: %v", err)
	}
	stats := reg.Stats()
	if stats.Metadata != 1 || stats.Generated != 0 {
		t.Fatalf("metadata not kept separately: %+v", stats)
	}
	if _, err := reg.Resolve(id); err != nil {
		t.Fatalf("resolve metadata: %v", err)
	}
}
