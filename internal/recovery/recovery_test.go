package recovery

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"sprocket/internal/identity"
	"sprocket/internal/logging"
	"sprocket/internal/registry"
)

type fixture struct {
	reg  *registry.Registry
	rec  *Recovery
	dirs Directories
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	dirs := Directories{
		Source:    filepath.Join(base, "sources"),
		Generated: filepath.Join(base, "generated"),
		Metadata:  filepath.Join(base, "metadata"),
	}
	for _, dir := range []string{dirs.Source, dirs.Generated, dirs.Metadata} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	reg, err := registry.Open(filepath.Join(base, "registry.json"), logging.NewNop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return &fixture{reg: reg, rec: New(reg, logging.NewNop()), dirs: dirs}
}

func (f *fixture) writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dirs.Source, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source %s: %v", name, err)
	}
	return path
}

// writeArtifact creates a derived file named by its deterministic ID plus a
// matching provenance sidecar, mimicking what the toolkit writes at commit.
func (f *fixture) writeArtifact(t *testing.T, dir string, inputIDs []string, operation string, params map[string]any, ext string) (string, string) {
	t.Helper()
	id, err := identity.DerivedID(inputIDs, operation, params)
	if err != nil {
		t.Fatalf("derive id: %v", err)
	}
	path := filepath.Join(dir, id+ext)
	if err := os.WriteFile(path, []byte("artifact "+id), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	prov := Provenance{ID: id, Operation: operation, InputIDs: inputIDs, Parameters: params, CreatedAt: time.Now().UTC()}
	if err := WriteSidecar(path, prov); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	return id, path
}

func TestScanAndRebuildFromScratch(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "clip.mp4", "video")

	srcID := identity.SourceID("clip.mp4")
	trimParams := map[string]any{"start": 0.0, "duration": 5.0}
	trimID, _ := f.writeArtifact(t, f.dirs.Generated, []string{srcID}, "trim", trimParams, ".mp4")

	// Second-level derivation: input is itself a generated artifact.
	resizeParams := map[string]any{"width": 640.0, "height": 360.0}
	resizeID, _ := f.writeArtifact(t, f.dirs.Generated, []string{trimID}, "resize", resizeParams, ".mp4")

	metaID, _ := f.writeArtifact(t, f.dirs.Metadata, []string{srcID}, "analyze", nil, ".json")

	report, err := f.rec.ScanAndRebuild(context.Background(), f.dirs)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if report.SourcesRegistered != 1 || report.GeneratedRegistered != 2 || report.MetadataRegistered != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Orphans) != 0 {
		t.Fatalf("unexpected orphans: %+v", report.Orphans)
	}

	for _, id := range []string{srcID, trimID, resizeID, metaID} {
		if _, err := f.reg.Resolve(id); err != nil {
			t.Fatalf("recovered registry missing %q: %v", id, err)
		}
	}

	// Dependency edges are reconstructed from provenance.
	deps := f.reg.DependentsOf(srcID)
	if len(deps) != 3 {
		t.Fatalf("dependents of source after rebuild = %v", deps)
	}

	// The rebuilt cache serves hits for the recovered derivations.
	if _, ok := f.reg.CheckCache([]string{srcID}, "trim", trimParams); !ok {
		t.Fatal("rebuilt registry missed a recoverable derivation")
	}
}

func TestScanAndRebuildIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "clip.mp4", "video")
	srcID := identity.SourceID("clip.mp4")
	f.writeArtifact(t, f.dirs.Generated, []string{srcID}, "trim", map[string]any{"start": 1.0}, ".mp4")

	first, err := f.rec.ScanAndRebuild(context.Background(), f.dirs)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	statsAfterFirst := f.reg.Stats()

	second, err := f.rec.ScanAndRebuild(context.Background(), f.dirs)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.SourcesRegistered != 0 || second.GeneratedRegistered != 0 || len(second.Orphans) != 0 {
		t.Fatalf("second scan was not a no-op: %+v (first: %+v)", second, first)
	}
	if !reflect.DeepEqual(f.reg.Stats(), statsAfterFirst) {
		t.Fatalf("registry changed on second scan: %+v vs %+v", f.reg.Stats(), statsAfterFirst)
	}
}

func TestScanReportsOrphans(t *testing.T) {
	f := newFixture(t)

	// No naming convention match.
	stray := filepath.Join(f.dirs.Generated, "random-notes.txt")
	if err := os.WriteFile(stray, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	// Convention matches but no sidecar.
	bare := filepath.Join(f.dirs.Generated, "trim_0123456789ab.mp4")
	if err := os.WriteFile(bare, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("write bare artifact: %v", err)
	}

	// Sidecar present but its recorded ID does not recompute.
	f.writeSource(t, "clip.mp4", "video")
	srcID := identity.SourceID("clip.mp4")
	_, forgedPath := f.writeArtifact(t, f.dirs.Generated, []string{srcID}, "resize", map[string]any{"width": 640.0}, ".mp4")
	forged := Provenance{ID: "resize_000000000000", Operation: "resize", InputIDs: []string{srcID}, Parameters: map[string]any{"width": 640.0}}
	if err := WriteSidecar(forgedPath, forged); err != nil {
		t.Fatalf("forge sidecar: %v", err)
	}

	report, err := f.rec.ScanAndRebuild(context.Background(), f.dirs)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(report.Orphans) != 3 {
		t.Fatalf("orphans = %+v, want 3", report.Orphans)
	}
	if report.GeneratedRegistered != 0 {
		t.Fatalf("orphaned files were registered: %+v", report)
	}
}

func TestScanOrphansArtifactWithUnknownInputs(t *testing.T) {
	f := newFixture(t)
	// Artifact referencing a source that was never scanned or registered.
	_, path := f.writeArtifact(t, f.dirs.Generated, []string{"src_ghost_mp4"}, "trim", map[string]any{"start": 0.0}, ".mp4")

	report, err := f.rec.ScanAndRebuild(context.Background(), f.dirs)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].Path != path {
		t.Fatalf("orphans = %+v", report.Orphans)
	}
}

func TestValidateIntegrity(t *testing.T) {
	f := newFixture(t)
	srcPath := f.writeSource(t, "clip.mp4", "video")
	srcID, err := f.reg.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	genID, genPath := f.writeArtifact(t, f.dirs.Generated, []string{srcID}, "trim", map[string]any{"start": 0.0}, ".mp4")
	if _, err := f.reg.RegisterGenerated([]string{srcID}, "trim", map[string]any{"start": 0.0}, genPath); err != nil {
		t.Fatalf("register generated: %v", err)
	}

	if missing := f.rec.ValidateIntegrity(); len(missing) != 0 {
		t.Fatalf("intact tree reported violations: %+v", missing)
	}

	if err := os.Remove(genPath); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	missing := f.rec.ValidateIntegrity()
	if got := missing[registry.KindGenerated]; len(got) != 1 || got[0] != genID {
		t.Fatalf("generated violations = %v, want [%s]", got, genID)
	}
	if len(missing[registry.KindSource]) != 0 {
		t.Fatalf("source falsely reported missing: %v", missing)
	}

	// Reporting only: the entry is still in the registry afterwards.
	if _, ok := f.reg.GeneratedByID(genID); !ok {
		t.Fatal("integrity validation mutated the registry")
	}
}

func TestRebuildAfterRegistryLoss(t *testing.T) {
	base := t.TempDir()
	docPath := filepath.Join(base, "registry.json")
	dirs := Directories{
		Source:    filepath.Join(base, "sources"),
		Generated: filepath.Join(base, "generated"),
		Metadata:  filepath.Join(base, "metadata"),
	}
	for _, dir := range []string{dirs.Source, dirs.Generated, dirs.Metadata} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	// First life: register and persist.
	reg, err := registry.Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	srcPath := filepath.Join(dirs.Source, "clip.mp4")
	if err := os.WriteFile(srcPath, []byte("video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	srcID, err := reg.RegisterSource(srcPath)
	if err != nil {
		t.Fatalf("register source: %v", err)
	}
	params := map[string]any{"start": 0.0}
	plannedID, err := identity.DerivedID([]string{srcID}, "trim", params)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	genPath := filepath.Join(dirs.Generated, plannedID+".mp4")
	if err := os.WriteFile(genPath, []byte("trimmed"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := WriteSidecar(genPath, Provenance{ID: plannedID, Operation: "trim", InputIDs: []string{srcID}, Parameters: params}); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if _, err := reg.RegisterGenerated([]string{srcID}, "trim", params, genPath); err != nil {
		t.Fatalf("register generated: %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Disaster: the document is lost.
	if err := os.Remove(docPath); err != nil {
		t.Fatalf("remove document: %v", err)
	}

	// Second life: empty registry, rebuild from disk.
	reborn, err := registry.Open(docPath, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	report, err := New(reborn, logging.NewNop()).ScanAndRebuild(context.Background(), dirs)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if report.SourcesRegistered != 1 || report.GeneratedRegistered != 1 {
		t.Fatalf("rebuild report = %+v", report)
	}
	if id, ok := reborn.CheckCache([]string{srcID}, "trim", params); !ok || id != plannedID {
		t.Fatalf("rebuilt cache check = %q, %v; want %q", id, ok, plannedID)
	}
}
