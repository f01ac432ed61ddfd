package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sprocket/internal/identity"
	"sprocket/internal/logging"
	"sprocket/internal/registry"
)

// Directories names the trees a rebuild scan walks.
type Directories struct {
	Source    string
	Generated string
	Metadata  string
}

// Orphan is a file the scan could not match to the naming convention or to
// verifiable provenance. Orphans are reported, never registered.
type Orphan struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes one rebuild scan.
type Report struct {
	SourcesRegistered   int      `json:"sources_registered"`
	GeneratedRegistered int      `json:"generated_registered"`
	MetadataRegistered  int      `json:"metadata_registered"`
	Orphans             []Orphan `json:"orphans,omitempty"`
}

// Recovery rebuilds and audits registry state from the filesystem.
type Recovery struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New constructs a Recovery over the given registry.
func New(reg *registry.Registry, logger *slog.Logger) *Recovery {
	return &Recovery{
		reg:    reg,
		logger: logging.NewComponentLogger(logger, "recovery"),
	}
}

// ScanAndRebuild walks the source, generated, and metadata directories and
// re-registers everything it can verify. Sources register by filename.
// Derived artifacts register only when the filename stem follows the
// <operation>_<digest> convention AND a provenance sidecar confirms it;
// artifacts whose inputs are themselves derived register once those inputs
// have been recovered, so registration loops until a fixpoint. Running the
// scan twice over an unchanged tree is a no-op the second time.
func (r *Recovery) ScanAndRebuild(ctx context.Context, dirs Directories) (Report, error) {
	var report Report

	if err := r.scanSources(ctx, dirs.Source, &report); err != nil {
		return report, err
	}
	if err := r.scanDerived(ctx, dirs.Generated, registry.KindGenerated, &report); err != nil {
		return report, err
	}
	if err := r.scanDerived(ctx, dirs.Metadata, registry.KindMetadata, &report); err != nil {
		return report, err
	}

	sort.Slice(report.Orphans, func(i, j int) bool { return report.Orphans[i].Path < report.Orphans[j].Path })

	r.logger.Info("rebuild scan complete",
		logging.Int("sources", report.SourcesRegistered),
		logging.Int("generated", report.GeneratedRegistered),
		logging.Int("metadata", report.MetadataRegistered),
		logging.Int("orphans", len(report.Orphans)))
	return report, nil
}

func (r *Recovery) scanSources(ctx context.Context, dir string, report *Report) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read source directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		id := identity.SourceID(entry.Name())
		_, known := r.reg.SourceByID(id)
		if _, err := r.reg.RegisterSource(path); err != nil {
			report.Orphans = append(report.Orphans, Orphan{Path: path, Reason: err.Error()})
			continue
		}
		if !known {
			report.SourcesRegistered++
		}
	}
	return nil
}

// candidate is a derived artifact awaiting registration; its inputs may be
// other candidates discovered in the same scan.
type candidate struct {
	path string
	prov Provenance
}

func (r *Recovery) scanDerived(ctx context.Context, dir string, kind registry.Kind, report *Report) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s directory: %w", kind, err)
	}

	var pending []candidate
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || IsSidecar(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		operation, _, ok := identity.ParseDerivedID(stem)
		if !ok {
			report.Orphans = append(report.Orphans, Orphan{Path: path, Reason: "filename does not follow the <operation>_<digest> convention"})
			continue
		}

		prov, err := ReadSidecar(path)
		if err != nil {
			report.Orphans = append(report.Orphans, Orphan{Path: path, Reason: fmt.Sprintf("provenance unusable: %v", err)})
			continue
		}
		if prov.ID != stem {
			report.Orphans = append(report.Orphans, Orphan{Path: path, Reason: fmt.Sprintf("provenance id %q does not match filename stem %q", prov.ID, stem)})
			continue
		}
		if prov.Operation != operation {
			report.Orphans = append(report.Orphans, Orphan{Path: path, Reason: fmt.Sprintf("provenance operation %q does not match filename %q", prov.Operation, operation)})
			continue
		}
		pending = append(pending, candidate{path: path, prov: prov})
	}

	// Derived-from-derived artifacts need their inputs registered first, so
	// retry until a pass makes no progress.
	for len(pending) > 0 {
		var unresolved []candidate
		progressed := false
		for _, c := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, known := r.reg.GeneratedByID(c.prov.ID)
			err := r.registerCandidate(kind, c)
			switch {
			case err == nil:
				progressed = true
				if !known {
					switch kind {
					case registry.KindMetadata:
						report.MetadataRegistered++
					default:
						report.GeneratedRegistered++
					}
				}
			case errors.Is(err, registry.ErrNotFound):
				// Inputs may register in a later pass.
				unresolved = append(unresolved, c)
			default:
				progressed = true
				report.Orphans = append(report.Orphans, Orphan{Path: c.path, Reason: err.Error()})
			}
		}
		if !progressed {
			for _, c := range unresolved {
				report.Orphans = append(report.Orphans, Orphan{Path: c.path, Reason: "inputs unknown to the registry"})
			}
			break
		}
		pending = unresolved
	}
	return nil
}

func (r *Recovery) registerCandidate(kind registry.Kind, c candidate) error {
	var err error
	switch kind {
	case registry.KindMetadata:
		_, err = r.reg.RegisterMetadata(c.prov.InputIDs, c.prov.Operation, c.prov.Parameters, c.path)
	default:
		_, err = r.reg.RegisterGenerated(c.prov.InputIDs, c.prov.Operation, c.prov.Parameters, c.path)
	}
	return err
}

// ValidateIntegrity checks every registry entry's backing path and returns,
// per category, the sorted IDs whose files are gone. The registry is not
// mutated: reporting only.
func (r *Recovery) ValidateIntegrity() map[registry.Kind][]string {
	missing := make(map[registry.Kind][]string)

	for _, source := range r.reg.Sources() {
		if !fileExists(source.Path) {
			missing[registry.KindSource] = append(missing[registry.KindSource], source.ID)
		}
	}
	for _, kind := range []registry.Kind{registry.KindGenerated, registry.KindMetadata} {
		for _, entry := range r.reg.Entries(kind) {
			if !fileExists(entry.Path) {
				missing[kind] = append(missing[kind], entry.ID)
			}
		}
	}

	for kind := range missing {
		sort.Strings(missing[kind])
	}
	return missing
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
