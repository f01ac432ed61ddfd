package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"sprocket/internal/fileutil"
	"sprocket/internal/identity"
)

// sidecarSuffix is appended to an artifact path to locate its provenance.
const sidecarSuffix = ".prov.json"

// Provenance records how an artifact was produced, enough to recompute its
// identifier from scratch during a rebuild scan.
type Provenance struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	InputIDs   []string       `json:"input_ids"`
	Parameters map[string]any `json:"parameters"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SidecarPath returns the provenance location for an artifact path.
func SidecarPath(artifactPath string) string {
	return artifactPath + sidecarSuffix
}

// IsSidecar reports whether path names a provenance document.
func IsSidecar(path string) bool {
	return len(path) > len(sidecarSuffix) && path[len(path)-len(sidecarSuffix):] == sidecarSuffix
}

// WriteSidecar persists provenance next to the artifact it describes.
func WriteSidecar(artifactPath string, prov Provenance) error {
	data, err := json.MarshalIndent(prov, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	if err := fileutil.WriteFileAtomic(SidecarPath(artifactPath), data, 0o644); err != nil {
		return fmt.Errorf("write provenance: %w", err)
	}
	return nil
}

// ReadSidecar loads and verifies an artifact's provenance. The recorded ID
// must match what the derivation inputs recompute to; a mismatch means the
// sidecar does not describe this artifact and the file is unrecoverable.
func ReadSidecar(artifactPath string) (Provenance, error) {
	data, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return Provenance{}, err
	}
	var prov Provenance
	if err := json.Unmarshal(data, &prov); err != nil {
		return Provenance{}, fmt.Errorf("parse provenance: %w", err)
	}

	recomputed, err := identity.DerivedID(prov.InputIDs, prov.Operation, prov.Parameters)
	if err != nil {
		return Provenance{}, fmt.Errorf("recompute id: %w", err)
	}
	if recomputed != prov.ID {
		return Provenance{}, fmt.Errorf("provenance id %q does not match recomputed %q", prov.ID, recomputed)
	}
	return prov, nil
}
