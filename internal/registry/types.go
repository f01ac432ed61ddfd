package registry

import "time"

// Kind distinguishes the three file maps.
type Kind string

const (
	KindSource    Kind = "source"
	KindGenerated Kind = "generated"
	KindMetadata  Kind = "metadata"
)

// Source represents an original input asset. Its identity is a pure function
// of the normalized filename; size and mtime record the on-disk signature
// used for staleness detection.
type Source struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mod_time"`
	RegisteredAt time.Time `json:"created_at"`
}

// Generated represents an artifact produced by one operation applied to zero
// or more inputs. Entries are immutable after creation: a logically changed
// artifact gets a new ID, never an in-place edit. Metadata documents share
// this shape.
type Generated struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Operation  string         `json:"operation"`
	InputIDs   []string       `json:"input_ids"`
	Parameters map[string]any `json:"parameters"`
	CreatedAt  time.Time      `json:"created_at"`
}

// OperationRecord is one append-only log entry, kept for audit and
// dependency reconstruction. Records are never mutated.
type OperationRecord struct {
	OutputID   string         `json:"output_id"`
	Operation  string         `json:"operation_name"`
	InputIDs   []string       `json:"input_ids"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Stats summarizes registry contents for status surfaces.
type Stats struct {
	Sources    int `json:"sources"`
	Generated  int `json:"generated"`
	Metadata   int `json:"metadata"`
	Operations int `json:"operations"`
	Edges      int `json:"edges"`
	Stale      int `json:"stale"`
}
