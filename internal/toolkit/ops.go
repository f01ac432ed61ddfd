package toolkit

import (
	"fmt"
	"path/filepath"
	"sort"

	"sprocket/internal/identity"
	"sprocket/internal/services"
)

// OutputKind distinguishes operations that emit playable artifacts from ones
// that emit metadata documents.
type OutputKind string

const (
	OutputArtifact OutputKind = "artifact"
	OutputMetadata OutputKind = "metadata"
)

// ParamType is the declared type of an operation parameter.
type ParamType string

const (
	ParamNumber ParamType = "number"
	ParamString ParamType = "string"
)

// ParamSpec declares one parameter an operation accepts.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Operation binds a name to its parameter schema and engine argument
// builder. Builders receive canonicalized parameter values, the same
// rendering the ID hash consumes, so an operation can never execute with
// values that differ from what it was keyed under.
type Operation struct {
	Name      string
	Summary   string
	Output    OutputKind
	MinInputs int
	// MaxInputs of 0 with MinInputs 0 means no inputs; -1 means unbounded.
	MaxInputs int
	Params    []ParamSpec

	buildArgs func(inputPaths []string, params map[string]string) []string
	outputExt func(inputPaths []string, params map[string]string) string
}

// NormalizeParams validates raw parameters against the operation's schema
// and returns a copy with defaults applied. The returned map is what gets
// hashed, so an omitted optional parameter and an explicit default produce
// the same ID.
func (op Operation) NormalizeParams(raw map[string]any) (map[string]any, error) {
	specs := make(map[string]ParamSpec, len(op.Params))
	for _, spec := range op.Params {
		specs[spec.Name] = spec
	}
	for key := range raw {
		if _, ok := specs[key]; !ok {
			return nil, services.Wrap(services.ErrValidation, "toolkit", op.Name, fmt.Sprintf("unknown parameter %q", key), nil)
		}
	}

	normalized := make(map[string]any, len(op.Params))
	for _, spec := range op.Params {
		value, present := raw[spec.Name]
		if !present {
			if spec.Required {
				return nil, services.Wrap(services.ErrValidation, "toolkit", op.Name, fmt.Sprintf("missing required parameter %q", spec.Name), nil)
			}
			if spec.Default != nil {
				normalized[spec.Name] = spec.Default
			}
			continue
		}
		if err := checkParamType(spec, value); err != nil {
			return nil, services.Wrap(services.ErrValidation, "toolkit", op.Name, err.Error(), nil)
		}
		normalized[spec.Name] = value
	}
	return normalized, nil
}

func checkParamType(spec ParamSpec, value any) error {
	switch spec.Type {
	case ParamNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return nil
		}
		return fmt.Errorf("parameter %q must be a number, got %T", spec.Name, value)
	case ParamString:
		if _, ok := value.(string); ok {
			return nil
		}
		return fmt.Errorf("parameter %q must be a string, got %T", spec.Name, value)
	}
	return fmt.Errorf("parameter %q has unknown type %q", spec.Name, spec.Type)
}

// ValidateInputCount checks an input list against the operation's arity.
func (op Operation) ValidateInputCount(n int) error {
	if n < op.MinInputs {
		return services.Wrap(services.ErrValidation, "toolkit", op.Name, fmt.Sprintf("needs at least %d input(s), got %d", op.MinInputs, n), nil)
	}
	if op.MaxInputs >= 0 && n > op.MaxInputs {
		return services.Wrap(services.ErrValidation, "toolkit", op.Name, fmt.Sprintf("accepts at most %d input(s), got %d", op.MaxInputs, n), nil)
	}
	return nil
}

// BuildArgs renders the engine argument list for normalized parameters. The
// output path is not included; the engine client appends it.
func (op Operation) BuildArgs(inputPaths []string, params map[string]any) ([]string, error) {
	if op.buildArgs == nil {
		return nil, services.Wrap(services.ErrValidation, "toolkit", op.Name, "operation does not run the engine", nil)
	}
	return op.buildArgs(inputPaths, canonicalMap(params)), nil
}

// OutputExt returns the file extension artifacts of this operation carry.
func (op Operation) OutputExt(inputPaths []string, params map[string]any) string {
	if op.outputExt != nil {
		return op.outputExt(inputPaths, canonicalMap(params))
	}
	return extOfFirst(inputPaths)
}

func canonicalMap(params map[string]any) map[string]string {
	canonical := make(map[string]string)
	for _, p := range identity.CanonicalParams(params) {
		canonical[p.Key] = p.Value
	}
	return canonical
}

func extOfFirst(inputPaths []string) string {
	if len(inputPaths) > 0 {
		if ext := filepath.Ext(inputPaths[0]); ext != "" {
			return ext
		}
	}
	return ".mp4"
}

var catalog = map[string]Operation{
	"trim": {
		Name:      "trim",
		Summary:   "Cut a clip to a time window without re-encoding.",
		Output:    OutputArtifact,
		MinInputs: 1,
		MaxInputs: 1,
		Params: []ParamSpec{
			{Name: "start", Type: ParamNumber, Default: 0.0, Description: "Start offset in seconds."},
			{Name: "duration", Type: ParamNumber, Required: true, Description: "Clip length in seconds."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-ss", p["start"], "-i", inputs[0], "-t", p["duration"], "-c", "copy"}
		},
	},
	"concat": {
		Name:      "concat",
		Summary:   "Join clips end to end.",
		Output:    OutputArtifact,
		MinInputs: 2,
		MaxInputs: -1,
		buildArgs: func(inputs []string, p map[string]string) []string {
			args := make([]string, 0, len(inputs)*2+2)
			for _, input := range inputs {
				args = append(args, "-i", input)
			}
			return append(args, "-filter_complex", fmt.Sprintf("concat=n=%d:v=1:a=1", len(inputs)))
		},
	},
	"extract_audio": {
		Name:      "extract_audio",
		Summary:   "Strip the video track and keep the audio.",
		Output:    OutputArtifact,
		MinInputs: 1,
		MaxInputs: 1,
		Params: []ParamSpec{
			{Name: "format", Type: ParamString, Default: "mp3", Description: "Audio container (mp3, aac, wav, flac)."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-i", inputs[0], "-vn"}
		},
		outputExt: func(inputs []string, p map[string]string) string {
			if format := p["format"]; format != "" {
				return "." + format
			}
			return ".mp3"
		},
	},
	"replace_audio": {
		Name:      "replace_audio",
		Summary:   "Swap a clip's audio track; inputs are video then audio.",
		Output:    OutputArtifact,
		MinInputs: 2,
		MaxInputs: 2,
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-i", inputs[0], "-i", inputs[1], "-map", "0:v", "-map", "1:a", "-c:v", "copy", "-shortest"}
		},
	},
	"resize": {
		Name:      "resize",
		Summary:   "Scale a clip to explicit dimensions.",
		Output:    OutputArtifact,
		MinInputs: 1,
		MaxInputs: 1,
		Params: []ParamSpec{
			{Name: "width", Type: ParamNumber, Required: true, Description: "Target width in pixels."},
			{Name: "height", Type: ParamNumber, Required: true, Description: "Target height in pixels."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-i", inputs[0], "-vf", fmt.Sprintf("scale=%s:%s", p["width"], p["height"])}
		},
	},
	"scale_fps": {
		Name:      "scale_fps",
		Summary:   "Change a clip's frame rate.",
		Output:    OutputArtifact,
		MinInputs: 1,
		MaxInputs: 1,
		Params: []ParamSpec{
			{Name: "fps", Type: ParamNumber, Required: true, Description: "Target frames per second."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-i", inputs[0], "-vf", "fps=" + p["fps"]}
		},
	},
	"image_to_video": {
		Name:      "image_to_video",
		Summary:   "Turn a still image into a fixed-length video.",
		Output:    OutputArtifact,
		MinInputs: 1,
		MaxInputs: 1,
		Params: []ParamSpec{
			{Name: "duration", Type: ParamNumber, Required: true, Description: "Video length in seconds."},
			{Name: "fps", Type: ParamNumber, Default: 30.0, Description: "Frame rate of the result."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			return []string{"-loop", "1", "-i", inputs[0], "-t", p["duration"], "-r", p["fps"], "-pix_fmt", "yuv420p"}
		},
		outputExt: func(inputs []string, p map[string]string) string { return ".mp4" },
	},
	"generate": {
		Name:      "generate",
		Summary:   "Synthesize a test clip from an ffmpeg lavfi source; takes no inputs.",
		Output:    OutputArtifact,
		MinInputs: 0,
		MaxInputs: 0,
		Params: []ParamSpec{
			{Name: "pattern", Type: ParamString, Default: "testsrc", Description: "Lavfi source name (testsrc, smptebars, color)."},
			{Name: "duration", Type: ParamNumber, Required: true, Description: "Clip length in seconds."},
			{Name: "size", Type: ParamString, Default: "1280x720", Description: "Frame size, WxH."},
			{Name: "fps", Type: ParamNumber, Default: 30.0, Description: "Frame rate."},
		},
		buildArgs: func(inputs []string, p map[string]string) []string {
			source := fmt.Sprintf("%s=duration=%s:size=%s:rate=%s", p["pattern"], p["duration"], p["size"], p["fps"])
			return []string{"-f", "lavfi", "-i", source, "-pix_fmt", "yuv420p"}
		},
		outputExt: func(inputs []string, p map[string]string) string { return ".mp4" },
	},
	"analyze": {
		Name:      "analyze",
		Summary:   "Probe a file and store its stream/format report as metadata.",
		Output:    OutputMetadata,
		MinInputs: 1,
		MaxInputs: 1,
		outputExt: func(inputs []string, p map[string]string) string { return ".json" },
	},
}

// Operations returns the catalog sorted by name.
func Operations() []Operation {
	ops := make([]Operation, 0, len(catalog))
	for _, op := range catalog {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}

// LookupOperation finds a catalog entry by name.
func LookupOperation(name string) (Operation, bool) {
	op, ok := catalog[name]
	return op, ok
}
