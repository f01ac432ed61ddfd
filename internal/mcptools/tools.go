package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sprocket/internal/logging"
	"sprocket/internal/services"
	"sprocket/internal/toolkit"
)

// OperationInput is the common argument shape of every catalog tool.
type OperationInput struct {
	Inputs []string       `json:"inputs,omitempty" jsonschema:"ordered resource IDs consumed by the operation"`
	Params map[string]any `json:"params,omitempty" jsonschema:"operation parameters; omitted optional parameters take their defaults"`
}

// OperationOutput reports the artifact an operation produced or reused.
type OperationOutput struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Cached    bool   `json:"cached"`
	RequestID string `json:"request_id"`
}

// operationHandler builds the typed MCP handler for one catalog operation.
func (s *Server) operationHandler(op toolkit.Operation) func(context.Context, *mcp.CallToolRequest, OperationInput) (*mcp.CallToolResult, OperationOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input OperationInput) (*mcp.CallToolResult, OperationOutput, error) {
		requestID := uuid.NewString()
		ctx = services.WithRequestID(ctx, requestID)
		ctx = services.WithOperation(ctx, op.Name)

		s.logger.Info("tool call",
			logging.String(logging.FieldOperation, op.Name),
			logging.String(logging.FieldRequestID, requestID),
			logging.Int("inputs", len(input.Inputs)))

		exec, err := s.tk.Execute(ctx, op.Name, input.Inputs, input.Params)
		if err != nil {
			s.logger.Warn("tool call failed",
				logging.String(logging.FieldOperation, op.Name),
				logging.String(logging.FieldRequestID, requestID),
				logging.Error(err))
			return errorResult(err), OperationOutput{}, nil
		}

		output := OperationOutput{
			ID:        exec.Outcome.ID,
			Path:      exec.Outcome.Path,
			Cached:    exec.Cached,
			RequestID: requestID,
		}
		return jsonResult(output), output, nil
	}
}

// ResolveInput asks for the filesystem path behind one resource ID.
type ResolveInput struct {
	ID string `json:"id" jsonschema:"the resource ID to resolve"`
}

// ResolveOutput carries the resolved path.
type ResolveOutput struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// StatusOutput summarizes registry state.
type StatusOutput struct {
	Sources     int      `json:"sources"`
	Generated   int      `json:"generated"`
	Metadata    int      `json:"metadata"`
	Operations  int      `json:"operations"`
	Stale       []string `json:"stale,omitempty"`
	LoadWarning string   `json:"load_warning,omitempty"`
}

// IntegrityOutput lists registered IDs whose backing files are missing.
type IntegrityOutput struct {
	Clean   bool                `json:"clean"`
	Missing map[string][]string `json:"missing,omitempty"`
}

// RebuildOutput reports a registry reconstruction pass.
type RebuildOutput struct {
	SourcesRegistered   int            `json:"sources_registered"`
	GeneratedRegistered int            `json:"generated_registered"`
	MetadataRegistered  int            `json:"metadata_registered"`
	Orphans             []OrphanOutput `json:"orphans,omitempty"`
}

// OrphanOutput is one file the rebuild could not account for.
type OrphanOutput struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// InvalidateInput names a source file to re-check.
type InvalidateInput struct {
	Path string `json:"path" jsonschema:"absolute path of the source file that changed"`
}

// InvalidateOutput reports the staleness propagation of one source change.
type InvalidateOutput struct {
	Changed  bool     `json:"changed"`
	SourceID string   `json:"source_id,omitempty"`
	StaleIDs []string `json:"stale_ids,omitempty"`
}

// CatalogOutput lists the callable operations.
type CatalogOutput struct {
	Operations []CatalogEntry `json:"operations"`
}

// CatalogEntry describes one operation for discovery.
type CatalogEntry struct {
	Name      string         `json:"name"`
	Summary   string         `json:"summary"`
	Output    string         `json:"output"`
	MinInputs int            `json:"min_inputs"`
	MaxInputs int            `json:"max_inputs"`
	Params    []CatalogParam `json:"params,omitempty"`
}

// CatalogParam describes one operation parameter.
type CatalogParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

type emptyInput struct{}

func (s *Server) addRegistryTools(mcpServer *mcp.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "resolve",
		Description: "Resolve a resource ID to the filesystem path of its backing file.",
	}, s.handleResolve)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "registry_status",
		Description: "Summarize registry contents: counts per category and any stale derivations.",
	}, s.handleStatus)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "integrity_report",
		Description: "List registered resources whose backing files are missing from disk. Read-only.",
	}, s.handleIntegrity)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "rebuild",
		Description: "Reconstruct registry entries from the managed directories using provenance sidecars. Reports orphaned files it could not account for.",
	}, s.handleRebuild)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "invalidate_source",
		Description: "Re-check one source file and mark all derivations depending on it stale if its contents changed.",
	}, s.handleInvalidate)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_operations",
		Description: "List the available media operations with their parameter schemas.",
	}, s.handleCatalog)
}

func (s *Server) handleResolve(ctx context.Context, req *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, ResolveOutput, error) {
	path, err := s.tk.Resolve(input.ID)
	if err != nil {
		return errorResult(err), ResolveOutput{}, nil
	}
	output := ResolveOutput{ID: input.ID, Path: path}
	return jsonResult(output), output, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, StatusOutput, error) {
	reg := s.tk.Registry()
	stats := reg.Stats()
	output := StatusOutput{
		Sources:     stats.Sources,
		Generated:   stats.Generated,
		Metadata:    stats.Metadata,
		Operations:  stats.Operations,
		LoadWarning: reg.LoadWarning(),
	}
	for id := range reg.StaleIDs() {
		output.Stale = append(output.Stale, id)
	}
	return jsonResult(output), output, nil
}

func (s *Server) handleIntegrity(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, IntegrityOutput, error) {
	missing := s.tk.IntegrityReport()
	output := IntegrityOutput{Clean: len(missing) == 0}
	if len(missing) > 0 {
		output.Missing = make(map[string][]string, len(missing))
		for kind, ids := range missing {
			output.Missing[string(kind)] = ids
		}
	}
	return jsonResult(output), output, nil
}

func (s *Server) handleRebuild(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, RebuildOutput, error) {
	report, err := s.tk.Rebuild(ctx)
	if err != nil {
		return errorResult(err), RebuildOutput{}, nil
	}
	output := RebuildOutput{
		SourcesRegistered:   report.SourcesRegistered,
		GeneratedRegistered: report.GeneratedRegistered,
		MetadataRegistered:  report.MetadataRegistered,
	}
	for _, orphan := range report.Orphans {
		output.Orphans = append(output.Orphans, OrphanOutput{Path: orphan.Path, Reason: orphan.Reason})
	}
	return jsonResult(output), output, nil
}

func (s *Server) handleInvalidate(ctx context.Context, req *mcp.CallToolRequest, input InvalidateInput) (*mcp.CallToolResult, InvalidateOutput, error) {
	divergence, changed, err := s.tk.InvalidateSinceChange(input.Path)
	if err != nil {
		return errorResult(err), InvalidateOutput{}, nil
	}
	output := InvalidateOutput{Changed: changed, SourceID: divergence.SourceID}
	if changed {
		output.StaleIDs = divergence.StaleIDs
	}
	return jsonResult(output), output, nil
}

func (s *Server) handleCatalog(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, CatalogOutput, error) {
	var output CatalogOutput
	for _, op := range toolkit.Operations() {
		entry := CatalogEntry{
			Name:      op.Name,
			Summary:   op.Summary,
			Output:    string(op.Output),
			MinInputs: op.MinInputs,
			MaxInputs: op.MaxInputs,
		}
		for _, p := range op.Params {
			entry.Params = append(entry.Params, CatalogParam{
				Name:        p.Name,
				Type:        string(p.Type),
				Required:    p.Required,
				Default:     p.Default,
				Description: p.Description,
			})
		}
		output.Operations = append(output.Operations, entry)
	}
	return jsonResult(output), output, nil
}

// jsonResult mirrors structured output into a TextContent block, per MCP
// spec guidance for backwards compatibility.
func jsonResult(output any) *mcp.CallToolResult {
	data, err := json.Marshal(output)
	if err != nil {
		return errorResult(fmt.Errorf("serialize result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}
