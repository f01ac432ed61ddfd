package mcptools

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sprocket/internal/logging"
	"sprocket/internal/toolkit"
)

// Server wraps an MCP server over the toolkit.
type Server struct {
	tk        *toolkit.Toolkit
	logger    *slog.Logger
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates an MCP server exposing one tool per catalog operation
// plus the registry tools.
func NewServer(tk *toolkit.Toolkit, version string, logger *slog.Logger) (*Server, error) {
	if tk == nil {
		return nil, errors.New("toolkit is required")
	}

	s := &Server{
		tk:     tk,
		logger: logging.NewComponentLogger(logger, "mcp"),
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "sprocket",
			Version: version,
		},
		&mcp.ServerOptions{},
	)

	for _, op := range toolkit.Operations() {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        op.Name,
			Description: describeOperation(op),
		}, s.operationHandler(op))
	}

	s.addRegistryTools(mcpServer)
	s.mcpServer = mcpServer

	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// describeOperation renders a tool description from the operation summary
// and its parameter schema.
func describeOperation(op toolkit.Operation) string {
	var b strings.Builder
	b.WriteString(op.Summary)
	b.WriteString(fmt.Sprintf(" Inputs: %s.", describeArity(op)))
	if len(op.Params) == 0 {
		return b.String()
	}
	b.WriteString(" Parameters:")
	for _, p := range op.Params {
		b.WriteString(fmt.Sprintf(" %s (%s", p.Name, p.Type))
		if p.Required {
			b.WriteString(", required")
		} else if p.Default != nil {
			b.WriteString(fmt.Sprintf(", default %v", p.Default))
		}
		b.WriteString(") ")
		b.WriteString(p.Description)
	}
	return b.String()
}

func describeArity(op toolkit.Operation) string {
	switch {
	case op.MinInputs == 0 && op.MaxInputs == 0:
		return "none"
	case op.MaxInputs < 0:
		return fmt.Sprintf("%d or more resource IDs", op.MinInputs)
	case op.MinInputs == op.MaxInputs && op.MinInputs == 1:
		return "one resource ID"
	case op.MinInputs == op.MaxInputs:
		return fmt.Sprintf("exactly %d resource IDs", op.MinInputs)
	default:
		return fmt.Sprintf("%d to %d resource IDs", op.MinInputs, op.MaxInputs)
	}
}
