package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/torva/torva/internal/procedure"
	"github.com/torva/torva/internal/schema"
)

// SchemaResourceURI is the MCP resource serving the compiled DDL.
const SchemaResourceURI = "torva://schema"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router   *procedure.Router
	Registry *schema.Registry
	Dialect  schema.Dialect
	Version  string
}

// NewMCPServer creates an MCP server exposing every public query procedure
// as a tool, plus the schema as a resource. Mutations are not exposed: MCP
// clients run without a caller identity.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"torva",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("torva: read-only access to customer support data (customers, conversations, messages, knowledge base, feedback)."),
		server.WithRecovery(),
	)

	for _, p := range deps.Router.Procedures() {
		if p.Kind != procedure.Query || p.Protected {
			continue
		}
		s.AddTool(
			mcp.NewToolWithRawSchema(ToolName(p.Name), p.Description, p.InputSchema),
			mcpCallProcedure(deps.Router, p.Name),
		)
	}

	s.AddResource(
		mcp.NewResource(
			SchemaResourceURI,
			"Schema",
			mcp.WithResourceDescription("DDL for every torva table in the store's SQL dialect"),
			mcp.WithMIMEType("application/sql"),
		),
		mcpResourceSchema(deps),
	)

	return s
}

// ToolName maps a procedure name to an MCP tool name. Dots are not accepted
// by every MCP client, so "customer.byId" becomes "customer_byId".
func ToolName(procName string) string {
	return strings.ReplaceAll(procName, ".", "_")
}

func mcpCallProcedure(router *procedure.Router, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input json.RawMessage
		if args := req.GetArguments(); len(args) > 0 {
			b, err := json.Marshal(args)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			input = b
		}

		out, err := router.Call(ctx, name, input)
		if err != nil {
			slog.Debug("mcp tool failed", "procedure", name, "error", err)
			return mcpError(err.Error()), nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ddl, err := SchemaDDL(deps.Registry, deps.Dialect)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/sql",
				Text:     ddl,
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
