package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/markd/internal/rpc"
)

// Caller executes one RPC request to completion.
type Caller interface {
	Call(ctx context.Context, req rpc.Request) rpc.Response
}

// NewMCPServer exposes every route as an MCP tool of the same name. Tools
// take their payload as a JSON string in the "input" argument and return
// the route's output as JSON text.
func NewMCPServer(version string, routes []rpc.RouteInfo, caller Caller) *server.MCPServer {
	s := server.NewMCPServer(
		"markd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("markd: annotated bookmarks with notes, 1-5 ratings and tags."),
		server.WithRecovery(),
	)

	for _, route := range routes {
		desc := route.Description
		if desc == "" {
			desc = fmt.Sprintf("markd %s %s", route.Kind, route.Name)
		}
		s.AddTool(
			mcp.NewTool(route.Name,
				mcp.WithDescription(desc),
				mcp.WithString("input", mcp.Description("JSON-encoded input object; omit for routes without input")),
			),
			mcpCallRoute(route.Name, caller),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"markd://routes",
			"Routes",
			mcp.WithResourceDescription("Registered procedures with their kinds"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRoutes(routes),
	)

	return s
}

func mcpCallRoute(route string, caller Caller) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input json.RawMessage
		if raw := req.GetString("input", ""); raw != "" {
			if !json.Valid([]byte(raw)) {
				return mcpError("input must be valid JSON"), nil
			}
			input = json.RawMessage(raw)
		}

		resp := caller.Call(ctx, rpc.Request{ID: uuid.NewString(), Route: route, Input: input})
		if !resp.Success {
			return mcpError(resp.Error), nil
		}
		if len(resp.Data) == 0 {
			return mcpText("null"), nil
		}
		return mcpText(string(resp.Data)), nil
	}
}

func mcpResourceRoutes(routes []rpc.RouteInfo) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(routes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal routes: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
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
