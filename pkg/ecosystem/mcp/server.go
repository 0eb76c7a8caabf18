package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with questline tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"questline",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("quest/validate",
			mcp.WithDescription("Validate a quest/v1 YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the quest YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("quest/schema",
			mcp.WithDescription("Export the quest/v1 JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("quest/nodes",
			mcp.WithDescription("List the runtime node ids backing a quest's timeline items"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the quest YAML file")),
			mcp.WithString("object", mcp.Description("Only list nodes of this object (optional)")),
		),
		HandleNodes,
	)

	s.AddTool(
		mcp.NewTool("quest/diagram",
			mcp.WithDescription("Render a quest's object timelines as a Mermaid or ASCII diagram"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the quest YAML file")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii")),
		),
		HandleDiagram,
	)

	s.AddTool(
		mcp.NewTool("quest/progress",
			mcp.WithDescription("Report per-object progress of a quest from a saved state file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the quest YAML file")),
			mcp.WithString("state", mcp.Description("Path to the state JSON file (omit for a fresh quest)")),
		),
		HandleProgress,
	)

	s.AddTool(
		mcp.NewTool("quest/play",
			mcp.WithDescription("Autoplay a quest against a scripted player scenario"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the quest YAML file")),
			mcp.WithString("scenario", mcp.Description("Path to the scenario YAML file (optional)")),
		),
		HandlePlay,
	)

	return s
}
