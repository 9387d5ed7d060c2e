package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all dispute tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("resolution", "1.0.0")
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetDispute, h.HandleGetDispute)
	s.AddTool(ToolGetDisputeTimeline, h.HandleGetDisputeTimeline)
	s.AddTool(ToolListMyDisputes, h.HandleListMyDisputes)
	s.AddTool(ToolListPendingReview, h.HandleListPendingReview)
	s.AddTool(ToolGetSellerReputation, h.HandleGetSellerReputation)

	return s
}
