package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Sentinel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel", "0.1.0")
	client := NewSentinelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAnalyzeContract, h.HandleAnalyzeContract)
	s.AddTool(ToolGetScan, h.HandleGetScan)
	s.AddTool(ToolListScans, h.HandleListScans)
	s.AddTool(ToolListPatterns, h.HandleListPatterns)
	s.AddTool(ToolGetPattern, h.HandleGetPattern)
	s.AddTool(ToolCreatePattern, h.HandleCreatePattern)
	s.AddTool(ToolDetectionStats, h.HandleDetectionStats)

	return s
}
