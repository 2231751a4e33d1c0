package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/accountcheck/internal/apiclient"
)

// Version is advertised to MCP clients.
const Version = "1.0.0"

// Config points the tools at a running accountcheck API.
type Config = apiclient.Config

// NewMCPServer creates a configured MCP server with all accountcheck tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("accountcheck", Version)
	h := NewHandlers(apiclient.New(cfg))

	s.AddTool(ToolAnalyzeAccount, h.HandleAnalyzeAccount)
	s.AddTool(ToolGetHistory, h.HandleGetHistory)
	s.AddTool(ToolGetStats, h.HandleGetStats)
	s.AddTool(ToolListFeatures, h.HandleListFeatures)

	return s
}
