package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all scanner tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("approvalguard", "0.1.0")
	client := NewScannerClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolScanWallet, h.HandleScanWallet)
	s.AddTool(ToolGetWalletReport, h.HandleGetWalletReport)
	s.AddTool(ToolListRiskyApprovals, h.HandleListRiskyApprovals)

	return s
}
