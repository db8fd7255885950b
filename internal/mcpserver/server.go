package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Atlas tools registered.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer("atlas", "1.0.0")
	h := NewHandlers(deps)

	s.AddTool(ToolScoreEvent, h.HandleScoreEvent)
	s.AddTool(ToolGetUserProfile, h.HandleGetUserProfile)
	s.AddTool(ToolGetAuditTrail, h.HandleGetAuditTrail)
	s.AddTool(ToolOverrideAction, h.HandleOverrideAction)
	s.AddTool(ToolListAlerts, h.HandleListAlerts)
	s.AddTool(ToolAcknowledgeAlert, h.HandleAcknowledgeAlert)
	s.AddTool(ToolCloseAlert, h.HandleCloseAlert)
	s.AddTool(ToolGetRiskStats, h.HandleGetRiskStats)

	return s
}
