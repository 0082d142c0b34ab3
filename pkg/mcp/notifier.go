package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/stepcheck/pkg/schema"
)

// IssuesNotifier tells other clients that a step's persisted issues changed.
type IssuesNotifier interface {
	IssuesChanged(ctx context.Context, workflowID, stepID string, issues *schema.StepIssues) error
}

// MCPNotifier implements IssuesNotifier by pushing a message notification
// to every session watching the workflow, except the caller's.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	watches   *WatchRegistry
}

// NewMCPNotifier creates a notifier that pushes over MCP.
func NewMCPNotifier(mcpServer *server.MCPServer, watches *WatchRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, watches: watches}
}

// IssuesChanged sends the update. Best-effort: sessions that went away are
// forgotten and do not produce an error.
func (n *MCPNotifier) IssuesChanged(ctx context.Context, workflowID, stepID string, issues *schema.StepIssues) error {
	var caller string
	if session := server.ClientSessionFromContext(ctx); session != nil {
		caller = session.SessionID()
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "stepcheck",
		"data": map[string]any{
			"event":       "step_issues_updated",
			"workflow_id": workflowID,
			"step_id":     stepID,
			"issue_count": issues.Count(),
		},
	}

	var errs []error
	for _, sid := range n.watches.Watchers(workflowID) {
		if sid == caller {
			continue
		}
		err := n.mcpServer.SendNotificationToSpecificClient(sid, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.watches.Remove(sid)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
