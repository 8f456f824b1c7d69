package policy

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/parrot/internal/agent"
)

type adminOnly struct {
	agent.Tool
}

// RequireAdmin wraps tool so that calls from non-admin callers fail with a
// forbidden error before the tool runs.
func RequireAdmin(tool agent.Tool) agent.Tool {
	if _, ok := tool.(adminOnly); ok {
		return tool
	}
	return adminOnly{Tool: tool}
}

// IsAdminGuarded reports whether tool was wrapped by RequireAdmin.
func IsAdminGuarded(tool agent.Tool) bool {
	_, ok := tool.(adminOnly)
	return ok
}

// ConcurrentSafe forwards the wrapped tool's opt-in, which embedding the
// interface would hide.
func (a adminOnly) ConcurrentSafe() bool { return agent.IsConcurrentSafe(a.Tool) }

func (a adminOnly) Execute(ctx context.Context, args json.RawMessage, inv *agent.Invocation) (string, error) {
	if inv == nil || !inv.IsAdmin {
		return "", agent.Errorf(agent.ToolErrorForbidden, "%s is restricted to the bot owner", a.Name())
	}
	return a.Tool.Execute(ctx, args, inv)
}
