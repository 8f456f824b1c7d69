// Package background lets the agent hand long-running work to the background
// task manager and follow up on it. Results reach the user as a separate
// message when the task finishes.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/tasks"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Args are the background_task parameters.
type Args struct {
	Action         string `json:"action" jsonschema:"required,enum=spawn,enum=status,enum=cancel,enum=cancel_all,enum=steer,enum=list" jsonschema_description:"Action to perform"`
	ID             string `json:"id,omitempty" jsonschema_description:"Task id for status, cancel and steer"`
	Instructions   string `json:"instructions,omitempty" jsonschema_description:"What the task should do (spawn) or additional guidance (steer)"`
	Label          string `json:"label,omitempty" jsonschema_description:"Short label shown to the user"`
	Model          string `json:"model,omitempty" jsonschema_description:"Optional model override"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,maximum=600" jsonschema_description:"Task timeout, default 120"`
	Scope          string `json:"scope,omitempty" jsonschema:"enum=mine,enum=all" jsonschema_description:"cancel_all scope; all is reserved for the bot owner"`
	WindowHours    int    `json:"window_hours,omitempty" jsonschema:"minimum=0" jsonschema_description:"How far back list reports finished tasks, default 24"`
}

// Tool is the background_task catalog entry.
type Tool struct {
	manager *tasks.Manager
}

// NewTool creates a background_task tool.
func NewTool(manager *tasks.Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string { return "background_task" }

func (t *Tool) Description() string {
	return "Run work in the background and report back to the user when it finishes. " +
		"Actions: spawn, status, cancel, cancel_all, steer, list."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, inv *agent.Invocation) (string, error) {
	if t.manager == nil {
		return "", agent.NewToolError(agent.ToolErrorUnavailable, "background tasks unavailable")
	}
	if inv == nil || inv.CallerID == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "caller is unknown")
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
	}
	args.ID = strings.TrimSpace(args.ID)

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "spawn":
		task, err := t.manager.Spawn(ctx, tasks.SpawnRequest{
			Instructions:   args.Instructions,
			Label:          args.Label,
			OwnerID:        inv.CallerID,
			Model:          args.Model,
			TimeoutSeconds: args.TimeoutSeconds,
		})
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"status": "accepted", "task": summarize(task)})
	case "status":
		task, err := t.owned(ctx, args.ID, inv)
		if err != nil {
			return "", err
		}
		return encode(map[string]any{"task": task})
	case "cancel":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		if !t.manager.Cancel(ctx, args.ID) {
			return "", agent.Errorf(agent.ToolErrorNotFound, "task %s is not running", args.ID)
		}
		return encode(map[string]any{"status": "cancelled", "id": args.ID})
	case "cancel_all":
		return t.cancelAll(ctx, args, inv)
	case "steer":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		next, err := t.manager.Steer(ctx, args.ID, args.Instructions)
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"status": "steered", "previous_id": args.ID, "task": summarize(next)})
	case "list":
		window := time.Duration(args.WindowHours) * time.Hour
		listing, err := t.manager.List(ctx, inv.CallerID, window)
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{
			"active": summarizeAll(listing.Active),
			"recent": summarizeAll(listing.Recent),
		})
	case "":
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "action is required")
	default:
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unsupported action %q", args.Action)
	}
}

func (t *Tool) cancelAll(ctx context.Context, args Args, inv *agent.Invocation) (string, error) {
	scope := strings.ToLower(strings.TrimSpace(args.Scope))
	owner := inv.CallerID
	switch scope {
	case "", "mine":
		scope = "mine"
	case tasks.AllOwners:
		if !inv.IsAdmin {
			return "", agent.NewToolError(agent.ToolErrorForbidden, "cancelling every user's tasks is restricted to the bot owner")
		}
		owner = tasks.AllOwners
	default:
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unknown scope %q", args.Scope)
	}
	count := t.manager.CancelAll(ctx, owner)
	return encode(map[string]any{"status": "cancelled", "scope": scope, "count": count})
}

// owned loads task id, hiding tasks of other users.
func (t *Tool) owned(ctx context.Context, id string, inv *agent.Invocation) (*models.BackgroundTask, error) {
	if id == "" {
		return nil, agent.NewToolError(agent.ToolErrorInvalidArguments, "id is required")
	}
	task, err := t.manager.Query(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	if task.OwnerID != inv.CallerID {
		return nil, agent.Errorf(agent.ToolErrorNotFound, "task %s not found", id)
	}
	return task, nil
}

// taskSummary omits instructions, which can be long after steering.
type taskSummary struct {
	ID             string            `json:"id"`
	Label          string            `json:"label"`
	Status         models.TaskStatus `json:"status"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Result         string            `json:"result,omitempty"`
}

func summarize(task *models.BackgroundTask) taskSummary {
	return taskSummary{
		ID:             task.ID,
		Label:          task.Label,
		Status:         task.Status,
		TimeoutSeconds: task.TimeoutSeconds,
		CreatedAt:      task.CreatedAt,
		CompletedAt:    task.CompletedAt,
		Result:         task.ResultText,
	}
}

func summarizeAll(list []*models.BackgroundTask) []taskSummary {
	out := make([]taskSummary, 0, len(list))
	for _, task := range list {
		out = append(out, summarize(task))
	}
	return out
}

func mapError(err error) error {
	switch {
	case errors.Is(err, tasks.ErrCapacity):
		return agent.NewToolError(agent.ToolErrorCapacity, err.Error()).WithCause(err)
	case errors.Is(err, tasks.ErrNotFound):
		return agent.NewToolError(agent.ToolErrorNotFound, "task not found").WithCause(err)
	case errors.Is(err, tasks.ErrInvalidRequest):
		return agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error()).WithCause(err)
	case errors.Is(err, tasks.ErrClosed):
		return agent.NewToolError(agent.ToolErrorUnavailable, err.Error()).WithCause(err)
	default:
		return agent.Errorf(agent.ToolErrorExecution, "background task error: %v", err).WithCause(err)
	}
}

func encode(payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", agent.Errorf(agent.ToolErrorExecution, "encode result: %v", err)
	}
	return string(encoded), nil
}
