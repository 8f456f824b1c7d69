// Package schedule exposes the scheduled job manager to the agent. Every
// action is scoped to the calling user: jobs owned by someone else look
// like they do not exist.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/cron"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Args are the schedule tool parameters. Only the fields an action uses are
// read.
type Args struct {
	Action         string `json:"action" jsonschema:"required,enum=add,enum=update,enum=remove,enum=run,enum=wake,enum=list,enum=runs" jsonschema_description:"Action to perform"`
	ID             string `json:"id,omitempty" jsonschema_description:"Job id for update, remove, run, wake and runs"`
	Name           string `json:"name,omitempty" jsonschema_description:"Short job name"`
	Schedule       string `json:"schedule,omitempty" jsonschema_description:"Cron expression (e.g. '0 9 * * 1-5', '@daily') or a future date like 2026-05-01T09:00 for a one-time reminder"`
	Message        string `json:"message,omitempty" jsonschema_description:"Text sent to the user when the job fires"`
	Timezone       string `json:"timezone,omitempty" jsonschema_description:"IANA timezone for the schedule, default UTC"`
	Enabled        *bool  `json:"enabled,omitempty" jsonschema_description:"Enable or pause the job (update only)"`
	DeleteAfterRun *bool  `json:"delete_after_run,omitempty" jsonschema_description:"Delete the job after its first successful run"`
	Limit          int    `json:"limit,omitempty" jsonschema:"minimum=0,maximum=100" jsonschema_description:"Maximum runs to return (runs only)"`
}

// Tool is the schedule catalog entry.
type Tool struct {
	manager *cron.Manager
}

// NewTool creates a schedule tool.
func NewTool(manager *cron.Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string { return "schedule" }

func (t *Tool) Description() string {
	return "Create and manage scheduled reminders for the user. Recurring jobs use cron syntax; " +
		"one-time reminders use a future date. Actions: add, update, remove, run, wake, list, runs."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, inv *agent.Invocation) (string, error) {
	if t.manager == nil {
		return "", agent.NewToolError(agent.ToolErrorUnavailable, "scheduler unavailable")
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
	case "add":
		return t.add(ctx, args, inv)
	case "update":
		return t.update(ctx, args, inv)
	case "remove":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		if err := t.manager.Remove(ctx, args.ID); err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"status": "removed", "id": args.ID})
	case "run":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		run, err := t.manager.Run(ctx, args.ID)
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"status": "ran", "run": run})
	case "wake":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		job, err := t.manager.Wake(ctx, args.ID)
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"status": "scheduled", "job": job})
	case "list":
		views, err := t.manager.List(ctx, inv.CallerID)
		if err != nil {
			return "", mapError(err)
		}
		return encode(map[string]any{"jobs": views, "count": len(views)})
	case "runs":
		if _, err := t.owned(ctx, args.ID, inv); err != nil {
			return "", err
		}
		runs, err := t.manager.ListRuns(ctx, args.ID, args.Limit)
		if err != nil {
			return "", mapError(err)
		}
		if runs == nil {
			runs = []*models.JobRun{}
		}
		return encode(map[string]any{"id": args.ID, "runs": runs})
	case "":
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "action is required")
	default:
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unsupported action %q", args.Action)
	}
}

func (t *Tool) add(ctx context.Context, args Args, inv *agent.Invocation) (string, error) {
	req := cron.AddRequest{
		Name:     args.Name,
		Schedule: args.Schedule,
		Message:  args.Message,
		OwnerID:  inv.CallerID,
		Timezone: args.Timezone,
	}
	if args.DeleteAfterRun != nil {
		req.DeleteAfterRun = *args.DeleteAfterRun
	}
	if strings.TrimSpace(req.Schedule) == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "schedule is required")
	}
	job, err := t.manager.Add(ctx, req)
	if err != nil {
		return "", mapError(err)
	}
	return encode(map[string]any{"status": "created", "job": job})
}

func (t *Tool) update(ctx context.Context, args Args, inv *agent.Invocation) (string, error) {
	if _, err := t.owned(ctx, args.ID, inv); err != nil {
		return "", err
	}
	var patch cron.Patch
	if args.Name != "" {
		patch.Name = &args.Name
	}
	if args.Schedule != "" {
		patch.Schedule = &args.Schedule
	}
	if args.Message != "" {
		patch.Message = &args.Message
	}
	if args.Timezone != "" {
		patch.Timezone = &args.Timezone
	}
	patch.Enabled = args.Enabled
	patch.DeleteAfterRun = args.DeleteAfterRun

	job, err := t.manager.Update(ctx, args.ID, patch)
	if err != nil {
		return "", mapError(err)
	}
	return encode(map[string]any{"status": "updated", "job": job, "is_scheduled": t.manager.IsScheduled(job.ID)})
}

// owned returns the caller's view of job id, or not_found when the job
// belongs to another user.
func (t *Tool) owned(ctx context.Context, id string, inv *agent.Invocation) (*models.ScheduledJob, error) {
	if id == "" {
		return nil, agent.NewToolError(agent.ToolErrorInvalidArguments, "id is required")
	}
	views, err := t.manager.List(ctx, inv.CallerID)
	if err != nil {
		return nil, mapError(err)
	}
	for _, view := range views {
		if view.Job.ID == id {
			return view.Job, nil
		}
	}
	return nil, agent.Errorf(agent.ToolErrorNotFound, "job %s not found", id)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, cron.ErrNotFound):
		return agent.NewToolError(agent.ToolErrorNotFound, "job not found").WithCause(err)
	case errors.Is(err, cron.ErrPastDate),
		errors.Is(err, cron.ErrInvalidSchedule),
		errors.Is(err, cron.ErrInvalidTimezone),
		errors.Is(err, cron.ErrInvalidArguments):
		return agent.NewToolError(agent.ToolErrorInvalidArguments, err.Error()).WithCause(err)
	default:
		return agent.Errorf(agent.ToolErrorExecution, "scheduler error: %v", err).WithCause(err)
	}
}

func encode(payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", agent.Errorf(agent.ToolErrorExecution, "encode result: %v", err)
	}
	return string(encoded), nil
}
