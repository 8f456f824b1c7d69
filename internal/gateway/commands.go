package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/parrot/internal/tools/datetime"
)

// command is a chat command answered without the agent.
type command struct {
	Name        string
	Aliases     []string
	Description string
	Handler     func(ctx context.Context, s *Service, in Inbound, args string) string
}

var commandRe = regexp.MustCompile(`^/([a-zA-Z][a-zA-Z0-9_]*)(?:@[A-Za-z0-9_]+)?(?:\s+(.*))?$`)

// builtinCommands is filled in init because /help lists it.
var builtinCommands []*command

func init() {
	builtinCommands = []*command{
		{Name: "start", Description: "Introduce the bot", Handler: helpCommand},
		{Name: "help", Aliases: []string{"commands"}, Description: "Show available commands", Handler: helpCommand},
		{Name: "reset", Aliases: []string{"new", "clear"}, Description: "Forget the conversation so far", Handler: resetCommand},
		{Name: "tasks", Description: "List your background tasks", Handler: tasksCommand},
		{Name: "jobs", Description: "List your scheduled jobs", Handler: jobsCommand},
	}
}

// parseCommand splits "/name@bot args" into its lowercase name and args.
func parseCommand(text string) (name, args string, ok bool) {
	match := commandRe.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return "", "", false
	}
	return strings.ToLower(match[1]), strings.TrimSpace(match[2]), true
}

func lookupCommand(name string) (*command, bool) {
	for _, cmd := range builtinCommands {
		if cmd.Name == name {
			return cmd, true
		}
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return nil, false
}

func (s *Service) runCommand(ctx context.Context, cmd *command, in Inbound, args string) Reply {
	s.logger.Debug("running command", "command", cmd.Name, "owner_id", in.OwnerID)
	return Reply{Text: cmd.Handler(ctx, s, in, args)}
}

func helpCommand(_ context.Context, _ *Service, _ Inbound, _ string) string {
	var b strings.Builder
	b.WriteString("Hi! Send me a message and I'll answer, searching the web or using other tools when needed.\n\nCommands:\n")
	for _, cmd := range builtinCommands {
		fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func resetCommand(ctx context.Context, s *Service, in Inbound, _ string) string {
	n, err := s.history.ClearHistory(ctx, in.OwnerID)
	if err != nil {
		s.logger.Error("failed to clear history", "owner_id", in.OwnerID, "error", err)
		return "Sorry, I couldn't clear the conversation. Please try again."
	}
	if n == 0 {
		return "Nothing to forget, the conversation is already empty."
	}
	return fmt.Sprintf("Conversation cleared (%d messages).", n)
}

func tasksCommand(ctx context.Context, s *Service, in Inbound, _ string) string {
	if s.tasks == nil {
		return "Background tasks are not enabled."
	}
	listing, err := s.tasks.List(ctx, in.OwnerID, 0)
	if err != nil {
		s.logger.Error("failed to list tasks", "owner_id", in.OwnerID, "error", err)
		return "Sorry, I couldn't list your tasks."
	}
	if len(listing.Active) == 0 && len(listing.Recent) == 0 {
		return "You have no background tasks."
	}
	now := s.now()
	var b strings.Builder
	if len(listing.Active) > 0 {
		b.WriteString("Running:\n")
		for _, task := range listing.Active {
			fmt.Fprintf(&b, "- %s (%s), started %s\n", task.Label, task.ID, datetime.FormatRelative(task.CreatedAt, now))
		}
	}
	if len(listing.Recent) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent:\n")
		for _, task := range listing.Recent {
			when := task.CreatedAt
			if task.CompletedAt != nil {
				when = *task.CompletedAt
			}
			fmt.Fprintf(&b, "- %s (%s) %s %s\n", task.Label, task.ID, task.Status, datetime.FormatRelative(when, now))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func jobsCommand(ctx context.Context, s *Service, in Inbound, _ string) string {
	if s.jobs == nil {
		return "Scheduled jobs are not enabled."
	}
	views, err := s.jobs.List(ctx, in.OwnerID)
	if err != nil {
		s.logger.Error("failed to list jobs", "owner_id", in.OwnerID, "error", err)
		return "Sorry, I couldn't list your jobs."
	}
	if len(views) == 0 {
		return "You have no scheduled jobs."
	}
	now := s.now()
	var b strings.Builder
	b.WriteString("Scheduled jobs:\n")
	for _, view := range views {
		job := view.Job
		status := "paused"
		switch {
		case view.NextRun != nil:
			status = "next run " + datetime.FormatRelative(*view.NextRun, now)
		case job.Enabled:
			status = "not scheduled"
		}
		fmt.Fprintf(&b, "- %s (%s) %s, %s\n", job.Name, job.ID, job.ScheduleExpression, status)
	}
	return strings.TrimRight(b.String(), "\n")
}
