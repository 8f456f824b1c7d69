// Package gateway turns inbound chat messages into replies. Slash commands
// are answered directly; everything else runs through the agent loop with
// the caller's recent conversation history.
package gateway

import (
	"context"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Inbound is one user message from a channel.
type Inbound struct {
	// Channel names the source, e.g. "telegram".
	Channel string
	// OwnerID identifies the user. History, tasks and jobs are keyed by it.
	OwnerID string
	// ChatID is where replies and notifications go.
	ChatID      string
	Text        string
	Attachments []models.Attachment
	ReceivedAt  time.Time
}

// Reply is the answer to an Inbound.
type Reply struct {
	Text  string
	Media []models.MediaRef
}

// Runner executes one agent exchange. agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, req *agent.Request, inv *agent.Invocation) *agent.Result
}

// Handler answers inbound messages. Channels depend on this rather than
// on Service.
type Handler interface {
	Handle(ctx context.Context, in Inbound) Reply
}
