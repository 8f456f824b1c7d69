// Package outbound defines the notification channel used to push messages
// to users outside of a live exchange.
package outbound

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/haasonsaas/parrot/pkg/models"
)

// Message is a text notification with optional media.
type Message struct {
	Text  string
	Media []models.MediaRef
}

// Notifier delivers a message to a recipient identity. Recipients are
// channel-specific (a Telegram chat id, for example).
type Notifier interface {
	Notify(ctx context.Context, recipient string, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipient string, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, recipient string, msg Message) error {
	return f(ctx, recipient, msg)
}

// LogNotifier writes notifications to a logger. It is used when no
// messaging channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, recipient string, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"recipient", recipient,
		"text", Truncate(msg.Text, 200),
		"media", len(msg.Media))
	return nil
}

// Truncate shortens text to at most max runes, marking the cut with an
// ellipsis. A non-positive max leaves text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	if max <= 3 {
		return string([]rune(text)[:max])
	}
	return string([]rune(text)[:max-3]) + "..."
}
