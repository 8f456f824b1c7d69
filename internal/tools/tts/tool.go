package tts

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Args are the text_to_speech parameters.
type Args struct {
	Text  string `json:"text" jsonschema:"required" jsonschema_description:"Text to speak"`
	Voice string `json:"voice,omitempty" jsonschema:"enum=alloy,enum=echo,enum=fable,enum=onyx,enum=nova,enum=shimmer" jsonschema_description:"Voice to use"`
}

// Tool is the text_to_speech catalog entry. The audio is delivered to the
// user as a voice message; the model only sees a confirmation.
type Tool struct {
	synth *Synthesizer
}

// NewTool wraps a synthesizer.
func NewTool(synth *Synthesizer) *Tool {
	return &Tool{synth: synth}
}

func (t *Tool) Name() string { return "text_to_speech" }

func (t *Tool) Description() string {
	return "Convert text to spoken audio and send it to the user as a voice message."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

// ConcurrentSafe is true: each call writes its own file.
func (t *Tool) ConcurrentSafe() bool { return true }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, _ *agent.Invocation) (string, error) {
	if t.synth == nil {
		return "", agent.NewToolError(agent.ToolErrorUnavailable, "text to speech is not configured")
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
	}
	args.Text = strings.TrimSpace(args.Text)
	if args.Text == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "text is required")
	}
	if args.Voice != "" && !IsVoice(args.Voice) {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unknown voice %q", args.Voice)
	}

	path, err := t.synth.Synthesize(ctx, args.Text, args.Voice)
	if err != nil {
		return "", agent.Errorf(agent.ToolErrorExecution, "%v", err).WithCause(err)
	}

	voice := args.Voice
	if voice == "" {
		voice = t.synth.config.Voice
	}
	return agent.AttachMedia(map[string]any{
		"status":     "sent",
		"voice":      voice,
		"characters": utf8.RuneCountInString(args.Text),
	}, models.MediaRef{
		Kind:     models.MediaAudio,
		Path:     path,
		MimeType: "audio/mpeg",
	})
}
