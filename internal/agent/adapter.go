package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/parrot/pkg/models"
)

// NoResponseText is the final text used when a provider returns neither
// text nor tool calls, and when a turn budget runs out with no partial text.
const NoResponseText = "(no response)"

// ToolDefinition is the provider-neutral description of a catalog entry.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model-issued request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the invoker output for one call, in the shape adapters
// append back into their conversation.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ModelTurn is the uniform view of one provider response.
//
// Exactly one of Calls (non-empty) or FinalText (non-nil) is populated.
// Text carries any prose the model emitted alongside its calls.
type ModelTurn struct {
	// Raw is the provider-native message, appended verbatim by AppendModelTurn.
	Raw       any
	Calls     []ToolCall
	FinalText *string
	Text      string
}

// HasCalls reports whether the turn requests tool execution.
func (t *ModelTurn) HasCalls() bool {
	return t != nil && len(t.Calls) > 0
}

// NewFinalTurn builds a terminal turn. Empty text becomes NoResponseText.
func NewFinalTurn(raw any, text string) *ModelTurn {
	if text == "" {
		text = NoResponseText
	}
	return &ModelTurn{Raw: raw, FinalText: &text, Text: text}
}

// NewCallTurn builds a turn requesting tool calls. With no calls it
// degrades to a final turn carrying text.
func NewCallTurn(raw any, text string, calls []ToolCall) *ModelTurn {
	if len(calls) == 0 {
		return NewFinalTurn(raw, text)
	}
	return &ModelTurn{Raw: raw, Calls: calls, Text: text}
}

// Request is the input of one exchange.
type Request struct {
	System      string
	Model       string
	History     []*models.HistoryEntry
	UserText    string
	Attachments []models.Attachment
}

// HasMedia reports whether the user turn carries binary media, which rules
// out cross-provider fallback.
func (r *Request) HasMedia() bool {
	if r == nil {
		return false
	}
	for _, a := range r.Attachments {
		if a.IsMedia() {
			return true
		}
	}
	return false
}

// ToolDeclarations holds provider-native tool declarations produced by
// EncodeTools. Only the adapter that produced them may consume them.
type ToolDeclarations any

// Conversation is provider-native conversation state. It is only appended
// to, never rewritten.
type Conversation interface {
	Provider() string
}

// ProviderAdapter translates between the uniform loop model and one LLM
// backend's wire format.
type ProviderAdapter interface {
	// Name identifies the backend (openai, anthropic, gemini).
	Name() string

	// EncodeTools converts catalog definitions into native declarations.
	EncodeTools(defs []ToolDefinition) (ToolDeclarations, error)

	// NewConversation assembles native state from history plus the new user turn.
	NewConversation(req *Request) (Conversation, error)

	// SendTurn asks the model for its next turn. tools may be nil.
	SendTurn(ctx context.Context, conv Conversation, tools ToolDeclarations) (*ModelTurn, error)

	// AppendModelTurn appends the raw model message of turn.
	AppendModelTurn(conv Conversation, turn *ModelTurn) error

	// AppendToolResults appends results, in order, as the next input.
	AppendToolResults(conv Conversation, results []ToolResult) error
}

// SingleShot runs one model call with no tools. It backs background tasks.
func SingleShot(ctx context.Context, adapter ProviderAdapter, prompt, model string) (string, error) {
	conv, err := adapter.NewConversation(&Request{UserText: prompt, Model: model})
	if err != nil {
		return "", err
	}
	turn, err := adapter.SendTurn(ctx, conv, nil)
	if err != nil {
		return "", err
	}
	if turn.FinalText != nil {
		return *turn.FinalText, nil
	}
	if turn.Text != "" {
		return turn.Text, nil
	}
	return NoResponseText, nil
}
