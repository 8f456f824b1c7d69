package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/agent/toolconv"
	"github.com/haasonsaas/parrot/pkg/models"
)

// AnthropicAdapter implements agent.ProviderAdapter for the Anthropic
// Messages API.
//
// The system prompt travels as a separate TextBlockParam, tool_use blocks
// become calls, and all results of a turn are sent back as a single user
// message of tool_result blocks.
type AnthropicAdapter struct {
	client anthropic.Client
	config Config
}

type anthropicConversation struct {
	model    string
	system   string
	messages []anthropic.MessageParam
	calls    int
}

func (c *anthropicConversation) Provider() string { return ProviderAnthropic }

type anthropicTools struct {
	tools []anthropic.ToolUnionParam
	names map[string]bool
}

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	// Retries are driven by Retry, not the SDK.
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(options...),
		config: cfg,
	}, nil
}

// Name returns "anthropic".
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// EncodeTools converts definitions to Anthropic tool params.
func (a *AnthropicAdapter) EncodeTools(defs []agent.ToolDefinition) (agent.ToolDeclarations, error) {
	tools, err := toolconv.ToAnthropicTools(defs)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return &anthropicTools{tools: tools, names: toolNames(defs)}, nil
}

// NewConversation builds the message list from history plus the user turn.
// Consecutive same-role history entries are merged, as the API requires
// alternating roles starting with the user.
func (a *AnthropicAdapter) NewConversation(req *agent.Request) (agent.Conversation, error) {
	conv := &anthropicConversation{model: req.Model, system: req.System}
	if conv.model == "" {
		conv.model = a.config.DefaultModel
	}

	type group struct {
		role  models.Role
		texts []string
	}
	var groups []group
	for _, entry := range req.History {
		role := entry.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		if len(groups) == 0 && role == models.RoleAssistant {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].role == role {
			groups[n-1].texts = append(groups[n-1].texts, entry.Content)
			continue
		}
		groups = append(groups, group{role: role, texts: []string{entry.Content}})
	}

	userText := req.UserText
	if n := len(groups); n > 0 && groups[n-1].role == models.RoleUser {
		userText = strings.Join(append(groups[n-1].texts, userText), "\n\n")
		groups = groups[:n-1]
	}
	for _, g := range groups {
		block := anthropic.NewTextBlock(strings.Join(g.texts, "\n\n"))
		if g.role == models.RoleAssistant {
			conv.messages = append(conv.messages, anthropic.NewAssistantMessage(block))
		} else {
			conv.messages = append(conv.messages, anthropic.NewUserMessage(block))
		}
	}
	conv.messages = append(conv.messages, anthropicUserMessage(userText, req.Attachments))
	return conv, nil
}

func anthropicUserMessage(text string, attachments []models.Attachment) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	var notes []string
	for _, att := range attachments {
		if mediaType, ok := anthropicImageType(att.MimeType); ok && att.Kind == models.AttachmentImage && len(att.Data) > 0 {
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(att.Data)))
			continue
		}
		notes = append(notes, attachmentNote(att))
	}
	if len(notes) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(notes, "\n"))
	}
	if text != "" || len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	return anthropic.NewUserMessage(blocks...)
}

func anthropicImageType(mime string) (string, bool) {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg", "":
		return "image/jpeg", true
	case "image/png":
		return "image/png", true
	case "image/gif":
		return "image/gif", true
	case "image/webp":
		return "image/webp", true
	default:
		return "", false
	}
}

// SendTurn requests the next message.
func (a *AnthropicAdapter) SendTurn(ctx context.Context, conv agent.Conversation, tools agent.ToolDeclarations) (*agent.ModelTurn, error) {
	c, ok := conv.(*anthropicConversation)
	if !ok {
		return nil, fmt.Errorf("anthropic: foreign conversation %T", conv)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  c.messages,
		MaxTokens: int64(a.config.maxTokens()),
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	decl, _ := tools.(*anthropicTools)
	if decl != nil && len(decl.tools) > 0 {
		params.Tools = decl.tools
	}

	var msg *anthropic.Message
	err := Retry(ctx, a.config.Retry, func() error {
		var callErr error
		msg, callErr = a.client.Messages.New(ctx, params)
		if callErr != nil {
			return a.wrapError(callErr, c.model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.parseMessage(c, msg, decl), nil
}

func (a *AnthropicAdapter) parseMessage(c *anthropicConversation, msg *anthropic.Message, decl *anthropicTools) *agent.ModelTurn {
	if msg == nil || len(msg.Content) == 0 {
		return agent.NewFinalTurn(nil, "")
	}

	var text strings.Builder
	var calls []agent.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage("{}")
			}
			calls = append(calls, agent.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	raw := msg.ToParam()
	content := text.String()

	if len(calls) == 0 && a.config.EmbeddedToolCalls && decl != nil {
		known := func(name string) bool { return decl.names[name] }
		if call, ok := agent.TryParseEmbeddedCall(content, known); ok {
			c.calls++
			call.ID = embeddedCallID(c.calls)
			content = agent.StripEmbeddedCall(content, known)

			var input any = map[string]any{}
			_ = json.Unmarshal(call.Arguments, &input)
			blocks := []anthropic.ContentBlockParamUnion{}
			if content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(content))
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			raw = anthropic.NewAssistantMessage(blocks...)
			calls = append(calls, call)
		}
	}

	return agent.NewCallTurn(raw, content, calls)
}

// AppendModelTurn appends the assistant message of turn.
func (a *AnthropicAdapter) AppendModelTurn(conv agent.Conversation, turn *agent.ModelTurn) error {
	c, ok := conv.(*anthropicConversation)
	if !ok {
		return fmt.Errorf("anthropic: foreign conversation %T", conv)
	}
	msg, ok := turn.Raw.(anthropic.MessageParam)
	if !ok {
		return fmt.Errorf("anthropic: foreign model turn %T", turn.Raw)
	}
	c.messages = append(c.messages, msg)
	return nil
}

// AppendToolResults appends one user message carrying a tool_result block
// per result, in order.
func (a *AnthropicAdapter) AppendToolResults(conv agent.Conversation, results []agent.ToolResult) error {
	c, ok := conv.(*anthropicConversation)
	if !ok {
		return fmt.Errorf("anthropic: foreign conversation %T", conv)
	}
	if len(results) == 0 {
		return nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, res := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, isErrorPayload(res.Content)))
	}
	c.messages = append(c.messages, anthropic.NewUserMessage(blocks...))
	return nil
}

// isErrorPayload reports whether content is a structured tool error.
func isErrorPayload(content string) bool {
	if !strings.HasPrefix(content, "{") {
		return false
	}
	var probe struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	return json.Unmarshal([]byte(content), &probe) == nil && probe.Error != "" && probe.Message != ""
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) wrapError(err error, model string) error {
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(ProviderAnthropic, model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr.WithCode(payload.Error.Type)
				}
			}
		}
		providerErr.WithStatus(apiErr.StatusCode)
	}
	return providerErr
}
