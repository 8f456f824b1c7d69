package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/agent/toolconv"
	"github.com/haasonsaas/parrot/pkg/models"
)

// OpenAIAdapter implements agent.ProviderAdapter for OpenAI chat completions.
//
// Key differences from the Anthropic adapter:
//   - System messages are included in the messages array (not separate)
//   - Tool results require separate messages (one per tool call)
//   - Vision support uses the multi-content message format
//
// BaseURL lets the adapter talk to any OpenAI-compatible server.
type OpenAIAdapter struct {
	client *openai.Client
	config Config
}

type openaiConversation struct {
	model    string
	messages []openai.ChatCompletionMessage
	calls    int
}

func (c *openaiConversation) Provider() string { return ProviderOpenAI }

type openaiTools struct {
	tools []openai.Tool
	names map[string]bool
}

// NewOpenAIAdapter creates an OpenAI adapter. An API key is required unless
// BaseURL points at a compatible server.
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Name returns "openai".
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

// EncodeTools converts definitions to OpenAI function tools.
func (a *OpenAIAdapter) EncodeTools(defs []agent.ToolDefinition) (agent.ToolDeclarations, error) {
	return &openaiTools{tools: toolconv.ToOpenAITools(defs), names: toolNames(defs)}, nil
}

// NewConversation builds the message list: system prompt, history, then the
// user turn with any images as data URLs.
func (a *OpenAIAdapter) NewConversation(req *agent.Request) (agent.Conversation, error) {
	conv := &openaiConversation{model: req.Model}
	if conv.model == "" {
		conv.model = a.config.DefaultModel
	}
	if req.System != "" {
		conv.messages = append(conv.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, entry := range req.History {
		role := openai.ChatMessageRoleUser
		if entry.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		conv.messages = append(conv.messages, openai.ChatCompletionMessage{Role: role, Content: entry.Content})
	}
	conv.messages = append(conv.messages, openaiUserMessage(req.UserText, req.Attachments))
	return conv, nil
}

func openaiUserMessage(text string, attachments []models.Attachment) openai.ChatCompletionMessage {
	var parts []openai.ChatMessagePart
	var notes []string
	for _, att := range attachments {
		if att.Kind == models.AttachmentImage && len(att.Data) > 0 {
			mime := att.MimeType
			if mime == "" {
				mime = "image/jpeg"
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(att.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		notes = append(notes, attachmentNote(att))
	}
	if len(notes) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(notes, "\n"))
	}
	if len(parts) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}
	if text != "" {
		parts = append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}, parts...)
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// SendTurn requests the next chat completion.
func (a *OpenAIAdapter) SendTurn(ctx context.Context, conv agent.Conversation, tools agent.ToolDeclarations) (*agent.ModelTurn, error) {
	c, ok := conv.(*openaiConversation)
	if !ok {
		return nil, fmt.Errorf("openai: foreign conversation %T", conv)
	}
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  c.messages,
		MaxTokens: a.config.maxTokens(),
	}
	decl, _ := tools.(*openaiTools)
	if decl != nil && len(decl.tools) > 0 {
		req.Tools = decl.tools
	}

	var resp openai.ChatCompletionResponse
	err := Retry(ctx, a.config.Retry, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return a.wrapError(callErr, c.model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.parseResponse(c, resp, decl), nil
}

func (a *OpenAIAdapter) parseResponse(c *openaiConversation, resp openai.ChatCompletionResponse, decl *openaiTools) *agent.ModelTurn {
	if len(resp.Choices) == 0 {
		return agent.NewFinalTurn(nil, "")
	}
	msg := resp.Choices[0].Message
	msg.Role = openai.ChatMessageRoleAssistant

	calls := make([]agent.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(strings.TrimSpace(tc.Function.Arguments)) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, agent.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	if len(calls) == 0 && a.config.EmbeddedToolCalls && decl != nil {
		known := func(name string) bool { return decl.names[name] }
		if call, ok := agent.TryParseEmbeddedCall(msg.Content, known); ok {
			c.calls++
			call.ID = embeddedCallID(c.calls)
			msg.Content = agent.StripEmbeddedCall(msg.Content, known)
			msg.ToolCalls = []openai.ToolCall{{
				ID:       call.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: call.Name, Arguments: string(call.Arguments)},
			}}
			calls = append(calls, call)
		}
	}

	return agent.NewCallTurn(msg, msg.Content, calls)
}

// AppendModelTurn appends the assistant message of turn.
func (a *OpenAIAdapter) AppendModelTurn(conv agent.Conversation, turn *agent.ModelTurn) error {
	c, ok := conv.(*openaiConversation)
	if !ok {
		return fmt.Errorf("openai: foreign conversation %T", conv)
	}
	msg, ok := turn.Raw.(openai.ChatCompletionMessage)
	if !ok {
		return fmt.Errorf("openai: foreign model turn %T", turn.Raw)
	}
	c.messages = append(c.messages, msg)
	return nil
}

// AppendToolResults appends one tool message per result, in order.
func (a *OpenAIAdapter) AppendToolResults(conv agent.Conversation, results []agent.ToolResult) error {
	c, ok := conv.(*openaiConversation)
	if !ok {
		return fmt.Errorf("openai: foreign conversation %T", conv)
	}
	for _, res := range results {
		c.messages = append(c.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    res.Content,
			Name:       res.Name,
			ToolCallID: res.CallID,
		})
	}
	return nil
}

func (a *OpenAIAdapter) wrapError(err error, model string) error {
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(ProviderOpenAI, model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr.WithCode(code)
		}
		if apiErr.HTTPStatusCode != 0 {
			providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		return providerErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		providerErr.WithStatus(reqErr.HTTPStatusCode)
	}
	return providerErr
}
