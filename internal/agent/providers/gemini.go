package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/agent/toolconv"
	"github.com/haasonsaas/parrot/pkg/models"
)

// GeminiAdapter implements agent.ProviderAdapter for the Gemini API.
//
// Gemini does not always return call IDs, so the adapter synthesizes
// call_<name>_<n> identifiers and echoes them in FunctionResponse parts.
type GeminiAdapter struct {
	client *genai.Client
	config Config
}

type geminiConversation struct {
	model    string
	system   string
	contents []*genai.Content
	calls    int
}

func (c *geminiConversation) Provider() string { return ProviderGemini }

type geminiTools struct {
	tools []*genai.Tool
	names map[string]bool
}

// NewGeminiAdapter creates a Gemini adapter on the Gemini API backend.
func NewGeminiAdapter(cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiAdapter{client: client, config: cfg}, nil
}

// Name returns "gemini".
func (a *GeminiAdapter) Name() string { return ProviderGemini }

// EncodeTools converts definitions to function declarations.
func (a *GeminiAdapter) EncodeTools(defs []agent.ToolDefinition) (agent.ToolDeclarations, error) {
	return &geminiTools{tools: toolconv.ToGeminiTools(defs), names: toolNames(defs)}, nil
}

// NewConversation builds the content list from history plus the user turn.
// Image, audio and video attachments are sent inline.
func (a *GeminiAdapter) NewConversation(req *agent.Request) (agent.Conversation, error) {
	conv := &geminiConversation{model: req.Model, system: req.System}
	if conv.model == "" {
		conv.model = a.config.DefaultModel
	}
	for _, entry := range req.History {
		role := genai.Role(genai.RoleUser)
		if entry.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		conv.contents = append(conv.contents, genai.NewContentFromText(entry.Content, role))
	}

	var parts []*genai.Part
	var notes []string
	for _, att := range req.Attachments {
		if att.IsMedia() && len(att.Data) > 0 {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: geminiMIMEType(att), Data: att.Data}})
			continue
		}
		notes = append(notes, attachmentNote(att))
	}
	text := req.UserText
	if len(notes) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(notes, "\n"))
	}
	if text != "" || len(parts) == 0 {
		parts = append([]*genai.Part{{Text: text}}, parts...)
	}
	conv.contents = append(conv.contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	return conv, nil
}

func geminiMIMEType(att models.Attachment) string {
	if att.MimeType != "" {
		return att.MimeType
	}
	switch att.Kind {
	case models.AttachmentAudio:
		return "audio/ogg"
	case models.AttachmentVideo:
		return "video/mp4"
	default:
		return "image/jpeg"
	}
}

// SendTurn requests the next content.
func (a *GeminiAdapter) SendTurn(ctx context.Context, conv agent.Conversation, tools agent.ToolDeclarations) (*agent.ModelTurn, error) {
	c, ok := conv.(*geminiConversation)
	if !ok {
		return nil, fmt.Errorf("gemini: foreign conversation %T", conv)
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(a.config.maxTokens()),
	}
	if c.system != "" {
		config.SystemInstruction = genai.NewContentFromText(c.system, genai.RoleUser)
	}
	decl, _ := tools.(*geminiTools)
	if decl != nil && len(decl.tools) > 0 {
		config.Tools = decl.tools
	}

	var resp *genai.GenerateContentResponse
	err := Retry(ctx, a.config.Retry, func() error {
		var callErr error
		resp, callErr = a.client.Models.GenerateContent(ctx, c.model, c.contents, config)
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

func (a *GeminiAdapter) parseResponse(c *geminiConversation, resp *genai.GenerateContentResponse, decl *geminiTools) *agent.ModelTurn {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return agent.NewFinalTurn(nil, "")
	}
	content := resp.Candidates[0].Content
	content.Role = genai.RoleModel

	var text strings.Builder
	var calls []agent.ToolCall
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			c.calls++
			if fc.ID == "" {
				fc.ID = fmt.Sprintf("call_%s_%d", fc.Name, c.calls)
			}
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			calls = append(calls, agent.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
		}
	}
	final := text.String()

	if len(calls) == 0 && a.config.EmbeddedToolCalls && decl != nil {
		known := func(name string) bool { return decl.names[name] }
		if call, ok := agent.TryParseEmbeddedCall(final, known); ok {
			c.calls++
			call.ID = fmt.Sprintf("call_%s_%d", call.Name, c.calls)
			final = agent.StripEmbeddedCall(final, known)

			args := map[string]any{}
			_ = json.Unmarshal(call.Arguments, &args)
			var parts []*genai.Part
			if final != "" {
				parts = append(parts, &genai.Part{Text: final})
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args}})
			content = &genai.Content{Role: genai.RoleModel, Parts: parts}
			calls = append(calls, call)
		}
	}

	return agent.NewCallTurn(content, final, calls)
}

// AppendModelTurn appends the model content of turn.
func (a *GeminiAdapter) AppendModelTurn(conv agent.Conversation, turn *agent.ModelTurn) error {
	c, ok := conv.(*geminiConversation)
	if !ok {
		return fmt.Errorf("gemini: foreign conversation %T", conv)
	}
	content, ok := turn.Raw.(*genai.Content)
	if !ok || content == nil {
		return fmt.Errorf("gemini: foreign model turn %T", turn.Raw)
	}
	c.contents = append(c.contents, content)
	return nil
}

// AppendToolResults appends one user content with a FunctionResponse part
// per result, in order.
func (a *GeminiAdapter) AppendToolResults(conv agent.Conversation, results []agent.ToolResult) error {
	c, ok := conv.(*geminiConversation)
	if !ok {
		return fmt.Errorf("gemini: foreign conversation %T", conv)
	}
	if len(results) == 0 {
		return nil
	}
	parts := make([]*genai.Part, 0, len(results))
	for _, res := range results {
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       res.CallID,
			Name:     res.Name,
			Response: geminiResponsePayload(res.Content),
		}})
	}
	c.contents = append(c.contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	return nil
}

// geminiResponsePayload keeps JSON object results structured and wraps
// anything else under "result".
func geminiResponsePayload(content string) map[string]any {
	var obj map[string]any
	if strings.HasPrefix(strings.TrimSpace(content), "{") && json.Unmarshal([]byte(content), &obj) == nil {
		return obj
	}
	return map[string]any{"result": content}
}

func (a *GeminiAdapter) wrapError(err error, model string) error {
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(ProviderGemini, model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Status != "" {
			providerErr.WithCode(apiErr.Status)
		}
		providerErr.WithStatus(apiErr.Code)
		return providerErr
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		if apiErrPtr.Message != "" {
			providerErr.WithMessage(apiErrPtr.Message)
		}
		if apiErrPtr.Status != "" {
			providerErr.WithCode(apiErrPtr.Status)
		}
		providerErr.WithStatus(apiErrPtr.Code)
	}
	return providerErr
}
