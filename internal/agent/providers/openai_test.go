package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/pkg/models"
)

// openaiServer replies to chat completions with the queued bodies in order
// and records each decoded request.
type openaiServer struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests []openai.ChatCompletionRequest
}

func (s *openaiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	var req openai.ChatCompletionRequest
	_ = json.Unmarshal(body, &req)
	s.requests = append(s.requests, req)

	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
		return
	}
	reply := `{"choices":[{"message":{"role":"assistant","content":""}}]}`
	if len(s.replies) > 0 {
		reply, s.replies = s.replies[0], s.replies[1:]
	}
	_, _ = w.Write([]byte(reply))
}

func newTestOpenAI(t *testing.T, srv *openaiServer, embedded bool) *OpenAIAdapter {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	adapter, err := NewOpenAIAdapter(Config{
		APIKey:            "test",
		BaseURL:           ts.URL,
		EmbeddedToolCalls: embedded,
		Retry:             RetryPolicy{MaxRetries: 0, Delay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewOpenAIAdapter: %v", err)
	}
	return adapter
}

var searchDefs = []agent.ToolDefinition{{
	Name:        "web_search",
	Description: "Search the web",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
}}

func TestOpenAIAdapter_ToolRoundTrip(t *testing.T) {
	srv := &openaiServer{replies: []string{
		`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"go\"}"}}]}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":"Go is a language."}}]}`,
	}}
	adapter := newTestOpenAI(t, srv, false)
	ctx := context.Background()

	tools, err := adapter.EncodeTools(searchDefs)
	if err != nil {
		t.Fatalf("EncodeTools: %v", err)
	}
	conv, err := adapter.NewConversation(&agent.Request{
		System:   "be brief",
		History:  []*models.HistoryEntry{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}},
		UserText: "what is go?",
	})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}

	turn, err := adapter.SendTurn(ctx, conv, tools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if !turn.HasCalls() || turn.Calls[0].ID != "call_1" || turn.Calls[0].Name != "web_search" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if string(turn.Calls[0].Arguments) != `{"query":"go"}` {
		t.Fatalf("arguments = %s", turn.Calls[0].Arguments)
	}

	if err := adapter.AppendModelTurn(conv, turn); err != nil {
		t.Fatalf("AppendModelTurn: %v", err)
	}
	if err := adapter.AppendToolResults(conv, []agent.ToolResult{{CallID: "call_1", Name: "web_search", Content: `{"results":[]}`}}); err != nil {
		t.Fatalf("AppendToolResults: %v", err)
	}
	final, err := adapter.SendTurn(ctx, conv, tools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if final.FinalText == nil || *final.FinalText != "Go is a language." {
		t.Fatalf("unexpected final turn: %+v", final)
	}

	if len(srv.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(srv.requests))
	}
	first := srv.requests[0]
	if len(first.Tools) != 1 || first.Tools[0].Function.Name != "web_search" {
		t.Fatalf("tools not declared: %+v", first.Tools)
	}
	roles := []string{}
	for _, m := range srv.requests[1].Messages {
		roles = append(roles, m.Role)
	}
	want := "system,user,assistant,user,assistant,tool"
	if strings.Join(roles, ",") != want {
		t.Fatalf("roles = %s, want %s", strings.Join(roles, ","), want)
	}
	last := srv.requests[1].Messages[5]
	if last.ToolCallID != "call_1" || last.Content != `{"results":[]}` {
		t.Fatalf("unexpected tool message: %+v", last)
	}
}

func TestOpenAIAdapter_EmptyResponse(t *testing.T) {
	adapter := newTestOpenAI(t, &openaiServer{}, false)
	conv, _ := adapter.NewConversation(&agent.Request{UserText: "hi"})
	turn, err := adapter.SendTurn(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if turn.FinalText == nil || *turn.FinalText != agent.NoResponseText {
		t.Fatalf("expected %q, got %+v", agent.NoResponseText, turn)
	}
}

func TestOpenAIAdapter_EmbeddedCall(t *testing.T) {
	srv := &openaiServer{replies: []string{
		`{"choices":[{"message":{"role":"assistant","content":"Let me check. {\"name\": \"web_search\", \"arguments\": {\"query\": \"weather\"}}"}}]}`,
	}}
	adapter := newTestOpenAI(t, srv, true)
	tools, _ := adapter.EncodeTools(searchDefs)
	conv, _ := adapter.NewConversation(&agent.Request{UserText: "weather?"})

	turn, err := adapter.SendTurn(context.Background(), conv, tools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if !turn.HasCalls() || turn.Calls[0].Name != "web_search" || turn.Calls[0].ID != "call_embedded_1" {
		t.Fatalf("expected embedded call, got %+v", turn)
	}
	msg, ok := turn.Raw.(openai.ChatCompletionMessage)
	if !ok || len(msg.ToolCalls) != 1 || strings.Contains(msg.Content, "web_search") {
		t.Fatalf("raw message should carry the synthesized call without the JSON text: %+v", turn.Raw)
	}
}

func TestOpenAIAdapter_ErrorClassification(t *testing.T) {
	adapter := newTestOpenAI(t, &openaiServer{status: http.StatusTooManyRequests}, false)
	conv, _ := adapter.NewConversation(&agent.Request{UserText: "hi"})
	_, err := adapter.SendTurn(context.Background(), conv, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.Kind != agent.FailureQuota || perr.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected error: %+v", perr)
	}
}

func TestOpenAIAdapter_ImageAttachment(t *testing.T) {
	msg := openaiUserMessage("look", []models.Attachment{
		{Kind: models.AttachmentImage, MimeType: "image/png", Data: []byte{1, 2, 3}},
		{Kind: models.AttachmentDocument, Filename: "notes.pdf"},
	})
	if len(msg.MultiContent) != 2 {
		t.Fatalf("expected text + image parts, got %+v", msg.MultiContent)
	}
	if !strings.Contains(msg.MultiContent[0].Text, "[attached document: notes.pdf]") {
		t.Fatalf("document note missing: %q", msg.MultiContent[0].Text)
	}
	if !strings.HasPrefix(msg.MultiContent[1].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("unexpected image url: %s", msg.MultiContent[1].ImageURL.URL)
	}
}
