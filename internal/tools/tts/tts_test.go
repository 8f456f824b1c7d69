package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
)

func TestDefaultConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Model != "tts-1" || cfg.Voice != "alloy" || cfg.Speed != 1.0 || cfg.MaxTextLength != 4096 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Timeout != 30*time.Second || cfg.RetainFor != time.Hour || cfg.OutputDir == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{APIKey: "k", Voice: "nova", Speed: 1}, false},
		{"missing key", Config{Voice: "nova", Speed: 1}, true},
		{"speed too high", Config{APIKey: "k", Voice: "nova", Speed: 5}, true},
		{"unknown voice", Config{APIKey: "k", Voice: "robot", Speed: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newSpeechServer(t *testing.T, got *speechRequest, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTool_ProducesAudioMedia(t *testing.T) {
	var req speechRequest
	srv := newSpeechServer(t, &req, http.StatusOK)
	dir := t.TempDir()
	tool := NewTool(NewSynthesizer(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", OutputDir: dir}))

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"text":" Hello there ","voice":"nova"}`), &agent.Invocation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if req.Model != "tts-1" || req.Voice != "nova" || req.Input != "Hello there" || req.ResponseFormat != "mp3" {
		t.Fatalf("unexpected speech request: %+v", req)
	}

	var payload struct {
		Status     string `json:"status"`
		Voice      string `json:"voice"`
		Characters int    `json:"characters"`
		Media      struct {
			Kind     string `json:"kind"`
			Path     string `json:"path"`
			MimeType string `json:"mime_type"`
		} `json:"_media"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if payload.Status != "sent" || payload.Voice != "nova" || payload.Characters != 11 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Media.Kind != "audio" || payload.Media.MimeType != "audio/mpeg" || filepath.Dir(payload.Media.Path) != dir {
		t.Fatalf("unexpected media: %+v", payload.Media)
	}
	data, err := os.ReadFile(payload.Media.Path)
	if err != nil || string(data) != "ID3fake-mp3" {
		t.Fatalf("audio file = %q, %v", data, err)
	}
}

func TestSynthesizer_TruncatesAndPrunes(t *testing.T) {
	var req speechRequest
	srv := newSpeechServer(t, &req, http.StatusOK)
	dir := t.TempDir()

	stale := filepath.Join(dir, "tts-old.mp3")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	synth := NewSynthesizer(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", OutputDir: dir, MaxTextLength: 5})
	if _, err := synth.Synthesize(context.Background(), "héllo world", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if req.Input != "héllo" || req.Voice != "alloy" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file to be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated file should survive: %v", err)
	}
}

func TestTool_Errors(t *testing.T) {
	srv := newSpeechServer(t, nil, http.StatusInternalServerError)
	tool := NewTool(NewSynthesizer(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", OutputDir: t.TempDir()}))

	tests := []struct {
		args string
		kind agent.ToolErrorKind
	}{
		{`{"text":""}`, agent.ToolErrorInvalidArguments},
		{`{"text":"hi","voice":"robot"}`, agent.ToolErrorInvalidArguments},
		{`{"text":"hi"}`, agent.ToolErrorExecution},
	}
	for _, tt := range tests {
		_, err := tool.Execute(context.Background(), json.RawMessage(tt.args), nil)
		toolErr, ok := agent.GetToolError(err)
		if !ok || toolErr.Kind != tt.kind {
			t.Errorf("Execute(%s) = %v, want kind %s", tt.args, err, tt.kind)
		}
	}

	_, err := NewTool(nil).Execute(context.Background(), json.RawMessage(`{"text":"hi"}`), nil)
	if toolErr, ok := agent.GetToolError(err); !ok || toolErr.Kind != agent.ToolErrorUnavailable {
		t.Errorf("expected unavailable without synthesizer, got %v", err)
	}
}

func TestAvailableVoices(t *testing.T) {
	voices := AvailableVoices()
	if len(voices) != 6 || !strings.Contains(strings.Join(voices, ","), "shimmer") {
		t.Fatalf("unexpected voices %v", voices)
	}
}
