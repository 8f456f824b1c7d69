package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/pkg/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []*agent.Request
	invs     []*agent.Invocation
	result   *agent.Result
	delay    time.Duration
	active   atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeRunner) Run(ctx context.Context, req *agent.Request, inv *agent.Invocation) *agent.Result {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.invs = append(f.invs, inv)
	if f.result != nil {
		return f.result
	}
	return &agent.Result{Text: "echo: " + req.UserText, Provider: "fake", Turns: 1}
}

func newTestService(t *testing.T, runner *fakeRunner, config Config) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewService(runner, store, config), store
}

func TestService_HandleRecordsHistory(t *testing.T) {
	runner := &fakeRunner{}
	svc, store := newTestService(t, runner, Config{SystemPrompt: "be brief", Admins: []string{"1"}})
	ctx := context.Background()

	reply := svc.Handle(ctx, Inbound{Channel: "telegram", OwnerID: "1", ChatID: "1", Text: "  hello  "})
	if reply.Text != "echo: hello" {
		t.Fatalf("reply = %q", reply.Text)
	}
	svc.Handle(ctx, Inbound{Channel: "telegram", OwnerID: "1", ChatID: "1", Text: "again"})

	if len(runner.requests) != 2 {
		t.Fatalf("runner called %d times", len(runner.requests))
	}
	second := runner.requests[1]
	if second.System != "be brief" || len(second.History) != 2 {
		t.Fatalf("second request = %+v", second)
	}
	if second.History[0].Role != models.RoleUser || second.History[0].Content != "hello" ||
		second.History[1].Role != models.RoleAssistant || second.History[1].Content != "echo: hello" {
		t.Fatalf("history = %+v, %+v", second.History[0], second.History[1])
	}
	if inv := runner.invs[0]; inv.CallerID != "1" || inv.ChatID != "1" || !inv.IsAdmin {
		t.Fatalf("invocation = %+v", inv)
	}

	all, _ := store.RecentHistory(ctx, "1", 0)
	if len(all) != 4 {
		t.Fatalf("stored %d entries, want 4", len(all))
	}
}

func TestService_FailedExchangeIsNotRecorded(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Text: "The model is unavailable right now.", Failure: agent.FailureServer}}
	svc, store := newTestService(t, runner, Config{})

	reply := svc.Handle(context.Background(), Inbound{Channel: "telegram", OwnerID: "9", Text: "hi"})
	if reply.Text == "" {
		t.Fatal("failure should still produce a reply")
	}
	got, _ := store.RecentHistory(context.Background(), "9", 10)
	if len(got) != 0 {
		t.Fatalf("failed exchange stored %d entries", len(got))
	}
}

func TestService_AttachmentOnlyMessage(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Text: "a cat", Media: []models.MediaRef{{Kind: models.MediaImage, Path: "/tmp/x.png"}}}}
	svc, store := newTestService(t, runner, Config{})

	reply := svc.Handle(context.Background(), Inbound{
		OwnerID:     "5",
		Attachments: []models.Attachment{{Kind: models.AttachmentImage, MimeType: "image/jpeg", Data: []byte{0xff}}},
	})
	if len(reply.Media) != 1 || reply.Text != "a cat" {
		t.Fatalf("reply = %+v", reply)
	}
	if !runner.requests[0].HasMedia() {
		t.Fatal("request should carry the attachment")
	}
	got, _ := store.RecentHistory(context.Background(), "5", 10)
	if len(got) == 0 || got[0].Content != "[image]" {
		t.Fatalf("history = %+v", got)
	}
}

func TestService_AllowedUsers(t *testing.T) {
	runner := &fakeRunner{}
	svc, _ := newTestService(t, runner, Config{AllowedUsers: []string{"1"}, Admins: []string{"2"}})

	if reply := svc.Handle(context.Background(), Inbound{OwnerID: "3", Text: "hi"}); reply.Text != privateBotReply {
		t.Fatalf("stranger reply = %q", reply.Text)
	}
	svc.Handle(context.Background(), Inbound{OwnerID: "1", Text: "hi"})
	svc.Handle(context.Background(), Inbound{OwnerID: "2", Text: "hi"})
	if len(runner.requests) != 2 {
		t.Fatalf("runner called %d times, want 2", len(runner.requests))
	}
}

func TestService_SerializesPerOwner(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	svc, _ := newTestService(t, runner, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Handle(context.Background(), Inbound{OwnerID: "1", Text: "hi"})
		}()
	}
	wg.Wait()
	if runner.overlap.Load() {
		t.Fatal("exchanges of one owner overlapped")
	}
	if len(svc.locks) != 0 {
		t.Fatalf("owner locks leaked: %d", len(svc.locks))
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args string
		ok   bool
	}{
		{"/help", "help", "", true},
		{"/Reset@ParrotBot", "reset", "", true},
		{"/tasks  all ", "tasks", "all", true},
		{"hello /help", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if name != tt.name || args != tt.args || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.text, name, args, ok)
		}
	}
}

func TestService_Commands(t *testing.T) {
	runner := &fakeRunner{}
	svc, store := newTestService(t, runner, Config{})
	ctx := context.Background()

	if reply := svc.Handle(ctx, Inbound{OwnerID: "1", Text: "/help"}); !strings.Contains(reply.Text, "/reset") {
		t.Fatalf("help = %q", reply.Text)
	}
	if reply := svc.Handle(ctx, Inbound{OwnerID: "1", Text: "/reset"}); !strings.Contains(reply.Text, "already empty") {
		t.Fatalf("reset on empty = %q", reply.Text)
	}

	_ = store.AppendHistory(ctx,
		&models.HistoryEntry{OwnerID: "1", Role: models.RoleUser, Content: "a"},
		&models.HistoryEntry{OwnerID: "1", Role: models.RoleAssistant, Content: "b"},
	)
	if reply := svc.Handle(ctx, Inbound{OwnerID: "1", Text: "/reset@ParrotBot"}); reply.Text != "Conversation cleared (2 messages)." {
		t.Fatalf("reset = %q", reply.Text)
	}
	if reply := svc.Handle(ctx, Inbound{OwnerID: "1", Text: "/tasks"}); !strings.Contains(reply.Text, "not enabled") {
		t.Fatalf("tasks = %q", reply.Text)
	}

	// Unknown commands go to the agent.
	svc.Handle(ctx, Inbound{OwnerID: "1", Text: "/weather Paris"})
	if len(runner.requests) != 1 || runner.requests[0].UserText != "/weather Paris" {
		t.Fatalf("runner requests = %d", len(runner.requests))
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	help := helpCommand(context.Background(), nil, Inbound{}, "")
	for _, name := range []string{"start", "help", "reset", "tasks", "jobs"} {
		cmd, ok := lookupCommand(name)
		if !ok || cmd.Name != name {
			t.Fatalf("lookupCommand(%q) = %v, %v", name, cmd, ok)
		}
		if !strings.Contains(help, "/"+name+" - "+cmd.Description) {
			t.Errorf("help text is missing /%s:\n%s", name, help)
		}
	}
	if cmd, ok := lookupCommand("clear"); !ok || cmd.Name != "reset" {
		t.Errorf("alias clear resolved to %v", cmd)
	}
}

func TestServer_HealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	srv := NewServer(ServerConfig{Gatherer: reg, Metrics: metrics})
	srv.Handle("/hook", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Fatalf("healthz body = %v, %v", body, err)
	}
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/hook", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("hook status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
