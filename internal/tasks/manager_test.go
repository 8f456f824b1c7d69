package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/pkg/models"
)

// gateCompleter blocks every call until release is closed or the context ends.
type gateCompleter struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	release chan struct{}
	result  string
	err     error
}

func newGate() *gateCompleter {
	return &gateCompleter{release: make(chan struct{}), result: "the answer"}
}

func (c *gateCompleter) Complete(ctx context.Context, prompt, model string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.models = append(c.models, model)
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.release:
		return c.result, c.err
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []outbound.Message
	to   []string
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient string, msg outbound.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	n.to = append(n.to, recipient)
	return n.err
}

func (n *recordingNotifier) messages() []outbound.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]outbound.Message(nil), n.sent...)
}

func newTestManager(t *testing.T, completer Completer, cfg Config) (*Manager, *storage.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	m := NewManager(store, completer, notifier, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, store, notifier
}

// waitForStatus polls the store until the task reaches status.
func waitForStatus(t *testing.T, store storage.TaskStore, id string, status models.TaskStatus) *models.BackgroundTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), id)
		if err == nil && task.Status == status {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := store.GetTask(context.Background(), id)
	t.Fatalf("task %s never reached %s, last seen %+v", id, status, task)
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxPerOwner != 5 {
		t.Errorf("MaxPerOwner = %d, want 5", cfg.MaxPerOwner)
	}
	if cfg.DefaultTimeout != 120*time.Second {
		t.Errorf("DefaultTimeout = %v, want 120s", cfg.DefaultTimeout)
	}
	if cfg.MaxTimeout != 600*time.Second {
		t.Errorf("MaxTimeout = %v, want 600s", cfg.MaxTimeout)
	}
	if cfg.ResultMaxChars != 4000 {
		t.Errorf("ResultMaxChars = %d, want 4000", cfg.ResultMaxChars)
	}
	if cfg.RecentWindow != 24*time.Hour {
		t.Errorf("RecentWindow = %v, want 24h", cfg.RecentWindow)
	}
}

func TestManager_TimeoutFor(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil, nil, Config{})
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, 120 * time.Second},
		{-5, 120 * time.Second},
		{30, 30 * time.Second},
		{600, 600 * time.Second},
		{3600, 600 * time.Second},
	}
	for _, tt := range tests {
		if got := m.timeoutFor(tt.seconds); got != tt.want {
			t.Errorf("timeoutFor(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestManager_SpawnCompletes(t *testing.T) {
	gate := newGate()
	m, store, notifier := newTestManager(t, gate, Config{})
	ctx := context.Background()

	task, err := m.Spawn(ctx, SpawnRequest{Instructions: "summarize the news", Label: "news", OwnerID: "42", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(task.ID) != 8 || task.Status != models.TaskRunning || task.TimeoutSeconds != 120 {
		t.Fatalf("unexpected spawned task: %+v", task)
	}
	row, err := store.GetTask(ctx, task.ID)
	if err != nil || row.Status != models.TaskRunning {
		t.Fatalf("expected persisted running row, got %+v, %v", row, err)
	}

	close(gate.release)
	done := waitForStatus(t, store, task.ID, models.TaskCompleted)
	if done.ResultText != "the answer" || done.CompletedAt == nil {
		t.Fatalf("unexpected completed row: %+v", done)
	}
	if len(m.Running("")) != 0 {
		t.Fatal("handle should be released once the task completes")
	}

	deadline := time.Now().Add(time.Second)
	for len(notifier.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Text, `Background task "news" finished`) || !strings.Contains(msgs[0].Text, "the answer") {
		t.Fatalf("unexpected notification: %+v", msgs)
	}
	if gate.models[0] != "gpt-4o" || gate.prompts[0] != "summarize the news" {
		t.Fatalf("completer got prompt %q model %q", gate.prompts[0], gate.models[0])
	}
}

func TestManager_SpawnValidation(t *testing.T) {
	m, _, _ := newTestManager(t, newGate(), Config{})
	ctx := context.Background()
	if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "  ", OwnerID: "1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty instructions, got %v", err)
	}
	if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing owner, got %v", err)
	}
}

func TestManager_CapacityPerOwner(t *testing.T) {
	m, store, _ := newTestManager(t, newGate(), Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "work", OwnerID: "owner"}); err != nil {
			t.Fatalf("Spawn %d: %v", i, err)
		}
	}
	if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "one too many", OwnerID: "owner"}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	rows, _ := store.ListTasks(ctx, storage.TaskFilter{OwnerID: "owner"})
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "other owner", OwnerID: "someone-else"}); err != nil {
		t.Fatalf("cap must be per owner: %v", err)
	}
}

func TestManager_CancelRunning(t *testing.T) {
	m, store, notifier := newTestManager(t, newGate(), Config{})
	ctx := context.Background()

	task, _ := m.Spawn(ctx, SpawnRequest{Instructions: "slow", OwnerID: "1"})
	if !m.Cancel(ctx, task.ID) {
		t.Fatal("Cancel should report a live task")
	}
	row := waitForStatus(t, store, task.ID, models.TaskCancelled)
	if row.ResultText != "cancelled" {
		t.Fatalf("ResultText = %q, want cancelled", row.ResultText)
	}
	if len(m.Running("1")) != 0 {
		t.Fatal("handle should be gone after cancel")
	}
	if m.Cancel(ctx, task.ID) {
		t.Fatal("second Cancel should be a no-op")
	}
	time.Sleep(20 * time.Millisecond)
	if len(notifier.messages()) != 0 {
		t.Fatalf("explicit cancel should not notify, got %+v", notifier.messages())
	}
}

func TestManager_CancelCompletedIsNoop(t *testing.T) {
	gate := newGate()
	close(gate.release)
	m, store, _ := newTestManager(t, gate, Config{})
	ctx := context.Background()

	task, _ := m.Spawn(ctx, SpawnRequest{Instructions: "quick", OwnerID: "1"})
	before := waitForStatus(t, store, task.ID, models.TaskCompleted)

	if m.Cancel(ctx, task.ID) {
		t.Fatal("Cancel on a completed task must return false")
	}
	after, _ := store.GetTask(ctx, task.ID)
	if after.Status != models.TaskCompleted || after.ResultText != before.ResultText || !after.CompletedAt.Equal(*before.CompletedAt) {
		t.Fatalf("row changed: before %+v after %+v", before, after)
	}
}

func TestManager_CancelAll(t *testing.T) {
	m, _, _ := newTestManager(t, newGate(), Config{})
	ctx := context.Background()
	for _, owner := range []string{"a", "a", "b"} {
		if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "w", OwnerID: owner}); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}
	if n := m.CancelAll(ctx, "a"); n != 2 {
		t.Fatalf("CancelAll(a) = %d, want 2", n)
	}
	if len(m.Running("b")) != 1 {
		t.Fatal("owner b's task should survive")
	}
	if n := m.CancelAll(ctx, AllOwners); n != 1 {
		t.Fatalf("CancelAll(all) = %d, want 1", n)
	}
}

func TestManager_Steer(t *testing.T) {
	gate := newGate()
	m, store, _ := newTestManager(t, gate, Config{})
	ctx := context.Background()

	orig, _ := m.Spawn(ctx, SpawnRequest{Instructions: "research go", Label: "research", OwnerID: "1", Model: "m1", TimeoutSeconds: 300})
	next, err := m.Steer(ctx, orig.ID, "focus on generics")
	if err != nil {
		t.Fatalf("Steer: %v", err)
	}
	if next.ID == orig.ID {
		t.Fatal("steered task needs a new id")
	}

	old := waitForStatus(t, store, orig.ID, models.TaskCancelled)
	if old.ResultText != "superseded by "+next.ID {
		t.Fatalf("ResultText = %q", old.ResultText)
	}
	row, _ := store.GetTask(ctx, next.ID)
	if row.Status != models.TaskRunning {
		t.Fatalf("new task status = %s, want running", row.Status)
	}
	want := "## Original instructions\nresearch go\n\n## Additional instructions\nfocus on generics"
	if row.Instructions != want {
		t.Fatalf("instructions = %q, want %q", row.Instructions, want)
	}
	if row.Label != "research" || row.ModelOverride != "m1" || row.TimeoutSeconds != 300 || row.OwnerID != "1" {
		t.Fatalf("steered task lost fields: %+v", row)
	}

	if _, err := m.Steer(ctx, orig.ID, "again"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("steering a finished task should be ErrNotFound, got %v", err)
	}
}

func TestManager_Failure(t *testing.T) {
	gate := newGate()
	gate.err = errors.New("provider exploded")
	close(gate.release)
	m, store, notifier := newTestManager(t, gate, Config{})
	notifier.err = errors.New("telegram down")

	task, _ := m.Spawn(context.Background(), SpawnRequest{Instructions: "x", Label: "doomed", OwnerID: "1"})
	row := waitForStatus(t, store, task.ID, models.TaskFailed)
	if row.ResultText != "provider exploded" {
		t.Fatalf("ResultText = %q", row.ResultText)
	}
	deadline := time.Now().Add(time.Second)
	for len(notifier.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, `"doomed" failed`) {
		t.Fatalf("expected a failure notification, got %+v", msgs)
	}
}

func TestManager_Timeout(t *testing.T) {
	m, store, _ := newTestManager(t, newGate(), Config{DefaultTimeout: 30 * time.Millisecond})
	task, _ := m.Spawn(context.Background(), SpawnRequest{Instructions: "never ends", OwnerID: "1"})
	row := waitForStatus(t, store, task.ID, models.TaskCancelled)
	if !strings.HasPrefix(row.ResultText, "timed out after") {
		t.Fatalf("ResultText = %q", row.ResultText)
	}
}

func TestManager_TruncatesResult(t *testing.T) {
	gate := newGate()
	gate.result = strings.Repeat("x", 50)
	close(gate.release)
	m, store, _ := newTestManager(t, gate, Config{ResultMaxChars: 10})
	task, _ := m.Spawn(context.Background(), SpawnRequest{Instructions: "long", OwnerID: "1"})
	row := waitForStatus(t, store, task.ID, models.TaskCompleted)
	if len([]rune(row.ResultText)) != 10 {
		t.Fatalf("result not truncated: %q", row.ResultText)
	}
}

func TestManager_QueryAndList(t *testing.T) {
	m, store, _ := newTestManager(t, newGate(), Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)
	for _, task := range []*models.BackgroundTask{
		{ID: "stale", Status: models.TaskCompleted, OwnerID: "1", CreatedAt: old, CompletedAt: &old},
		{ID: "fresh", Status: models.TaskFailed, OwnerID: "1", CreatedAt: recent, CompletedAt: &recent},
		{ID: "theirs", Status: models.TaskCompleted, OwnerID: "2", CreatedAt: recent, CompletedAt: &recent},
	} {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	live, _ := m.Spawn(ctx, SpawnRequest{Instructions: "live", OwnerID: "1"})

	got, err := m.Query(ctx, live.ID)
	if err != nil || got.Status != models.TaskRunning {
		t.Fatalf("Query(live) = %+v, %v", got, err)
	}
	got, err = m.Query(ctx, "stale")
	if err != nil || got.Status != models.TaskCompleted {
		t.Fatalf("Query(stale) = %+v, %v", got, err)
	}
	if _, err := m.Query(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	listing, err := m.List(ctx, "1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Active) != 1 || listing.Active[0].ID != live.ID {
		t.Fatalf("Active = %+v", listing.Active)
	}
	if len(listing.Recent) != 1 || listing.Recent[0].ID != "fresh" {
		t.Fatalf("Recent = %+v", listing.Recent)
	}

	wide, _ := m.List(ctx, "1", 72*time.Hour)
	if len(wide.Recent) != 2 || wide.Recent[0].ID != "fresh" || wide.Recent[1].ID != "stale" {
		t.Fatalf("wide Recent should be newest first, got %+v", wide.Recent)
	}
}

func TestManager_Recover(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_ = store.CreateTask(ctx, &models.BackgroundTask{ID: "orphan", Status: models.TaskRunning, OwnerID: "1", CreatedAt: time.Now()})
	_ = store.CreateTask(ctx, &models.BackgroundTask{ID: "done", Status: models.TaskCompleted, OwnerID: "1", CreatedAt: time.Now()})

	m := NewManager(store, newGate(), nil, Config{})
	n, err := m.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v; want 1", n, err)
	}
	row, _ := store.GetTask(ctx, "orphan")
	if row.Status != models.TaskFailed || row.ResultText != "interrupted by restart" || row.CompletedAt == nil {
		t.Fatalf("unexpected recovered row: %+v", row)
	}
}

func TestManager_Shutdown(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, newGate(), nil, Config{})
	ctx := context.Background()
	task, _ := m.Spawn(ctx, SpawnRequest{Instructions: "w", OwnerID: "1"})

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	row, _ := store.GetTask(ctx, task.ID)
	if row.Status != models.TaskCancelled {
		t.Fatalf("status after shutdown = %s, want cancelled", row.Status)
	}
	if _, err := m.Spawn(ctx, SpawnRequest{Instructions: "late", OwnerID: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
