package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Manager owns the running background tasks of the process.
//
// The running map holds a handle for a task iff its row is running. Whoever
// removes an entry from the map (the task body, Cancel, Steer or Shutdown)
// is the only writer of that task's terminal row.
type Manager struct {
	store     storage.TaskStore
	completer Completer
	notifier  outbound.Notifier
	config    Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu      sync.Mutex
	running map[string]*runningTask
	closed  bool

	wg sync.WaitGroup
}

type runningTask struct {
	task   *models.BackgroundTask
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
}

// NewManager creates a Manager. notifier may be nil, in which case results
// are only persisted.
func NewManager(store storage.TaskStore, completer Completer, notifier outbound.Notifier, config Config) *Manager {
	config = config.withDefaults()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		completer: completer,
		notifier:  notifier,
		config:    config,
		logger:    logger.With("component", "background-tasks"),
		metrics:   config.Metrics,
		now:       time.Now,
		running:   make(map[string]*runningTask),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Spawn persists a running task and launches its body. It returns as soon
// as the task is accepted.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*models.BackgroundTask, error) {
	req.Instructions = strings.TrimSpace(req.Instructions)
	if req.Instructions == "" {
		return nil, fmt.Errorf("%w: instructions are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if n := m.runningFor(req.OwnerID); n >= m.config.MaxPerOwner {
		return nil, fmt.Errorf("%w: %d of %d already running", ErrCapacity, n, m.config.MaxPerOwner)
	}
	return m.launchLocked(ctx, req)
}

// launchLocked creates the row and starts the body. m.mu must be held.
func (m *Manager) launchLocked(ctx context.Context, req SpawnRequest) (*models.BackgroundTask, error) {
	timeout := m.timeoutFor(req.TimeoutSeconds)
	task := &models.BackgroundTask{
		ID:             newTaskID(),
		Label:          labelFor(req),
		Instructions:   req.Instructions,
		Status:         models.TaskRunning,
		OwnerID:        req.OwnerID,
		ModelOverride:  req.Model,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	taskCtx, cancel := context.WithCancelCause(context.Background())
	taskCtx, stop := context.WithTimeoutCause(taskCtx, timeout, errTimedOut)
	rt := &runningTask{task: task.Clone(), cancel: cancel, stop: stop}
	m.running[task.ID] = rt
	m.metrics.TaskStarted()

	m.wg.Add(1)
	go m.run(taskCtx, rt)

	m.logger.Info("background task spawned",
		"task_id", task.ID,
		"owner_id", task.OwnerID,
		"label", task.Label,
		"timeout_seconds", task.TimeoutSeconds,
	)
	return task.Clone(), nil
}

func (m *Manager) run(ctx context.Context, rt *runningTask) {
	defer m.wg.Done()
	defer rt.stop()
	defer rt.cancel(nil)

	task := rt.task
	result, err := m.complete(ctx, task)

	if !m.release(task.ID) {
		// Cancel, Steer or Shutdown took ownership and wrote the row.
		return
	}

	var notice string
	switch {
	case err == nil:
		result = outbound.Truncate(result, m.config.ResultMaxChars)
		task.Status = models.TaskCompleted
		task.ResultText = result
		notice = fmt.Sprintf("Background task \"%s\" finished\n\n%s", task.Label, result)
	case errors.Is(context.Cause(ctx), errTimedOut):
		task.Status = models.TaskCancelled
		task.ResultText = fmt.Sprintf("timed out after %ds", task.TimeoutSeconds)
		notice = fmt.Sprintf("Background task \"%s\" %s", task.Label, task.ResultText)
	default:
		task.Status = models.TaskFailed
		task.ResultText = outbound.Truncate(err.Error(), m.config.ResultMaxChars)
		notice = fmt.Sprintf("Background task \"%s\" failed: %s", task.Label, task.ResultText)
	}
	m.finish(task)
	m.notify(task, notice)
}

// complete calls the completer, converting a panic into an error.
func (m *Manager) complete(ctx context.Context, task *models.BackgroundTask) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if m.completer == nil {
		return "", errors.New("no model configured")
	}
	result, err = m.completer.Complete(ctx, task.Instructions, task.ModelOverride)
	if err == nil && ctx.Err() != nil {
		// An answer that raced the deadline or a cancel is not a success.
		err = context.Cause(ctx)
	}
	return result, err
}

// release removes the handle for id, reporting whether the caller now owns
// the terminal write.
func (m *Manager) release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[id]; !ok {
		return false
	}
	delete(m.running, id)
	return true
}

// finish writes the terminal row.
func (m *Manager) finish(task *models.BackgroundTask) {
	completed := m.now().UTC()
	task.CompletedAt = &completed

	ctx, cancel := context.WithTimeout(context.Background(), m.config.PersistTimeout)
	defer cancel()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		m.logger.Error("failed to persist task outcome",
			"task_id", task.ID,
			"status", task.Status,
			"error", err,
		)
	}
	m.metrics.TaskFinished(string(task.Status))
	m.logger.Info("background task finished",
		"task_id", task.ID,
		"owner_id", task.OwnerID,
		"status", task.Status,
	)
}

func (m *Manager) notify(task *models.BackgroundTask, text string) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.PersistTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, task.OwnerID, outbound.Message{Text: text}); err != nil {
		m.logger.Warn("failed to deliver task notification",
			"task_id", task.ID,
			"owner_id", task.OwnerID,
			"error", err,
		)
	}
}

// Cancel aborts a running task. It returns false when no live task has id,
// including tasks that already finished, whose rows are left untouched.
func (m *Manager) Cancel(ctx context.Context, id string) bool {
	m.mu.Lock()
	rt, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.abort(rt, errCancelled, resultCancelled)
	return true
}

// abort cancels a handle already removed from the map and records the outcome.
func (m *Manager) abort(rt *runningTask, cause error, result string) {
	rt.cancel(cause)
	task := rt.task
	task.Status = models.TaskCancelled
	task.ResultText = result
	m.finish(task)
}

// CancelAll cancels every running task of ownerID, or of everyone when
// ownerID is AllOwners or empty. It returns the number cancelled.
func (m *Manager) CancelAll(ctx context.Context, ownerID string) int {
	m.mu.Lock()
	var victims []*runningTask
	for id, rt := range m.running {
		if ownerID != "" && ownerID != AllOwners && rt.task.OwnerID != ownerID {
			continue
		}
		victims = append(victims, rt)
		delete(m.running, id)
	}
	m.mu.Unlock()

	for _, rt := range victims {
		m.abort(rt, errCancelled, resultCancelled)
	}
	return len(victims)
}

// Steer cancels a running task and relaunches it with the original and new
// instructions under separate headings. The new task keeps the label, owner,
// model and timeout of the original.
func (m *Manager) Steer(ctx context.Context, id, instructions string) (*models.BackgroundTask, error) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return nil, fmt.Errorf("%w: new instructions are required", ErrInvalidRequest)
	}

	m.mu.Lock()
	rt, ok := m.running[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	old := rt.task
	delete(m.running, id)
	next, err := m.launchLocked(ctx, SpawnRequest{
		Instructions:   steeredInstructions(old.Instructions, instructions),
		Label:          old.Label,
		OwnerID:        old.OwnerID,
		Model:          old.ModelOverride,
		TimeoutSeconds: old.TimeoutSeconds,
	})
	if err != nil {
		// Leave the original running.
		m.running[id] = rt
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	cause := &supersededError{by: next.ID}
	m.abort(rt, cause, cause.Error())
	m.logger.Info("background task steered", "task_id", id, "new_task_id", next.ID)
	return next, nil
}

func steeredInstructions(original, additional string) string {
	return "## Original instructions\n" + original + "\n\n## Additional instructions\n" + additional
}

// Query returns the task, checking live tasks before the store.
func (m *Manager) Query(ctx context.Context, id string) (*models.BackgroundTask, error) {
	m.mu.Lock()
	rt, ok := m.running[id]
	var live *models.BackgroundTask
	if ok {
		live = rt.task.Clone()
	}
	m.mu.Unlock()
	if ok {
		return live, nil
	}

	task, err := m.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List returns running tasks and tasks that finished within window. An
// empty ownerID lists every owner; a non-positive window uses the default.
func (m *Manager) List(ctx context.Context, ownerID string, window time.Duration) (*Listing, error) {
	if window <= 0 {
		window = m.config.RecentWindow
	}
	listing := &Listing{Active: m.Running(ownerID)}

	rows, err := m.store.ListTasks(ctx, storage.TaskFilter{
		OwnerID:        ownerID,
		CompletedSince: m.now().Add(-window),
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range rows {
		if task.Status.IsTerminal() && task.CompletedAt != nil {
			listing.Recent = append(listing.Recent, task)
		}
	}
	sort.SliceStable(listing.Recent, func(i, j int) bool {
		return listing.Recent[i].CompletedAt.After(*listing.Recent[j].CompletedAt)
	})
	return listing, nil
}

// Running returns snapshots of live tasks for ownerID (all when empty),
// newest first.
func (m *Manager) Running(ownerID string) []*models.BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.BackgroundTask, 0, len(m.running))
	for _, rt := range m.running {
		if ownerID != "" && ownerID != AllOwners && rt.task.OwnerID != ownerID {
			continue
		}
		out = append(out, rt.task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Recover marks rows left running by a previous process as failed. Tasks
// are not resumed. It returns the number of rows updated.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	rows, err := m.store.ListTasks(ctx, storage.TaskFilter{Status: models.TaskRunning})
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}
	recovered := 0
	for _, task := range rows {
		m.mu.Lock()
		_, live := m.running[task.ID]
		m.mu.Unlock()
		if live {
			continue
		}
		completed := m.now().UTC()
		task.Status = models.TaskFailed
		task.ResultText = resultInterrupted
		task.CompletedAt = &completed
		if err := m.store.UpdateTask(ctx, task); err != nil {
			return recovered, fmt.Errorf("recover task %s: %w", task.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		m.logger.Warn("marked interrupted background tasks as failed", "count", recovered)
	}
	return recovered, nil
}

// Shutdown refuses new tasks, cancels every running task and waits for the
// task bodies to return or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	victims := make([]*runningTask, 0, len(m.running))
	for id, rt := range m.running {
		victims = append(victims, rt)
		delete(m.running, id)
	}
	m.mu.Unlock()

	for _, rt := range victims {
		m.abort(rt, errShutdown, resultCancelled)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runningFor counts live tasks of ownerID. m.mu must be held.
func (m *Manager) runningFor(ownerID string) int {
	n := 0
	for _, rt := range m.running {
		if rt.task.OwnerID == ownerID {
			n++
		}
	}
	return n
}

func (m *Manager) timeoutFor(seconds int) time.Duration {
	if seconds <= 0 {
		return m.config.DefaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > m.config.MaxTimeout {
		return m.config.MaxTimeout
	}
	return d
}

func labelFor(req SpawnRequest) string {
	if label := strings.TrimSpace(req.Label); label != "" {
		return label
	}
	return outbound.Truncate(strings.Join(strings.Fields(req.Instructions), " "), 40)
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
