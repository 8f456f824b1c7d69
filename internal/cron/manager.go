// Package cron manages scheduled jobs: durable recurring or one-shot
// notifications delivered to their owner through the outbound channel.
package cron

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
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/pkg/models"
)

// DefaultRetryDelay is how long a failed one-shot job waits before retrying.
const DefaultRetryDelay = 5 * time.Minute

// Store is the persistence the manager needs.
type Store interface {
	storage.JobStore
	storage.RunStore
}

// AddRequest describes a new job.
type AddRequest struct {
	Name           string
	Schedule       string
	Message        string
	OwnerID        string
	Timezone       string
	DeleteAfterRun bool
}

// Patch lists job fields to change. Nil fields are left alone.
type Patch struct {
	Name           *string
	Schedule       *string
	Message        *string
	Timezone       *string
	Enabled        *bool
	DeleteAfterRun *bool
}

// JobView is a job plus its live scheduling state.
type JobView struct {
	Job         *models.ScheduledJob `json:"job"`
	IsScheduled bool                 `json:"is_scheduled"`
	NextRun     *time.Time           `json:"next_run,omitempty"`
}

// handle is the single live firing handle of a job.
type handle struct {
	entry    cron.EntryID
	timer    *time.Timer
	schedule Schedule
	at       time.Time
}

// Manager owns the scheduled jobs of the process.
//
// Exactly one handle exists per armed job: a cron entry for recurring jobs
// or a timer for one-shot jobs. Firings of one job are serialized; different
// jobs fire concurrently.
type Manager struct {
	store      Store
	notifier   outbound.Notifier
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	now        func() time.Time
	retryDelay time.Duration
	runner     *cron.Cron

	mu      sync.Mutex
	handles map[string]*handle
	locks   map[string]*sync.Mutex
	started bool
	stopped bool

	wg sync.WaitGroup
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger configures the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records job runs and armed handles.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer traces job runs.
func WithTracer(tracer *observability.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetryDelay overrides how long a failed one-shot job waits.
func WithRetryDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.retryDelay = delay
		}
	}
}

// NewManager creates a Manager. Jobs are not armed until Start.
func NewManager(store Store, notifier outbound.Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		notifier:   notifier,
		logger:     slog.Default(),
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
		handles:    make(map[string]*handle),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "cron")
	m.runner = cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	return m
}

// Start arms every enabled job from storage and starts the cron runner.
// One-shot jobs whose time passed while the process was down fire at once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	jobs, err := m.store.ListJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	armed := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := m.arm(job); err != nil {
			m.logger.Warn("skipping job with invalid schedule", "job_id", job.ID, "error", err)
			continue
		}
		armed++
	}
	m.runner.Start()
	m.logger.Info("cron manager started", "jobs", len(jobs), "armed", armed)
	return nil
}

// Stop disarms every handle, stops the runner and waits for in-flight
// firings to finish or ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for id := range m.handles {
		m.disarmLocked(id)
	}
	m.mu.Unlock()

	runnerDone := m.runner.Stop()
	done := make(chan struct{})
	go func() {
		<-runnerDone.Done()
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("cron manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add validates, persists and arms a new job.
func (m *Manager) Add(ctx context.Context, req AddRequest) (*models.ScheduledJob, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArguments)
	case req.Message == "":
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArguments)
	case strings.TrimSpace(req.OwnerID) == "":
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidArguments)
	}
	sched, err := m.validate(req.Schedule, req.Timezone)
	if err != nil {
		return nil, err
	}

	job := &models.ScheduledJob{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		ScheduleExpression: sched.Expr,
		ScheduleKind:       sched.Kind,
		Message:            req.Message,
		OwnerID:            req.OwnerID,
		Timezone:           sched.Location.String(),
		Enabled:            true,
		DeleteAfterRun:     req.DeleteAfterRun,
		CreatedAt:          m.now().UTC(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	if err := m.arm(job); err != nil {
		return nil, err
	}
	m.logger.Info("job added",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"kind", job.ScheduleKind,
		"schedule", job.ScheduleExpression,
	)
	return job.Clone(), nil
}

// validate parses expr and rejects past one-shot dates.
func (m *Manager) validate(expr, timezone string) (Schedule, error) {
	sched, err := ParseSchedule(expr, timezone)
	if err != nil {
		return Schedule{}, err
	}
	if err := sched.ValidateFuture(m.now()); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// Update applies patch. A schedule or timezone change re-validates the
// schedule as Add does; the job is then re-armed or disarmed to match.
func (m *Manager) Update(ctx context.Context, id string, patch Patch) (*models.ScheduledJob, error) {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		if name := strings.TrimSpace(*patch.Name); name != "" {
			job.Name = name
		} else {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidArguments)
		}
	}
	if patch.Message != nil {
		if msg := strings.TrimSpace(*patch.Message); msg != "" {
			job.Message = msg
		} else {
			return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidArguments)
		}
	}
	if patch.Schedule != nil || patch.Timezone != nil {
		expr, tz := job.ScheduleExpression, job.Timezone
		if patch.Schedule != nil {
			expr = *patch.Schedule
		}
		if patch.Timezone != nil {
			tz = *patch.Timezone
		}
		sched, err := m.validate(expr, tz)
		if err != nil {
			return nil, err
		}
		job.ScheduleExpression = sched.Expr
		job.ScheduleKind = sched.Kind
		job.Timezone = sched.Location.String()
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}

	if err := m.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	if err := m.arm(job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Remove disarms and deletes a job.
func (m *Manager) Remove(ctx context.Context, id string) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.disarm(id)
	if err := m.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete job: %w", err)
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	m.logger.Info("job removed", "job_id", id)
	return nil
}

// Wake enables a job and re-arms it. Waking an enabled job just replaces
// its handle.
func (m *Manager) Wake(ctx context.Context, id string) (*models.ScheduledJob, error) {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		job.Enabled = true
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("persist job: %w", err)
		}
	}
	if err := m.arm(job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Run fires a job now, regardless of its schedule or enabled flag. The
// returned run reports the outcome; a failed delivery is not an error.
func (m *Manager) Run(ctx context.Context, id string) (*models.JobRun, error) {
	return m.fire(ctx, id, false)
}

// List returns jobs for ownerID (all when empty) with their live state.
func (m *Manager) List(ctx context.Context, ownerID string) ([]JobView, error) {
	jobs, err := m.store.ListJobs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		view := JobView{Job: job}
		if h, ok := m.handles[job.ID]; ok {
			view.IsScheduled = true
			next := h.at
			if h.timer == nil {
				next = h.schedule.Next(now)
			}
			if !next.IsZero() {
				view.NextRun = &next
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ListRuns returns up to limit runs of jobID (all jobs when empty), newest first.
func (m *Manager) ListRuns(ctx context.Context, jobID string, limit int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := m.store.ListRuns(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// HandleCount returns the number of armed jobs.
func (m *Manager) HandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// IsScheduled reports whether id has a live handle.
func (m *Manager) IsScheduled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[id]
	return ok
}

func (m *Manager) getJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (m *Manager) jobLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}
