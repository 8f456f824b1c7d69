package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/parrot/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	OwnerID string
	Status  models.TaskStatus
	// CompletedSince keeps only tasks completed at or after the given time.
	// Running tasks are not affected by it.
	CompletedSince time.Time
	Limit          int
}

// TaskStore persists background tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.BackgroundTask) error
	UpdateTask(ctx context.Context, task *models.BackgroundTask) error
	GetTask(ctx context.Context, id string) (*models.BackgroundTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.BackgroundTask, error)
	CountTasks(ctx context.Context, ownerID string, status models.TaskStatus) (int, error)
}

// JobStore persists scheduled jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) error
	UpdateJob(ctx context.Context, job *models.ScheduledJob) error
	GetJob(ctx context.Context, id string) (*models.ScheduledJob, error)
	DeleteJob(ctx context.Context, id string) error
	// ListJobs returns jobs for ownerID, or all jobs when ownerID is empty,
	// oldest first.
	ListJobs(ctx context.Context, ownerID string) ([]*models.ScheduledJob, error)
}

// RunStore is the append-only job run log.
type RunStore interface {
	AppendRun(ctx context.Context, run *models.JobRun) error
	// ListRuns returns the newest runs first. An empty jobID lists all jobs.
	ListRuns(ctx context.Context, jobID string, limit int) ([]*models.JobRun, error)
}

// HistoryStore is the append-only conversation log.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entries ...*models.HistoryEntry) error
	// RecentHistory returns up to limit entries, oldest first.
	RecentHistory(ctx context.Context, ownerID string, limit int) ([]*models.HistoryEntry, error)
	ClearHistory(ctx context.Context, ownerID string) (int, error)
}

// Store groups every persistence contract used by the process.
type Store interface {
	TaskStore
	JobStore
	RunStore
	HistoryStore
	Close() error
}
