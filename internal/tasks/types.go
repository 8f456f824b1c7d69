// Package tasks runs background tasks: single-shot model calls that execute
// independently of the live exchange and report back through the outbound
// notification channel.
//
// A task is:
//   - Persisted as a row for its whole lifetime
//   - Tracked in memory with a cancellation handle while it runs
//   - Capped per owner
//   - Cancellable, steerable and queryable after it finishes
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/pkg/models"
)

var (
	// ErrNotFound indicates no live (or persisted, for Query) task has the id.
	ErrNotFound = errors.New("task not found")

	// ErrCapacity indicates the owner already has the maximum number of running tasks.
	ErrCapacity = errors.New("too many running background tasks")

	// ErrInvalidRequest indicates a spawn request is missing required fields.
	ErrInvalidRequest = errors.New("invalid task request")

	// ErrClosed indicates the manager has been shut down.
	ErrClosed = errors.New("task manager is shut down")
)

// AllOwners is the CancelAll scope that matches every owner.
const AllOwners = "all"

// Result texts written for tasks that end without a model answer.
const (
	resultCancelled   = "cancelled"
	resultInterrupted = "interrupted by restart"
)

// Completer runs a single-shot, tool-less model call. agent.Loop satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// Config configures the Manager.
type Config struct {
	// MaxPerOwner caps concurrently running tasks per owner.
	// Defaults to 5.
	MaxPerOwner int

	// DefaultTimeout applies when a spawn request gives none.
	// Defaults to 120 seconds.
	DefaultTimeout time.Duration

	// MaxTimeout clamps requested timeouts.
	// Defaults to 600 seconds.
	MaxTimeout time.Duration

	// ResultMaxChars truncates stored and delivered results.
	// Defaults to 4000.
	ResultMaxChars int

	// RecentWindow is the List cutoff when the caller gives none.
	// Defaults to 24 hours.
	RecentWindow time.Duration

	// PersistTimeout bounds terminal row writes made after the task context
	// is gone. Defaults to 10 seconds.
	PersistTimeout time.Duration

	// Logger for manager events.
	Logger *slog.Logger

	// Metrics receives task counters. Optional.
	Metrics *observability.Metrics
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerOwner:    5,
		DefaultTimeout: 120 * time.Second,
		MaxTimeout:     600 * time.Second,
		ResultMaxChars: 4000,
		RecentWindow:   24 * time.Hour,
		PersistTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPerOwner <= 0 {
		c.MaxPerOwner = def.MaxPerOwner
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = def.MaxTimeout
	}
	if c.DefaultTimeout > c.MaxTimeout {
		c.DefaultTimeout = c.MaxTimeout
	}
	if c.ResultMaxChars <= 0 {
		c.ResultMaxChars = def.ResultMaxChars
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = def.PersistTimeout
	}
	return c
}

// SpawnRequest describes a new task.
type SpawnRequest struct {
	Instructions string
	Label        string
	OwnerID      string
	// Model overrides the completer's default model. Optional.
	Model string
	// TimeoutSeconds of zero or less uses the default; larger than the
	// maximum is clamped.
	TimeoutSeconds int
}

// Listing partitions an owner's tasks.
type Listing struct {
	// Active holds running tasks, newest first.
	Active []*models.BackgroundTask `json:"active"`
	// Recent holds terminal tasks completed within the window, newest first.
	Recent []*models.BackgroundTask `json:"recent"`
}

// supersededError is the cancellation cause recorded by Steer.
type supersededError struct {
	by string
}

func (e *supersededError) Error() string {
	return "superseded by " + e.by
}

var (
	errCancelled = errors.New(resultCancelled)
	errTimedOut  = errors.New("timed out")
	errShutdown  = errors.New("cancelled: shutting down")
)
