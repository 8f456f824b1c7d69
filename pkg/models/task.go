package models

import "time"

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// BackgroundTask is an independently running single-shot model call owned by a user.
type BackgroundTask struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Instructions   string     `json:"instructions"`
	Status         TaskStatus `json:"status"`
	ResultText     string     `json:"result_text,omitempty"`
	OwnerID        string     `json:"owner_id"`
	ModelOverride  string     `json:"model_override,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *BackgroundTask) Clone() *BackgroundTask {
	if t == nil {
		return nil
	}
	clone := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// Timeout returns the configured timeout as a duration.
func (t *BackgroundTask) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
