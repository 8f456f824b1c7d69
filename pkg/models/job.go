package models

import "time"

// ScheduleKind distinguishes recurring cron jobs from one-shot reminders.
type ScheduleKind string

const (
	ScheduleRecurring ScheduleKind = "recurring"
	ScheduleOneShot   ScheduleKind = "one-shot"
)

// RunStatus is the outcome of a job firing.
type RunStatus string

const (
	RunOK    RunStatus = "ok"
	RunError RunStatus = "error"
)

// ScheduledJob is a durable, time-triggered notification.
type ScheduledJob struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	ScheduleExpression string       `json:"schedule_expression"`
	ScheduleKind       ScheduleKind `json:"schedule_kind"`
	Message            string       `json:"message"`
	OwnerID            string       `json:"owner_id"`
	Timezone           string       `json:"timezone"`
	Enabled            bool         `json:"enabled"`
	DeleteAfterRun     bool         `json:"delete_after_run"`
	RunCount           int          `json:"run_count"`
	LastRunAt          *time.Time   `json:"last_run_at,omitempty"`
	LastStatus         RunStatus    `json:"last_status,omitempty"`
	LastError          string       `json:"last_error,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Clone returns a deep copy of the job.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	clone := *j
	if j.LastRunAt != nil {
		last := *j.LastRunAt
		clone.LastRunAt = &last
	}
	return &clone
}

// JobRun is an append-only audit record of one firing.
type JobRun struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	JobName     string    `json:"job_name"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
