package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/pkg/models"
)

// arm replaces the handle of job with one matching its schedule, or just
// disarms it when the job is disabled.
func (m *Manager) arm(job *models.ScheduledJob) error {
	sched, err := ParseSchedule(job.ScheduleExpression, job.Timezone)
	if err != nil {
		m.disarm(job.ID)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked(job.ID)
	if !job.Enabled || m.stopped {
		return nil
	}

	id := job.ID
	h := &handle{schedule: sched}
	if sched.Kind == models.ScheduleOneShot {
		delay := sched.At.Sub(m.now())
		if delay < 0 {
			delay = 0
		}
		h.at = sched.At
		h.timer = time.AfterFunc(delay, func() { m.fireScheduled(id) })
	} else {
		h.entry = m.runner.Schedule(sched.cron, cron.FuncJob(func() { m.fireScheduled(id) }))
	}
	m.handles[id] = h
	m.metrics.SetArmedJobs(len(m.handles))
	return nil
}

// armRetry re-arms a one-shot job to fire again after the retry delay.
func (m *Manager) armRetry(job *models.ScheduledJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked(job.ID)
	if m.stopped {
		return
	}
	id := job.ID
	at := m.now().Add(m.retryDelay)
	m.handles[id] = &handle{
		timer: time.AfterFunc(m.retryDelay, func() { m.fireScheduled(id) }),
		at:    at,
	}
	m.metrics.SetArmedJobs(len(m.handles))
	m.logger.Info("one-shot job will retry", "job_id", id, "at", at)
}

func (m *Manager) disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked(id)
}

// disarmLocked removes the handle of id. m.mu must be held.
func (m *Manager) disarmLocked(id string) {
	h, ok := m.handles[id]
	if !ok {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	} else {
		m.runner.Remove(h.entry)
	}
	delete(m.handles, id)
	m.metrics.SetArmedJobs(len(m.handles))
}

// fireScheduled is the callback of every handle.
func (m *Manager) fireScheduled(id string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	if _, err := m.fire(context.Background(), id, true); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Error("scheduled firing failed", "job_id", id, "error", err)
	}
}

// fire delivers the job message, records the run and applies the one-shot
// and delete-after-run rules. scheduled firings skip disabled jobs.
func (m *Manager) fire(ctx context.Context, id string, scheduled bool) (*models.JobRun, error) {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.getJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.disarm(id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if scheduled && !job.Enabled {
		m.disarm(id)
		return nil, nil
	}

	ctx, span := m.tracer.TraceJobRun(ctx, job.ID, job.Name)
	defer span.End()

	started := m.now().UTC()
	sendErr := m.deliver(ctx, job)
	completed := m.now().UTC()

	run := &models.JobRun{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		JobName:     job.Name,
		Status:      models.RunOK,
		StartedAt:   started,
		CompletedAt: completed,
	}
	job.RunCount++
	job.LastRunAt = &started
	job.LastStatus = models.RunOK
	job.LastError = ""
	if sendErr != nil {
		m.tracer.RecordError(span, sendErr)
		run.Status = models.RunError
		run.Error = sendErr.Error()
		job.LastStatus = models.RunError
		job.LastError = sendErr.Error()
	}
	m.metrics.RecordJobRun(string(run.Status))

	if err := m.store.AppendRun(ctx, run); err != nil {
		m.logger.Error("failed to record job run", "job_id", job.ID, "error", err)
	}

	finished := sendErr == nil && (job.ScheduleKind == models.ScheduleOneShot || job.DeleteAfterRun)
	switch {
	case finished && job.DeleteAfterRun:
		m.disarm(job.ID)
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			m.logger.Error("failed to delete finished job", "job_id", job.ID, "error", err)
		}
	case finished:
		m.disarm(job.ID)
		job.Enabled = false
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Error("failed to disable finished job", "job_id", job.ID, "error", err)
		}
	default:
		if sendErr != nil && scheduled && job.ScheduleKind == models.ScheduleOneShot {
			m.armRetry(job)
		}
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Error("failed to update job", "job_id", job.ID, "error", err)
		}
	}

	level := slog.LevelInfo
	if sendErr != nil {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "job fired",
		"job_id", job.ID,
		"status", run.Status,
		"run_count", job.RunCount,
		"scheduled", scheduled,
	)
	return run, nil
}

func (m *Manager) deliver(ctx context.Context, job *models.ScheduledJob) error {
	if m.notifier == nil {
		return errors.New("no notification channel configured")
	}
	return m.notifier.Notify(ctx, job.OwnerID, outbound.Message{Text: job.Message})
}
