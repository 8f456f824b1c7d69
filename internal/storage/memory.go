package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/parrot/pkg/models"
)

// MemoryStore provides an in-memory Store. Rows are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]*models.BackgroundTask
	jobs        map[string]*models.ScheduledJob
	runs        []*models.JobRun
	history     []*models.HistoryEntry
	nextHistory int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*models.BackgroundTask),
		jobs:  make(map[string]*models.ScheduledJob),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.BackgroundTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.BackgroundTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.BackgroundTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.OwnerID != "" && task.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if !filter.CompletedSince.IsZero() && task.CompletedAt != nil && task.CompletedAt.Before(filter.CompletedSince) {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountTasks(ctx context.Context, ownerID string, status models.TaskStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, task := range s.tasks {
		if ownerID != "" && task.OwnerID != ownerID {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, ownerID string) ([]*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if ownerID != "" && job.OwnerID != ownerID {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendRun(ctx context.Context, run *models.JobRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs = append(s.runs, &clone)
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, jobID string, limit int) ([]*models.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.JobRun, 0)
	// Newest first: runs are appended in firing order.
	for i := len(s.runs) - 1; i >= 0; i-- {
		run := s.runs[i]
		if jobID != "" && run.JobID != jobID {
			continue
		}
		clone := *run
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, entries ...*models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		s.nextHistory++
		clone := *entry
		clone.ID = s.nextHistory
		entry.ID = clone.ID
		s.history = append(s.history, &clone)
	}
	return nil
}

func (s *MemoryStore) RecentHistory(ctx context.Context, ownerID string, limit int) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]
		if entry.OwnerID != ownerID {
			continue
		}
		clone := *entry
		matched = append(matched, &clone)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

func (s *MemoryStore) ClearHistory(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	removed := 0
	for _, entry := range s.history {
		if entry.OwnerID == ownerID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
