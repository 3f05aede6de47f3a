package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps jobs in process memory. It mirrors the postgres
// repository's semantics, including conditional claiming, and is safe for
// concurrent use.
type MemoryRepository struct {
	mu     sync.Mutex
	jobs   map[int64]*Job
	byKey  map[string]int64
	nextID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:   make(map[int64]*Job),
		byKey:  make(map[string]int64),
		nextID: 1,
	}
}

func (r *MemoryRepository) InsertIfAbsent(_ context.Context, j *Job) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[j.JobKey]; ok {
		existing := *r.jobs[id]
		return &existing, nil
	}

	stored := *j
	stored.ID = r.nextID
	r.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.jobs[stored.ID] = &stored
	r.byKey[stored.JobKey] = stored.ID

	out := stored
	return &out, nil
}

func (r *MemoryRepository) FindDueBatch(_ context.Context, jobType string, now time.Time, limit int) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Job
	for _, j := range r.jobs {
		if j.Type == jobType && eligible(j, now) {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].CreatedAt.Equal(due[k].CreatedAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryRepository) ConditionalClaim(_ context.Context, jobID int64, now time.Time, leaseDuration time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok || !eligible(j, now) {
		return false, nil
	}

	j.Status = StatusRunning
	j.Attempts++
	lease := now.Add(leaseDuration)
	j.LeaseUntil = &lease
	return true, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (r *MemoryRepository) UpdateOutcome(_ context.Context, jobID int64, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	j.Status = outcome.Status
	j.LeaseUntil = nil
	j.LastError = outcome.LastError
	if outcome.RunAfter != nil {
		j.RunAfter = *outcome.RunAfter
	}
	return nil
}

// Rewind overwrites a job's run-after time. Tests use it to make a retryable
// job due without waiting out the backoff delay.
func (r *MemoryRepository) Rewind(jobID int64, runAfter time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[jobID]; ok {
		j.RunAfter = runAfter
	}
}

func eligible(j *Job, now time.Time) bool {
	if j.Status != StatusQueued && j.Status != StatusRetryable {
		return false
	}
	if j.RunAfter.After(now) {
		return false
	}
	if j.LeaseUntil != nil && !j.LeaseUntil.Before(now) {
		return false
	}
	return true
}
