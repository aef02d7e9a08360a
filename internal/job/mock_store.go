package job

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/store"
)

// MockJobStore implements the JobStore interface for testing
type MockJobStore struct {
	mutex      sync.RWMutex
	jobs       map[uuid.UUID]*Job
	claimTimes map[uuid.UUID]time.Time
	CreateFn   func(ctx context.Context, j *Job) error
	ClaimFn    func(ctx context.Context, limit int) ([]*Job, error)
}

// NewMockJobStore creates a new MockJobStore with default implementations
func NewMockJobStore() *MockJobStore {
	s := &MockJobStore{
		jobs:       make(map[uuid.UUID]*Job),
		claimTimes: make(map[uuid.UUID]time.Time),
	}

	// Default behavior for Create
	s.CreateFn = func(ctx context.Context, j *Job) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.jobs[j.ID] = copyJob(j)
		return nil
	}

	// Default behavior for ClaimDue: pending jobs whose run_after has
	// passed, oldest first, moved to processing atomically.
	s.ClaimFn = func(ctx context.Context, limit int) ([]*Job, error) {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		now := time.Now().UTC()
		due := make([]*Job, 0)
		for _, j := range s.jobs {
			if j.Status == JobStatusPending && !j.RunAfter.After(now) {
				due = append(due, j)
			}
		}
		sort.Slice(due, func(i, k int) bool {
			if due[i].RunAfter.Equal(due[k].RunAfter) {
				return due[i].CreatedAt.Before(due[k].CreatedAt)
			}
			return due[i].RunAfter.Before(due[k].RunAfter)
		})

		if len(due) > limit {
			due = due[:limit]
		}

		claimed := make([]*Job, 0, len(due))
		for _, j := range due {
			j.Status = JobStatusProcessing
			j.UpdatedAt = now
			s.claimTimes[j.ID] = now
			claimed = append(claimed, copyJob(j))
		}
		return claimed, nil
	}

	return s
}

// Create persists a job to the mock store
func (s *MockJobStore) Create(ctx context.Context, j *Job) error {
	return s.CreateFn(ctx, j)
}

// CreateBatch persists multiple jobs to the mock store
func (s *MockJobStore) CreateBatch(ctx context.Context, jobs []*Job) error {
	for _, j := range jobs {
		if err := s.CreateFn(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a job from the mock store
func (s *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ClaimDue claims up to limit due pending jobs from the mock store
func (s *MockJobStore) ClaimDue(ctx context.Context, limit int) ([]*Job, error) {
	return s.ClaimFn(ctx, limit)
}

// MarkCompleted transitions a job to completed in the mock store
func (s *MockJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return s.setOutcome(id, JobStatusCompleted, "")
}

// MarkFailed transitions a job to failed in the mock store
func (s *MockJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.setOutcome(id, JobStatusFailed, errMsg)
}

// ScheduleRetry returns a job to pending with a new attempt count and run time
func (s *MockJobStore) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, runAfter time.Time, errMsg string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status = JobStatusPending
	j.Attempts = attempts
	j.RunAfter = runAfter
	j.LastError = errMsg
	j.UpdatedAt = time.Now().UTC()
	delete(s.claimTimes, id)
	return nil
}

// ResetProcessing returns processing jobs older than olderThan to pending
func (s *MockJobStore) ResetProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()
	var reset int64
	for id, j := range s.jobs {
		if j.Status != JobStatusProcessing {
			continue
		}
		claimedAt, ok := s.claimTimes[id]
		if olderThan == 0 || (ok && now.Sub(claimedAt) > olderThan) {
			j.Status = JobStatusPending
			j.UpdatedAt = now
			delete(s.claimTimes, id)
			reset++
		}
	}
	return reset, nil
}

// WithTx implements JobStore.WithTx for the mock store
// In the mock implementation, we just return the same store instance
func (s *MockJobStore) WithTx(tx *sql.Tx) JobStore {
	return s
}

// SetClaimTime backdates a job's claim timestamp so stuck-job behavior can
// be exercised without waiting.
func (s *MockJobStore) SetClaimTime(id uuid.UUID, at time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.claimTimes[id] = at
}

// All returns a snapshot of every stored job.
func (s *MockJobStore) All() []*Job {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, copyJob(j))
	}
	return jobs
}

// CountByStatus reports how many stored jobs are in the given status.
func (s *MockJobStore) CountByStatus(status JobStatus) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	count := 0
	for _, j := range s.jobs {
		if j.Status == status {
			count++
		}
	}
	return count
}

func (s *MockJobStore) setOutcome(id uuid.UUID, status JobStatus, errMsg string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status = status
	if errMsg != "" {
		j.LastError = errMsg
	}
	j.UpdatedAt = time.Now().UTC()
	delete(s.claimTimes, id)
	return nil
}

func copyJob(j *Job) *Job {
	dup := *j
	if j.Payload != nil {
		dup.Payload = append([]byte(nil), j.Payload...)
	}
	return &dup
}
