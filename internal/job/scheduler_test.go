package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fastSchedulerConfig keeps polling and backoff tight so tests finish in
// milliseconds. The stuck-job monitor is effectively disabled unless a test
// overrides it.
func fastSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount:           2,
		QueueSize:             16,
		PollInterval:          10 * time.Millisecond,
		ClaimBatchSize:        8,
		RetryBaseDelay:        time.Millisecond,
		RetryMaxDelay:         5 * time.Millisecond,
		StuckJobAge:           time.Hour,
		StuckJobCheckInterval: time.Hour,
	}
}

// scriptedHandler drives Execute through a per-call script and records
// permanent failure notifications.
type scriptedHandler struct {
	mu        sync.Mutex
	calls     int
	executeFn func(call int, j *Job) error
	permanent chan *Job
}

func newScriptedHandler(fn func(call int, j *Job) error) *scriptedHandler {
	return &scriptedHandler{
		executeFn: fn,
		permanent: make(chan *Job, 4),
	}
}

func (h *scriptedHandler) Execute(ctx context.Context, j *Job) error {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()
	return h.executeFn(call, j)
}

func (h *scriptedHandler) HandlePermanentFailure(ctx context.Context, j *Job, jobErr error) {
	h.permanent <- j
}

func (h *scriptedHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func submitTestJob(t *testing.T, s *Scheduler, jobType string) *Job {
	t.Helper()

	j, err := NewJob(jobType, map[string]string{"probe": "value"})
	require.NoError(t, err)
	require.NoError(t, s.Submit(context.Background(), j))
	return j
}

func TestSchedulerSubmit(t *testing.T) {
	t.Parallel()

	t.Run("successful submission persists the job", func(t *testing.T) {
		t.Parallel()

		store := NewMockJobStore()
		s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

		j := submitTestJob(t, s, JobTypePromptExpansion)

		stored, err := store.GetByID(context.Background(), j.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusPending, stored.Status)
	})

	t.Run("store error surfaces to the caller", func(t *testing.T) {
		t.Parallel()

		store := NewMockJobStore()
		store.CreateFn = func(ctx context.Context, j *Job) error {
			return errors.New("mock store error")
		}
		s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

		j, err := NewJob(JobTypePromptExpansion, nil)
		require.NoError(t, err)

		err = s.Submit(context.Background(), j)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save job")
	})
}

func TestSchedulerProcessesSubmittedJobs(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	executed := make(chan uuid.UUID, 8)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executed <- j.ID
		return nil
	})
	s.Register(JobTypePromptExpansion, handler)

	submitted := make(map[uuid.UUID]bool)
	for i := 0; i < 3; i++ {
		j := submitTestJob(t, s, JobTypePromptExpansion)
		submitted[j.ID] = false
	}

	require.NoError(t, s.Start())
	defer s.Stop()

	timeout := time.After(2 * time.Second)
	for done := 0; done < 3; done++ {
		select {
		case id := <-executed:
			_, known := submitted[id]
			assert.True(t, known, "executed unknown job %s", id)
			submitted[id] = true
		case <-timeout:
			t.Fatal("timed out waiting for jobs to execute")
		}
	}

	for id, ran := range submitted {
		assert.True(t, ran, "job %s was never executed", id)
	}

	assert.Eventually(t, func() bool {
		return store.CountByStatus(JobStatusCompleted) == 3
	}, 2*time.Second, 10*time.Millisecond, "all jobs should end completed")
}

func TestSchedulerEachJobExecutedExactlyOnce(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	config := fastSchedulerConfig()
	config.WorkerCount = 4
	s := NewScheduler(store, config, discardLogger())

	var mu sync.Mutex
	counts := make(map[uuid.UUID]int)
	handler := newScriptedHandler(func(call int, j *Job) error {
		mu.Lock()
		counts[j.ID]++
		mu.Unlock()
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		submitTestJob(t, s, JobTypeGenerateImage)
	}

	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return store.CountByStatus(JobStatusCompleted) == jobCount
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, counts, jobCount)
	for id, n := range counts {
		assert.Equal(t, 1, n, "job %s executed %d times", id, n)
	}
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	executions := make(chan int, 8)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executions <- call
		if call < 3 {
			return fmt.Errorf("flaky dependency: %w", ErrRetry)
		}
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	j := submitTestJob(t, s, JobTypeGenerateImage)

	require.NoError(t, s.Start())
	defer s.Stop()

	timeout := time.After(2 * time.Second)
	for seen := 0; seen < 3; seen++ {
		select {
		case <-executions:
		case <-timeout:
			t.Fatalf("timed out after %d executions, want 3", seen)
		}
	}

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), j.ID)
		return err == nil && stored.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts, "two failed executions should be recorded")
	assert.Contains(t, stored.LastError, "flaky dependency")
}

func TestSchedulerFailsJobAfterRetryBudget(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	handler := newScriptedHandler(func(call int, j *Job) error {
		return fmt.Errorf("still broken: %w", ErrRetry)
	})
	s.Register(JobTypeGenerateImage, handler)

	j := submitTestJob(t, s, JobTypeGenerateImage)

	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case failed := <-handler.permanent:
		assert.Equal(t, j.ID, failed.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for permanent failure notification")
	}

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), j.ID)
		return err == nil && stored.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, DefaultMaxAttempts, handler.callCount(),
		"the job should execute exactly MaxAttempts times")
}

func TestSchedulerNonRetryableErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	handler := newScriptedHandler(func(call int, j *Job) error {
		return errors.New("intentional test failure")
	})
	s.Register(JobTypePromptExpansion, handler)

	errHandlerCalled := make(chan error, 1)
	s.SetErrorHandler(func(j *Job, err error) {
		errHandlerCalled <- err
	})

	j := submitTestJob(t, s, JobTypePromptExpansion)

	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case err := <-errHandlerCalled:
		assert.Contains(t, err.Error(), "intentional test failure")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), j.ID)
		return err == nil && stored.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, handler.callCount(), "non-retryable errors must not be retried")
}

func TestSchedulerFailsJobsWithoutHandler(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	j := submitTestJob(t, s, "unregistered_type")

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), j.ID)
		return err == nil && stored.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "no handler registered")
}

func TestSchedulerHonorsRunAfter(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	executed := make(chan time.Time, 1)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executed <- time.Now()
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	j, err := NewJob(JobTypeGenerateImage, nil)
	require.NoError(t, err)
	j.RunAfter = time.Now().UTC().Add(150 * time.Millisecond)
	require.NoError(t, s.Submit(context.Background(), j))

	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case ranAt := <-executed:
		assert.False(t, ranAt.Before(j.RunAfter),
			"job ran at %v, before its run_after %v", ranAt, j.RunAfter)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delayed job")
	}
}

func TestSchedulerRecoversProcessingJobsOnStart(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()

	// Simulate a crashed run: the job was claimed but never finished.
	orphan, err := NewJob(JobTypeGenerateImage, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), orphan))
	claimed, err := store.ClaimDue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	executed := make(chan uuid.UUID, 1)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executed <- j.ID
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case id := <-executed:
		assert.Equal(t, orphan.ID, id, "recovered job should be executed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovered job")
	}
}

func TestSchedulerStuckJobMonitor(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	config := fastSchedulerConfig()
	config.StuckJobAge = 15 * time.Minute
	config.StuckJobCheckInterval = 50 * time.Millisecond

	s := NewScheduler(store, config, discardLogger())

	executed := make(chan uuid.UUID, 1)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executed <- j.ID
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	require.NoError(t, s.Start())
	defer s.Stop()

	// Wedge a job into processing after startup recovery already ran, with
	// a claim time old enough to count as stuck.
	stuck, err := NewJob(JobTypeGenerateImage, nil)
	require.NoError(t, err)
	stuck.Status = JobStatusProcessing
	require.NoError(t, store.Create(context.Background(), stuck))
	store.SetClaimTime(stuck.ID, time.Now().Add(-30*time.Minute))

	select {
	case id := <-executed:
		assert.Equal(t, stuck.ID, id, "stuck job should be reset and executed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stuck job to be rescued")
	}
}

func TestSchedulerSubmitWakesIdlePollLoop(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	config := fastSchedulerConfig()
	config.PollInterval = time.Minute // only the nudge can explain a fast pickup

	s := NewScheduler(store, config, discardLogger())

	executed := make(chan uuid.UUID, 1)
	handler := newScriptedHandler(func(call int, j *Job) error {
		executed <- j.ID
		return nil
	})
	s.Register(JobTypePromptExpansion, handler)

	require.NoError(t, s.Start())
	defer s.Stop()

	// Let the poll loop drain its initial pass and settle into its select.
	time.Sleep(50 * time.Millisecond)

	j := submitTestJob(t, s, JobTypePromptExpansion)

	select {
	case id := <-executed:
		assert.Equal(t, j.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not wake the poll loop")
	}
}

func TestSchedulerStopDrainsInFlightJob(t *testing.T) {
	t.Parallel()

	store := NewMockJobStore()
	s := NewScheduler(store, fastSchedulerConfig(), discardLogger())

	started := make(chan struct{})
	handler := newScriptedHandler(func(call int, j *Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	s.Register(JobTypeGenerateImage, handler)

	j := submitTestJob(t, s, JobTypeGenerateImage)

	require.NoError(t, s.Start())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to start")
	}

	s.Stop()

	stored, err := store.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status,
		"a job already executing must finish during shutdown")
}
