package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Handler executes one claimed job. Returning nil marks the job completed,
// even when the handler recorded a failure on the entity it was driving;
// structured failure belongs on the entity, not the job. Returning an error
// that wraps ErrRetry asks for a requeue with backoff; any other error fails
// the job permanently.
type Handler interface {
	Execute(ctx context.Context, j *Job) error
}

// FailureHandler is implemented by handlers that need to know when one of
// their jobs fails permanently, so the entity the job was driving can be
// marked failed as well. The scheduler type-asserts for it after exhausting
// a job; implementing it is optional.
type FailureHandler interface {
	HandlePermanentFailure(ctx context.Context, j *Job, jobErr error)
}

// SchedulerConfig holds configuration for the job scheduler
type SchedulerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory job channel
	QueueSize int

	// PollInterval defines how often the poll loop claims due jobs when no
	// submit has nudged it
	PollInterval time.Duration

	// ClaimBatchSize caps how many jobs one claim round may take
	ClaimBatchSize int

	// RetryBaseDelay is the backoff before the second attempt; it doubles
	// per attempt up to RetryMaxDelay
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponential backoff between attempts
	RetryMaxDelay time.Duration

	// StuckJobAge defines how long a job can be in processing state
	// before it's considered stuck and reset
	StuckJobAge time.Duration

	// StuckJobCheckInterval defines how often to check for stuck jobs
	StuckJobCheckInterval time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount:           4,
		QueueSize:             100,
		PollInterval:          2 * time.Second,
		ClaimBatchSize:        10,
		RetryBaseDelay:        5 * time.Second,
		RetryMaxDelay:         5 * time.Minute,
		StuckJobAge:           30 * time.Minute,
		StuckJobCheckInterval: 5 * time.Minute,
	}
}

// Scheduler owns the job pipeline: persisting submitted jobs, claiming due
// ones, and driving them through registered handlers on a worker pool.
//
// Every dispatch goes through JobStore.ClaimDue, which moves a job to
// processing atomically. Submit only persists the job and nudges the poll
// loop, so a job can never reach two workers at once, even with several
// processes polling the same table.
type Scheduler struct {
	store      JobStore
	handlers   map[string]Handler
	jobChan    chan *Job
	nudge      chan struct{}
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     SchedulerConfig
	logger     *slog.Logger
	errHandler func(j *Job, err error)
}

// NewScheduler creates a new Scheduler. Zero config fields fall back to the
// defaults from DefaultSchedulerConfig.
func NewScheduler(store JobStore, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = defaults.ClaimBatchSize
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.StuckJobAge <= 0 {
		config.StuckJobAge = defaults.StuckJobAge
	}
	if config.StuckJobCheckInterval <= 0 {
		config.StuckJobCheckInterval = defaults.StuckJobCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      store,
		handlers:   make(map[string]Handler),
		jobChan:    make(chan *Job, config.QueueSize),
		nudge:      make(chan struct{}, 1),
		ctx:        ctx,
		cancelFunc: cancel,
		wg:         sync.WaitGroup{},
		config:     config,
		logger:     logger,
		errHandler: func(j *Job, err error) {
			// Default error handler just logs the error
			logger.Error("job execution failed",
				"job_id", j.ID,
				"job_type", j.Type,
				"error", err)
		},
	}
}

// SetErrorHandler allows setting a custom error handler function. It is
// invoked after a job fails permanently.
func (s *Scheduler) SetErrorHandler(handler func(j *Job, err error)) {
	s.errHandler = handler
}

// Register installs the handler for a job type. All registrations must
// happen before Start; the handler map is not synchronized afterwards.
func (s *Scheduler) Register(jobType string, h Handler) {
	s.handlers[jobType] = h
}

// Submit persists a job and nudges the poll loop so it is claimed without
// waiting for the next tick. The job still reaches a worker only through
// ClaimDue, so a submit racing a poll cannot dispatch twice.
func (s *Scheduler) Submit(ctx context.Context, j *Job) error {
	if err := s.store.Create(ctx, j); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.Poke()
	return nil
}

// Poke wakes the poll loop if it is waiting. Callers that persist jobs
// inside their own transaction instead of going through Submit call it
// after commit.
func (s *Scheduler) Poke() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Start recovers interrupted jobs and launches the worker pool, the poll
// loop, and the stuck-job monitor.
func (s *Scheduler) Start() error {
	// Recover jobs orphaned in processing state by a previous run
	if err := s.recoverOrphaned(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.pollLoop()

	s.wg.Add(1)
	go s.stuckJobMonitor()

	return nil
}

// Stop gracefully shuts down the scheduler. Jobs already inside a handler
// finish their current execution; claimed but undispatched jobs are picked
// up again by the next start's recovery.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

// recoverOrphaned returns every processing job to pending. It runs before
// the poll loop starts, so a job half-executed by a crashed process gets
// claimed again rather than sitting in processing forever.
func (s *Scheduler) recoverOrphaned() error {
	reset, err := s.store.ResetProcessing(context.Background(), 0)
	if err != nil {
		return fmt.Errorf("failed to reset processing jobs: %w", err)
	}

	if reset > 0 {
		s.logger.Info("recovered jobs interrupted by previous run", "count", reset)
	}
	return nil
}

// pollLoop claims due jobs and feeds them to the workers. It wakes on a
// fixed ticker and on nudges from Submit.
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	defer close(s.jobChan)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.dispatchDue()

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}

// dispatchDue drains the store of due jobs in claim-batch rounds. A short
// batch means the table has no more due work.
func (s *Scheduler) dispatchDue() {
	for {
		jobs, err := s.store.ClaimDue(s.ctx, s.config.ClaimBatchSize)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("failed to claim due jobs", "error", err)
			}
			return
		}

		for _, j := range jobs {
			select {
			case s.jobChan <- j:
			case <-s.ctx.Done():
				// Claimed jobs that never reached a worker stay in
				// processing; recovery resets them on next start.
				return
			}
		}

		if len(jobs) < s.config.ClaimBatchSize {
			return
		}
	}
}

// worker processes jobs from the channel
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("stopping worker", "worker_id", id)
			return

		case j, ok := <-s.jobChan:
			if !ok {
				s.logger.Debug("job channel closed, stopping worker", "worker_id", id)
				return
			}

			s.processJob(j, id)
		}
	}
}

// processJob handles execution of a single claimed job. Handler errors are
// absorbed here: they mark the job row, they never crash the worker.
func (s *Scheduler) processJob(j *Job, workerID int) {
	// Deliberately not the scheduler context: a handler already running is
	// allowed to finish its current execution during shutdown.
	ctx := context.Background()
	logger := s.logger.With(
		"job_id", j.ID,
		"job_type", j.Type,
		"worker_id", workerID,
	)

	handler, ok := s.handlers[j.Type]
	if !ok {
		logger.Error("no handler registered for job type")
		if updateErr := s.store.MarkFailed(ctx, j.ID, ErrUnknownJobType.Error()); updateErr != nil {
			logger.Error("failed to mark job as failed", "error", updateErr)
		}
		return
	}

	logger.Info("processing job", "attempt", j.Attempts+1, "max_attempts", j.MaxAttempts)

	err := handler.Execute(ctx, j)
	if err == nil {
		logger.Info("job completed")
		if updateErr := s.store.MarkCompleted(ctx, j.ID); updateErr != nil {
			logger.Error("failed to mark job as completed", "error", updateErr)
		}
		return
	}

	if errors.Is(err, ErrRetry) && j.Attempts+1 < j.MaxAttempts {
		attempts := j.Attempts + 1
		delay := backoffDelay(s.config.RetryBaseDelay, s.config.RetryMaxDelay, attempts)
		logger.Warn("job failed, scheduling retry",
			"error", err,
			"attempt", attempts,
			"retry_in", delay)
		if updateErr := s.store.ScheduleRetry(ctx, j.ID, attempts, time.Now().UTC().Add(delay), err.Error()); updateErr != nil {
			logger.Error("failed to schedule job retry", "error", updateErr)
		}
		return
	}

	// Permanent failure: either the retry budget is exhausted or the error
	// was not retryable.
	logger.Error("job failed permanently", "error", err, "attempts", j.Attempts+1)
	if updateErr := s.store.MarkFailed(ctx, j.ID, err.Error()); updateErr != nil {
		logger.Error("failed to mark job as failed", "error", updateErr)
	}

	if fh, ok := handler.(FailureHandler); ok {
		fh.HandlePermanentFailure(ctx, j, err)
	}

	s.errHandler(j, err)
}

// backoffDelay computes the wait before the given attempt number, doubling
// from base with jitter so concurrent retries spread out.
func backoffDelay(base, maxDelay time.Duration, attempts int) time.Duration {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	backoff := float64(base) * math.Pow(2, float64(attempts-1))
	if limit := float64(maxDelay); backoff > limit {
		backoff = limit
	}
	jitterFactor := 0.5 + rng.Float64()*0.5 // Between 0.5 and 1.0
	return time.Duration(backoff * jitterFactor)
}

// stuckJobMonitor periodically returns jobs that have been in processing
// state for too long to pending so they get claimed again
func (s *Scheduler) stuckJobMonitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StuckJobCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			reset, err := s.store.ResetProcessing(context.Background(), s.config.StuckJobAge)
			if err != nil {
				s.logger.Error("failed to check for stuck jobs", "error", err)
				continue
			}

			if reset > 0 {
				s.logger.Info("reset jobs stuck in processing state", "count", reset)
				s.Poke()
			}
		}
	}
}
