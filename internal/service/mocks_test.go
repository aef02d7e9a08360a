package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/events"
	"github.com/easelhq/easel-api/internal/job"
)

// MockTaskRepository mocks the TaskRepository interface
type MockTaskRepository struct {
	mock.Mock
	db *sql.DB
}

func (m *MockTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*domain.Task)
	return task, args.Error(1)
}

func (m *MockTaskRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*domain.Task)
	return task, args.Error(1)
}

func (m *MockTaskRepository) Update(ctx context.Context, task *domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	progress int,
	errorLog string,
) error {
	args := m.Called(ctx, id, status, progress, errorLog)
	return args.Error(0)
}

func (m *MockTaskRepository) List(ctx context.Context, limit, offset int) ([]*domain.Task, error) {
	args := m.Called(ctx, limit, offset)
	tasks, _ := args.Get(0).([]*domain.Task)
	return tasks, args.Error(1)
}

// WithTx returns the mock itself so transactional flows exercise the same
// expectations.
func (m *MockTaskRepository) WithTx(tx *sql.Tx) TaskRepository {
	return m
}

func (m *MockTaskRepository) DB() *sql.DB {
	return m.db
}

// MockSubTaskRepository mocks the SubTaskRepository interface
type MockSubTaskRepository struct {
	mock.Mock
}

func (m *MockSubTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubTask, error) {
	args := m.Called(ctx, id)
	st, _ := args.Get(0).(*domain.SubTask)
	return st, args.Error(1)
}

func (m *MockSubTaskRepository) Update(ctx context.Context, subtask *domain.SubTask) error {
	args := m.Called(ctx, subtask)
	return args.Error(0)
}

func (m *MockSubTaskRepository) FindByTaskID(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.SubTask, error) {
	args := m.Called(ctx, taskID)
	subtasks, _ := args.Get(0).([]*domain.SubTask)
	return subtasks, args.Error(1)
}

func (m *MockSubTaskRepository) FindByTaskIDAndStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.SubTaskStatus,
) ([]*domain.SubTask, error) {
	args := m.Called(ctx, taskID, status)
	subtasks, _ := args.Get(0).([]*domain.SubTask)
	return subtasks, args.Error(1)
}

func (m *MockSubTaskRepository) CountByStatus(
	ctx context.Context,
	taskID uuid.UUID,
) (domain.StatusCounts, error) {
	args := m.Called(ctx, taskID)
	counts, _ := args.Get(0).(domain.StatusCounts)
	return counts, args.Error(1)
}

func (m *MockSubTaskRepository) CancelPending(ctx context.Context, taskID uuid.UUID) (int64, error) {
	args := m.Called(ctx, taskID)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *MockSubTaskRepository) WithTx(tx *sql.Tx) SubTaskRepository {
	return m
}

// MockJobRepository mocks the JobRepository interface
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockJobRepository) CreateBatch(ctx context.Context, jobs []*job.Job) error {
	args := m.Called(ctx, jobs)
	return args.Error(0)
}

func (m *MockJobRepository) WithTx(tx *sql.Tx) JobRepository {
	return m
}

// MockEventEmitter mocks the events.EventEmitter interface
type MockEventEmitter struct {
	mock.Mock
}

func (m *MockEventEmitter) EmitEvent(ctx context.Context, event *events.JobRequestEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// stubNotifier counts scheduler nudges.
type stubNotifier struct {
	pokes int
}

func (n *stubNotifier) Poke() {
	n.pokes++
}

// stubModelCatalog answers model lookups from a fixed set.
type stubModelCatalog map[string]bool

func (c stubModelCatalog) Has(modelID string) bool {
	return c[modelID]
}
