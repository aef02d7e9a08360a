package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easelhq/easel-api/internal/api/middleware"
	"github.com/easelhq/easel-api/internal/api/shared"
	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTaskService implements service.TaskService with overridable function
// fields. Unset methods fail the calling test.
type fakeTaskService struct {
	t *testing.T

	createFn       func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error)
	getFn          func(ctx context.Context, taskID uuid.UUID) (*service.TaskDetail, error)
	listFn         func(ctx context.Context, limit, offset int) ([]*domain.Task, error)
	subtasksFn     func(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error)
	submitFn       func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	cancelFn       func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	retryFailedFn  func(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	retrySubtaskFn func(ctx context.Context, subTaskID uuid.UUID) (*domain.SubTask, error)
}

func (f *fakeTaskService) CreateTask(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error) {
	if f.createFn == nil {
		f.t.Fatal("unexpected CreateTask call")
	}
	return f.createFn(ctx, params)
}

func (f *fakeTaskService) GetTask(ctx context.Context, taskID uuid.UUID) (*service.TaskDetail, error) {
	if f.getFn == nil {
		f.t.Fatal("unexpected GetTask call")
	}
	return f.getFn(ctx, taskID)
}

func (f *fakeTaskService) ListTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error) {
	if f.listFn == nil {
		f.t.Fatal("unexpected ListTasks call")
	}
	return f.listFn(ctx, limit, offset)
}

func (f *fakeTaskService) GetSubTasks(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error) {
	if f.subtasksFn == nil {
		f.t.Fatal("unexpected GetSubTasks call")
	}
	return f.subtasksFn(ctx, taskID)
}

func (f *fakeTaskService) SubmitTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if f.submitFn == nil {
		f.t.Fatal("unexpected SubmitTask call")
	}
	return f.submitFn(ctx, taskID)
}

func (f *fakeTaskService) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if f.cancelFn == nil {
		f.t.Fatal("unexpected CancelTask call")
	}
	return f.cancelFn(ctx, taskID)
}

func (f *fakeTaskService) RetryFailed(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	if f.retryFailedFn == nil {
		f.t.Fatal("unexpected RetryFailed call")
	}
	return f.retryFailedFn(ctx, taskID)
}

func (f *fakeTaskService) RetrySubTask(ctx context.Context, subTaskID uuid.UUID) (*domain.SubTask, error) {
	if f.retrySubtaskFn == nil {
		f.t.Fatal("unexpected RetrySubTask call")
	}
	return f.retrySubtaskFn(ctx, subTaskID)
}

func (f *fakeTaskService) RefreshTaskStatus(ctx context.Context, taskID uuid.UUID) error {
	return nil
}

// newTestRouter mounts the handler on the production route layout.
func newTestRouter(t *testing.T, svc service.TaskService) http.Handler {
	t.Helper()
	handler := NewTaskHandler(svc, testLogger())

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", handler.CreateTask)
			r.Get("/", handler.ListTasks)
			r.Get("/{id}", handler.GetTask)
			r.Get("/{id}/subtasks", handler.GetSubTasks)
			r.Post("/{id}/submit", handler.SubmitTask)
			r.Post("/{id}/cancel", handler.CancelTask)
			r.Post("/{id}/retry", handler.RetryTask)
		})
		r.Post("/subtasks/{id}/retry", handler.RetrySubTask)
	})
	return r
}

func newDraftTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(
		"a lighthouse at dusk",
		[]string{"watercolor"},
		[]string{"gemini"},
		domain.BatchConfig{CountPerPrompt: 2},
	)
	require.NoError(t, err)
	return task
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewTaskHandler_RequiresLogger(t *testing.T) {
	assert.Panics(t, func() {
		NewTaskHandler(&fakeTaskService{t: t}, nil)
	})
}

func TestCreateTask(t *testing.T) {
	task := newDraftTask(t)
	seed := int64(1234)

	var gotParams service.CreateTaskParams
	svc := &fakeTaskService{
		t: t,
		createFn: func(_ context.Context, params service.CreateTaskParams) (*domain.Task, error) {
			gotParams = params
			return task, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"subject":   "a lighthouse at dusk",
		"style_ids": []string{"watercolor", "oil-painting"},
		"model_ids": []string{"gemini", "dashscope"},
		"batch": map[string]any{
			"variant_count":    4,
			"count_per_prompt": 2,
			"aspect_ratio":     "16:9",
			"negative_prompt":  "blurry",
			"seed":             seed,
			"web_search":       true,
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "a lighthouse at dusk", gotParams.Subject)
	assert.Equal(t, []string{"watercolor", "oil-painting"}, gotParams.StyleIDs)
	assert.Equal(t, []string{"gemini", "dashscope"}, gotParams.ModelIDs)
	assert.Equal(t, 4, gotParams.Batch.VariantCount)
	assert.Equal(t, 2, gotParams.Batch.CountPerPrompt)
	assert.Equal(t, "16:9", gotParams.Batch.AspectRatio)
	assert.Equal(t, "blurry", gotParams.Batch.NegativePrompt)
	require.NotNil(t, gotParams.Batch.Seed)
	assert.Equal(t, seed, *gotParams.Batch.Seed)
	assert.True(t, gotParams.Batch.WebSearch)

	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, task.ID.String(), resp.ID)
	assert.Equal(t, "draft", resp.Status)
	assert.Equal(t, "a lighthouse at dusk", resp.Subject)
}

func TestCreateTask_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, &fakeTaskService{t: t})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(`{"subject":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request format")
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantBody string
	}{
		{
			name: "missing subject",
			body: map[string]any{
				"style_ids": []string{"watercolor"},
				"model_ids": []string{"gemini"},
				"batch":     map[string]any{"count_per_prompt": 1},
			},
			wantBody: "Invalid Subject: required field",
		},
		{
			name: "missing models",
			body: map[string]any{
				"subject":   "a fox",
				"style_ids": []string{"watercolor"},
				"batch":     map[string]any{"count_per_prompt": 1},
			},
			wantBody: "Invalid ModelIDs: required field",
		},
		{
			name: "zero batch size",
			body: map[string]any{
				"subject":   "a fox",
				"style_ids": []string{"watercolor"},
				"model_ids": []string{"gemini"},
				"batch":     map[string]any{"count_per_prompt": 0},
			},
			wantBody: "Invalid CountPerPrompt: required field",
		},
		{
			name: "batch size above limit",
			body: map[string]any{
				"subject":   "a fox",
				"style_ids": []string{"watercolor"},
				"model_ids": []string{"gemini"},
				"batch":     map[string]any{"count_per_prompt": 51},
			},
			wantBody: "Invalid CountPerPrompt: too large",
		},
		{
			name: "unsupported aspect ratio",
			body: map[string]any{
				"subject":   "a fox",
				"style_ids": []string{"watercolor"},
				"model_ids": []string{"gemini"},
				"batch":     map[string]any{"count_per_prompt": 1, "aspect_ratio": "21:9"},
			},
			wantBody: "Invalid AspectRatio: invalid value",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeTaskService{t: t})

			rec := doJSON(t, router, http.MethodPost, "/api/tasks", tc.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

func TestCreateTask_DomainValidationError(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		createFn: func(_ context.Context, _ service.CreateTaskParams) (*domain.Task, error) {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrBatchSizeOutOfRange)
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"subject":   "a fox",
		"style_ids": []string{"watercolor"},
		"model_ids": []string{"gemini"},
		"batch":     map[string]any{"count_per_prompt": 2},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid task data")
}

func TestCreateTask_InternalErrorIsSanitized(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		createFn: func(_ context.Context, _ service.CreateTaskParams) (*domain.Task, error) {
			return nil, errors.New(`pq: connection to "db.internal:5432" refused`)
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"subject":   "a fox",
		"style_ids": []string{"watercolor"},
		"model_ids": []string{"gemini"},
		"batch":     map[string]any{"count_per_prompt": 2},
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to create task")
	assert.NotContains(t, rec.Body.String(), "db.internal")
}

func TestListTasks(t *testing.T) {
	first := newDraftTask(t)
	second := newDraftTask(t)

	var gotLimit, gotOffset int
	svc := &fakeTaskService{
		t: t,
		listFn: func(_ context.Context, limit, offset int) ([]*domain.Task, error) {
			gotLimit, gotOffset = limit, offset
			return []*domain.Task{first, second}, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodGet, "/api/tasks?limit=5&offset=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)

	var resp TaskListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, first.ID.String(), resp.Tasks[0].ID)
	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, 10, resp.Offset)
}

func TestListTasks_DefaultsAndBadParams(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		var gotLimit, gotOffset int
		svc := &fakeTaskService{
			t: t,
			listFn: func(_ context.Context, limit, offset int) ([]*domain.Task, error) {
				gotLimit, gotOffset = limit, offset
				return nil, nil
			},
		}
		router := newTestRouter(t, svc)

		rec := doJSON(t, router, http.MethodGet, "/api/tasks", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, service.DefaultListLimit, gotLimit)
		assert.Zero(t, gotOffset)
	})

	t.Run("malformed limit", func(t *testing.T) {
		router := newTestRouter(t, &fakeTaskService{t: t})

		rec := doJSON(t, router, http.MethodGet, "/api/tasks?limit=abc", nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTask(t *testing.T) {
	task := newDraftTask(t)
	svc := &fakeTaskService{
		t: t,
		getFn: func(_ context.Context, taskID uuid.UUID) (*service.TaskDetail, error) {
			assert.Equal(t, task.ID, taskID)
			return &service.TaskDetail{
				Task:   task,
				Counts: domain.StatusCounts{Pending: 3, Success: 2, Failed: 1},
			}, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodGet, "/api/tasks/"+task.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, task.ID.String(), resp.ID)
	assert.Equal(t, 3, resp.SubTaskCounts.Pending)
	assert.Equal(t, 2, resp.SubTaskCounts.Success)
	assert.Equal(t, 1, resp.SubTaskCounts.Failed)
}

func TestGetTask_NotFound(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		getFn: func(_ context.Context, _ uuid.UUID) (*service.TaskDetail, error) {
			return nil, service.ErrTaskNotFound
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Task not found")
}

func TestGetTask_InvalidID(t *testing.T) {
	router := newTestRouter(t, &fakeTaskService{t: t})

	rec := doJSON(t, router, http.MethodGet, "/api/tasks/not-a-uuid", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid ID format")
}

func TestGetSubTasks(t *testing.T) {
	task := newDraftTask(t)

	st, err := domain.NewSubTask(task.ID, "v1", "watercolor", "gemini", 0, "a lighthouse, watercolor", "", "1:1", nil)
	require.NoError(t, err)
	st.Status = domain.SubTaskStatusSuccess
	st.ImageURL = "https://cdn.easel.dev/tasks/x/y.png"
	st.ImageWidth = 1024
	st.ImageHeight = 1024
	st.ContentType = "image/png"

	svc := &fakeTaskService{
		t: t,
		subtasksFn: func(_ context.Context, taskID uuid.UUID) ([]*domain.SubTask, error) {
			assert.Equal(t, task.ID, taskID)
			return []*domain.SubTask{st}, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodGet, "/api/tasks/"+task.ID.String()+"/subtasks", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubTaskListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.SubTasks, 1)
	assert.Equal(t, st.ID.String(), resp.SubTasks[0].ID)
	assert.Equal(t, "success", resp.SubTasks[0].Status)
	assert.Equal(t, "https://cdn.easel.dev/tasks/x/y.png", resp.SubTasks[0].ImageURL)
	assert.Equal(t, 1024, resp.SubTasks[0].ImageWidth)
	assert.Equal(t, "image/png", resp.SubTasks[0].ContentType)
}

func TestSubmitTask(t *testing.T) {
	task := newDraftTask(t)
	require.NoError(t, task.UpdateStatus(domain.TaskStatusQueued))

	svc := &fakeTaskService{
		t: t,
		submitFn: func(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
			assert.Equal(t, task.ID, taskID)
			return task, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+task.ID.String()+"/submit", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
}

func TestSubmitTask_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "not a draft",
			err:        fmt.Errorf("%w: task is processing", service.ErrTaskNotSubmittable),
			wantStatus: http.StatusConflict,
			wantBody:   "Task cannot be submitted in its current status",
		},
		{
			name:       "unknown style",
			err:        fmt.Errorf("%w: %q", service.ErrUnknownStyle, "vaporwave"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Unknown style selected",
		},
		{
			name:       "unknown model",
			err:        fmt.Errorf("%w: %q", service.ErrUnknownModel, "dall-e-9"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Unknown model selected",
		},
		{
			name:       "not found",
			err:        service.ErrTaskNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "Task not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeTaskService{
				t: t,
				submitFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
					return nil, tc.err
				},
			}
			router := newTestRouter(t, svc)

			rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+uuid.NewString()+"/submit", nil)

			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

func TestCancelTask(t *testing.T) {
	task := newDraftTask(t)
	require.NoError(t, task.UpdateStatus(domain.TaskStatusQueued))
	require.NoError(t, task.UpdateStatus(domain.TaskStatusCancelled))

	svc := &fakeTaskService{
		t: t,
		cancelFn: func(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
			assert.Equal(t, task.ID, taskID)
			return task, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+task.ID.String()+"/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "cancelled", resp.Status)
}

func TestCancelTask_Rejected(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		cancelFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return nil, fmt.Errorf("%w: task is draft", service.ErrTaskNotCancellable)
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+uuid.NewString()+"/cancel", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Task cannot be cancelled in its current status")
}

func TestRetryTask(t *testing.T) {
	task := newDraftTask(t)

	svc := &fakeTaskService{
		t: t,
		retryFailedFn: func(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
			assert.Equal(t, task.ID, taskID)
			return task, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+task.ID.String()+"/retry", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRetryTask_NothingToRetry(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		retryFailedFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return nil, service.ErrNothingToRetry
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/tasks/"+uuid.NewString()+"/retry", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Task has no failed subtasks to retry")
}

func TestRetrySubTask(t *testing.T) {
	task := newDraftTask(t)
	st, err := domain.NewSubTask(task.ID, "v1", "watercolor", "gemini", 0, "a lighthouse", "", "1:1", nil)
	require.NoError(t, err)

	svc := &fakeTaskService{
		t: t,
		retrySubtaskFn: func(_ context.Context, subTaskID uuid.UUID) (*domain.SubTask, error) {
			assert.Equal(t, st.ID, subTaskID)
			return st, nil
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/api/subtasks/"+st.ID.String()+"/retry", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubTaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, st.ID.String(), resp.ID)
}

func TestRetrySubTask_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "not in failed status",
			err:        fmt.Errorf("%w: subtask is success", service.ErrSubTaskNotRetryable),
			wantStatus: http.StatusBadRequest,
			wantBody:   "Subtask is not in a failed status",
		},
		{
			name:       "parent cancelled",
			err:        fmt.Errorf("%w: task %s", service.ErrTaskCancelled, uuid.NewString()),
			wantStatus: http.StatusConflict,
			wantBody:   "Parent task has been cancelled",
		},
		{
			name:       "not found",
			err:        service.ErrSubTaskNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "Subtask not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeTaskService{
				t: t,
				retrySubtaskFn: func(_ context.Context, _ uuid.UUID) (*domain.SubTask, error) {
					return nil, tc.err
				},
			}
			router := newTestRouter(t, svc)

			rec := doJSON(t, router, http.MethodPost, "/api/subtasks/"+uuid.NewString()+"/retry", nil)

			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

// Every error response must carry the request's trace ID so clients can
// quote it back when reporting problems.
func TestErrorResponsesCarryTraceID(t *testing.T) {
	svc := &fakeTaskService{
		t: t,
		getFn: func(_ context.Context, _ uuid.UUID) (*service.TaskDetail, error) {
			return nil, service.ErrTaskNotFound
		},
	}
	router := newTestRouter(t, svc)

	rec := doJSON(t, router, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp shared.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.TraceID, 32, "trace id should be present and well formed")
}
