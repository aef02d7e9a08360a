package api

import (
	"log/slog"
	"net/http"

	"github.com/easelhq/easel-api/internal/api/shared"
	"github.com/easelhq/easel-api/internal/platform/logger"
	"github.com/easelhq/easel-api/internal/redact"
	"github.com/easelhq/easel-api/internal/service"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService service.TaskService
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		taskService: taskService,
		logger:      logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks requests.
// It creates a new draft task from the submitted subject, selections and
// batch configuration.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	// Parse request body
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	// Validate request
	if err := shared.ValidateRequest(req); err != nil {
		log.Warn("validation error", slog.String("error", redact.Error(err)))
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.taskService.CreateTask(r.Context(), req.toParams())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// ListTasks handles GET /api/tasks requests.
// Results are ordered newest first; limit and offset are optional query
// parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	offset, err := getQueryInt(r, "offset", 0)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.taskService.ListTasks(r.Context(), limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	response := TaskListResponse{
		Tasks:  make([]TaskResponse, 0, len(tasks)),
		Limit:  limit,
		Offset: offset,
	}
	for _, task := range tasks {
		response.Tasks = append(response.Tasks, taskToResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetTask handles GET /api/tasks/{id} requests.
// The response includes the task's progress and its per-status subtask
// counts.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	detail, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve task")
		return
	}

	response := TaskDetailResponse{
		TaskResponse:  taskToResponse(detail.Task),
		SubTaskCounts: detail.Counts,
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetSubTasks handles GET /api/tasks/{id}/subtasks requests.
func (h *TaskHandler) GetSubTasks(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	subtasks, err := h.taskService.GetSubTasks(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve subtasks")
		return
	}

	response := SubTaskListResponse{
		SubTasks: make([]SubTaskResponse, 0, len(subtasks)),
	}
	for _, st := range subtasks {
		response.SubTasks = append(response.SubTasks, subTaskToResponse(st))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// SubmitTask handles POST /api/tasks/{id}/submit requests.
// Submission queues the draft and kicks off prompt expansion, so the
// response is 202 Accepted: the work continues after the response.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.taskService.SubmitTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Debug("task submitted", slog.String("task_id", taskID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.taskService.CancelTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	log.Debug("task cancelled", slog.String("task_id", taskID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// RetryTask handles POST /api/tasks/{id}/retry requests.
// Every failed subtask is reset and re-enqueued; like submit, the retry
// itself runs asynchronously.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.taskService.RetryFailed(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry task")
		return
	}

	log.Debug("task retry enqueued", slog.String("task_id", taskID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// RetrySubTask handles POST /api/subtasks/{id}/retry requests.
func (h *TaskHandler) RetrySubTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	subTaskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	st, err := h.taskService.RetrySubTask(r.Context(), subTaskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry subtask")
		return
	}

	log.Debug("subtask retry enqueued", slog.String("subtask_id", subTaskID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, subTaskToResponse(st))
}
