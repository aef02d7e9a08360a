package api

import (
	"time"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/service"
)

// Common request/response structures

// BatchRequest carries the fan-out dimensions of a new task. Zero values
// fall back to domain defaults (3 variants, 1:1 aspect ratio).
type BatchRequest struct {
	VariantCount     int    `json:"variant_count"      validate:"omitempty,gte=1,lte=10"`
	CountPerPrompt   int    `json:"count_per_prompt"   validate:"required,gte=1,lte=50"`
	IncludeBaseStyle bool   `json:"include_base_style"`
	AspectRatio      string `json:"aspect_ratio"       validate:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4"`
	NegativePrompt   string `json:"negative_prompt"    validate:"omitempty,max=1000"`
	Seed             *int64 `json:"seed"`
	WebSearch        bool   `json:"web_search"`
}

// CreateTaskRequest defines the payload for creating a draft task.
type CreateTaskRequest struct {
	Subject  string       `json:"subject"   validate:"required,min=1,max=500"`
	StyleIDs []string     `json:"style_ids" validate:"required,min=1,max=8,dive,required"`
	ModelIDs []string     `json:"model_ids" validate:"required,min=1,max=8,dive,required"`
	Batch    BatchRequest `json:"batch"`
}

// toParams converts the request into service-layer parameters.
func (req CreateTaskRequest) toParams() service.CreateTaskParams {
	return service.CreateTaskParams{
		Subject:  req.Subject,
		StyleIDs: req.StyleIDs,
		ModelIDs: req.ModelIDs,
		Batch: domain.BatchConfig{
			VariantCount:     req.Batch.VariantCount,
			CountPerPrompt:   req.Batch.CountPerPrompt,
			IncludeBaseStyle: req.Batch.IncludeBaseStyle,
			AspectRatio:      req.Batch.AspectRatio,
			NegativePrompt:   req.Batch.NegativePrompt,
			Seed:             req.Batch.Seed,
			WebSearch:        req.Batch.WebSearch,
		},
	}
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID        string                 `json:"id"`
	Subject   string                 `json:"subject"`
	StyleIDs  []string               `json:"style_ids"`
	ModelIDs  []string               `json:"model_ids"`
	Variants  []domain.PromptVariant `json:"variants,omitempty"`
	Batch     domain.BatchConfig     `json:"batch"`
	Status    string                 `json:"status"`
	Progress  int                    `json:"progress"`
	ErrorLog  string                 `json:"error_log,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// TaskDetailResponse is a task plus the live distribution of its subtask
// statuses.
type TaskDetailResponse struct {
	TaskResponse
	SubTaskCounts domain.StatusCounts `json:"subtask_counts"`
}

// TaskListResponse wraps a page of tasks, newest first.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// SubTaskResponse represents the response data for one generation unit.
// Request/response snapshots stay internal; they are observability data,
// not API payloads.
type SubTaskResponse struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	VariantID      string     `json:"variant_id"`
	StyleID        string     `json:"style_id"`
	ModelID        string     `json:"model_id"`
	BatchIndex     int        `json:"batch_index"`
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt,omitempty"`
	AspectRatio    string     `json:"aspect_ratio"`
	Seed           *int64     `json:"seed,omitempty"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	ErrorLog       string     `json:"error_log,omitempty"`
	ErrorCategory  string     `json:"error_category,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	ImageWidth     int        `json:"image_width,omitempty"`
	ImageHeight    int        `json:"image_height,omitempty"`
	ContentType    string     `json:"content_type,omitempty"`
	ProviderSeed   *int64     `json:"provider_seed,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SubTaskListResponse wraps a task's subtasks.
type SubTaskListResponse struct {
	SubTasks []SubTaskResponse `json:"subtasks"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:        task.ID.String(),
		Subject:   task.Subject,
		StyleIDs:  task.StyleIDs,
		ModelIDs:  task.ModelIDs,
		Variants:  task.Variants,
		Batch:     task.Batch,
		Status:    string(task.Status),
		Progress:  task.Progress,
		ErrorLog:  task.ErrorLog,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
}

// subTaskToResponse converts a domain.SubTask to a SubTaskResponse
func subTaskToResponse(st *domain.SubTask) SubTaskResponse {
	return SubTaskResponse{
		ID:             st.ID.String(),
		TaskID:         st.TaskID.String(),
		VariantID:      st.VariantID,
		StyleID:        st.StyleID,
		ModelID:        st.ModelID,
		BatchIndex:     st.BatchIndex,
		Prompt:         st.Prompt,
		NegativePrompt: st.NegativePrompt,
		AspectRatio:    st.AspectRatio,
		Seed:           st.Seed,
		Status:         string(st.Status),
		RetryCount:     st.RetryCount,
		ErrorLog:       st.ErrorLog,
		ErrorCategory:  st.ErrorCategory,
		ImageURL:       st.ImageURL,
		ImageWidth:     st.ImageWidth,
		ImageHeight:    st.ImageHeight,
		ContentType:    st.ContentType,
		ProviderSeed:   st.ProviderSeed,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}
}
