package modelscope

// taskSubmitRequest is the POST /v1/images/generations body. With the async
// mode header set, the API queues a task instead of blocking.
type taskSubmitRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n,omitempty"`
}

type taskSubmitResponse struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
}

// taskQueryResponse is the GET /v1/tasks/{id} body. OutputImages is only
// populated once TaskStatus reaches SUCCEED.
type taskQueryResponse struct {
	TaskID       string   `json:"task_id"`
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images,omitempty"`
	Message      string   `json:"message,omitempty"`
}
