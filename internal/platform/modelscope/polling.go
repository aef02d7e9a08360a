package modelscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// Poll pacing: start fast while most tasks finish quickly, back off
	// exponentially to the cap for long-running ones.
	initialPollInterval = 2 * time.Second
	maxPollInterval     = 10 * time.Second

	defaultMaxPollAttempts = 60
)

// pollTask queries the task until it reaches a terminal status, the polling
// budget runs out, or the context ends.
func (a *ModelScopeAdapter) pollTask(ctx context.Context, taskID string) (*taskQueryResponse, error) {
	interval := initialPollInterval

	for attempt := 0; attempt < a.pollMaxAttempts; attempt++ {
		task, err := a.queryTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch task.TaskStatus {
		case taskStatusSucceed:
			return task, nil
		case taskStatusFailed:
			return nil, &TaskError{TaskID: taskID, Message: task.Message}
		case taskStatusPending, taskStatusRunning, taskStatusProcessing:
			if err := a.sleep(ctx, interval); err != nil {
				return nil, fmt.Errorf("modelscope: polling interrupted: %w", err)
			}
			interval *= 2
			if interval > maxPollInterval {
				interval = maxPollInterval
			}
		default:
			return nil, fmt.Errorf("modelscope: unknown task status %q", task.TaskStatus)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrPollTimeout, a.pollMaxAttempts)
}

// queryTask fetches the current task state.
func (a *ModelScopeAdapter) queryTask(ctx context.Context, taskID string) (*taskQueryResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+taskPath+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("modelscope: build query request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set(taskTypeHeader, taskTypeImageGen)

	raw, err := a.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	var decoded taskQueryResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("modelscope: decode query response: %w", err)
	}
	return &decoded, nil
}
