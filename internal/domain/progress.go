package domain

import "math"

// StatusCounts is the distribution of subtask statuses for one task at a
// point in time.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// CountStatuses tallies a snapshot of subtask statuses.
func CountStatuses(statuses []SubTaskStatus) StatusCounts {
	var c StatusCounts
	for _, s := range statuses {
		switch s {
		case SubTaskStatusPending:
			c.Pending++
		case SubTaskStatusProcessing:
			c.Processing++
		case SubTaskStatusSuccess:
			c.Success++
		case SubTaskStatusFailed:
			c.Failed++
		case SubTaskStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Total returns the number of counted subtasks.
func (c StatusCounts) Total() int {
	return c.Pending + c.Processing + c.Success + c.Failed + c.Cancelled
}

// Terminal returns the number of subtasks in a terminal status.
func (c StatusCounts) Terminal() int {
	return c.Success + c.Failed + c.Cancelled
}

// AggregateStatus derives a processing task's status and progress percentage
// from a full snapshot of its subtask statuses. It is a pure function; the
// caller re-reads the snapshot under the task row lock, so concurrent
// completions cannot lose updates.
//
// progress = round(100 x terminal / totalExpected), clamped to [0,100].
// Resolution once every subtask is terminal: completed when all succeeded,
// failed when none succeeded, partial_failed for any mix. While any unit is
// pending or processing the task stays processing. Cancellation is decided by
// the cancel action, not here.
func AggregateStatus(c StatusCounts, totalExpected int) (TaskStatus, int) {
	total := totalExpected
	if total < c.Total() {
		total = c.Total()
	}
	if total == 0 {
		return TaskStatusProcessing, 0
	}

	progress := int(math.Round(100 * float64(c.Terminal()) / float64(total)))
	if progress > 100 {
		progress = 100
	}

	if c.Pending > 0 || c.Processing > 0 || c.Total() < totalExpected {
		return TaskStatusProcessing, progress
	}

	switch {
	case c.Failed == 0 && c.Cancelled == 0:
		return TaskStatusCompleted, progress
	case c.Success > 0:
		return TaskStatusPartialFailed, progress
	default:
		return TaskStatusFailed, progress
	}
}
