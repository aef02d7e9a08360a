package domain

import "testing"

func TestCountStatuses(t *testing.T) {
	t.Parallel()

	counts := CountStatuses([]SubTaskStatus{
		SubTaskStatusPending,
		SubTaskStatusPending,
		SubTaskStatusProcessing,
		SubTaskStatusSuccess,
		SubTaskStatusFailed,
		SubTaskStatusCancelled,
	})

	if counts.Pending != 2 || counts.Processing != 1 || counts.Success != 1 ||
		counts.Failed != 1 || counts.Cancelled != 1 {
		t.Errorf("Unexpected counts: %+v", counts)
	}

	if counts.Total() != 6 {
		t.Errorf("Expected total 6, got %d", counts.Total())
	}

	if counts.Terminal() != 3 {
		t.Errorf("Expected terminal 3, got %d", counts.Terminal())
	}
}

func TestAggregateStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		counts       StatusCounts
		total        int
		wantStatus   TaskStatus
		wantProgress int
	}{
		{
			name:         "all success resolves completed",
			counts:       StatusCounts{Success: 24},
			total:        24,
			wantStatus:   TaskStatusCompleted,
			wantProgress: 100,
		},
		{
			name:         "mix of success and failure resolves partial_failed",
			counts:       StatusCounts{Success: 3, Failed: 1},
			total:        4,
			wantStatus:   TaskStatusPartialFailed,
			wantProgress: 100,
		},
		{
			name:         "success plus cancelled resolves partial_failed",
			counts:       StatusCounts{Success: 2, Cancelled: 2},
			total:        4,
			wantStatus:   TaskStatusPartialFailed,
			wantProgress: 100,
		},
		{
			name:         "no success resolves failed",
			counts:       StatusCounts{Failed: 3, Cancelled: 1},
			total:        4,
			wantStatus:   TaskStatusFailed,
			wantProgress: 100,
		},
		{
			name:         "pending units keep the task processing",
			counts:       StatusCounts{Pending: 1, Success: 3},
			total:        4,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 75,
		},
		{
			name:         "processing units keep the task processing",
			counts:       StatusCounts{Processing: 2, Success: 1, Failed: 1},
			total:        4,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 50,
		},
		{
			name:         "progress rounds to nearest integer",
			counts:       StatusCounts{Pending: 2, Success: 1},
			total:        3,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 33,
		},
		{
			name:         "rounding up",
			counts:       StatusCounts{Pending: 1, Success: 2},
			total:        3,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 67,
		},
		{
			name:         "terminal snapshot smaller than expected stays processing",
			counts:       StatusCounts{Success: 3},
			total:        6,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 50,
		},
		{
			name:         "no subtasks yet",
			counts:       StatusCounts{},
			total:        0,
			wantStatus:   TaskStatusProcessing,
			wantProgress: 0,
		},
		{
			name:         "stale total expected is corrected by the snapshot",
			counts:       StatusCounts{Success: 6},
			total:        4,
			wantStatus:   TaskStatusCompleted,
			wantProgress: 100,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, progress := AggregateStatus(tc.counts, tc.total)
			if status != tc.wantStatus {
				t.Errorf("Expected status %s, got %s", tc.wantStatus, status)
			}
			if progress != tc.wantProgress {
				t.Errorf("Expected progress %d, got %d", tc.wantProgress, progress)
			}
		})
	}
}
