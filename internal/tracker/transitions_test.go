package tracker

import (
	"testing"

	"seopilot/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.TaskStatus
		want     bool
	}{
		{models.TaskStatusPending, models.TaskStatusProcessing, true},
		{models.TaskStatusPending, models.TaskStatusCancelling, true},
		{models.TaskStatusPending, models.TaskStatusFailed, true},
		{models.TaskStatusPending, models.TaskStatusCompleted, false},

		{models.TaskStatusProcessing, models.TaskStatusCompleted, true},
		{models.TaskStatusProcessing, models.TaskStatusRetrying, true},
		{models.TaskStatusProcessing, models.TaskStatusPending, false},

		{models.TaskStatusRetrying, models.TaskStatusProcessing, true},
		{models.TaskStatusRetrying, models.TaskStatusCompleted, false},

		{models.TaskStatusCancelling, models.TaskStatusCancelled, true},
		{models.TaskStatusCancelling, models.TaskStatusProcessing, false},

		{models.TaskStatusCompleted, models.TaskStatusProcessing, false},
		{models.TaskStatusFailed, models.TaskStatusProcessing, false},
		{models.TaskStatusCancelled, models.TaskStatusProcessing, false},

		// Repeated updates with the same status are not violations.
		{models.TaskStatusProcessing, models.TaskStatusProcessing, true},
		{models.TaskStatusCompleted, models.TaskStatusCompleted, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
