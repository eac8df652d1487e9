package tracker

import "seopilot/internal/models"

// transitions is the task state machine:
//
//	pending -> processing -> {completed | failed}
//	processing -> retrying -> processing
//	{pending, processing, retrying} -> cancelling -> cancelled
//
// Terminal states have no outgoing edges.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending: {
		models.TaskStatusProcessing,
		models.TaskStatusCancelling,
		models.TaskStatusFailed,
	},
	models.TaskStatusProcessing: {
		models.TaskStatusRetrying,
		models.TaskStatusCancelling,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
	},
	models.TaskStatusRetrying: {
		models.TaskStatusProcessing,
		models.TaskStatusCancelling,
		models.TaskStatusFailed,
	},
	models.TaskStatusCancelling: {
		models.TaskStatusCancelled,
		models.TaskStatusFailed,
	},
	models.TaskStatusCompleted: nil,
	models.TaskStatusFailed:    nil,
	models.TaskStatusCancelled: nil,
}

// CanTransition reports whether the state machine permits moving a task from
// one status to another. Self-transitions are allowed so repeated updates
// carrying the same status are not treated as violations.
func CanTransition(from, to models.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
