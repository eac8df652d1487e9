package tracker

import (
	"context"
	"errors"
	"time"

	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

// StatusClient issues a single status-check call against the backend.
// Transport failures come back as errors and are retried within the poll
// deadline; structured backend failures come back as a snapshot carrying a
// failed status.
type StatusClient interface {
	TaskStatus(ctx context.Context, taskID string) (*models.OrchestrationStatus, error)
}

// ErrTaskFailed is returned by AwaitTerminal when the backend reports the
// task as failed. A poll timeout is not an error and never produces it.
var ErrTaskFailed = errors.New("task reported failure")

// PollResult is the outcome of one AwaitTerminal call.
type PollResult struct {
	// Snapshot is the last status snapshot observed, nil when none
	// arrived before the outcome.
	Snapshot *models.OrchestrationStatus
	// TimedOut is set when the deadline elapsed before the snapshot
	// became usable. The underlying task keeps running; later pushes or
	// polls still update it.
	TimedOut bool
	// Removed is set when the task was deleted from the registry while
	// the poll was in flight.
	Removed bool
}

// Poller repeatedly checks a task's status until a caller-supplied
// predicate accepts the snapshot. Every response is written into the
// registry so observers see progress while the caller is still waiting.
type Poller struct {
	registry *Registry
	client   StatusClient
	logger   *logger.Logger
}

// NewPoller creates a Poller writing through the given registry.
func NewPoller(registry *Registry, client StatusClient, log *logger.Logger) *Poller {
	return &Poller{registry: registry, client: client, logger: log}
}

// AwaitTerminal polls taskID every interval until isUsable accepts a
// snapshot or timeout elapses. Completion and the expected artifact can
// land non-atomically on the server, so a terminal completed status that
// the predicate rejects keeps the loop polling. A failed status ends the
// loop with ErrTaskFailed; a cancelled status or a registry removal ends
// it as a normal outcome. The poll is also woken early when another update
// source drives the task to a terminal state out-of-band.
func (p *Poller) AwaitTerminal(ctx context.Context, taskID string, isUsable func(*models.OrchestrationStatus) bool, interval, timeout time.Duration) (PollResult, error) {
	wake := make(chan struct{}, 1)
	unsubscribe := p.registry.Subscribe(func(state *State) {
		task, ok := state.Tasks[taskID]
		if !ok || task.Status.Terminal() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *models.OrchestrationStatus

	poll := func() (PollResult, error, bool) {
		snap, err := p.client.TaskStatus(ctx, taskID)
		if err != nil {
			var apiErr *models.APIError
			if errors.As(err, &apiErr) {
				// A structured backend error ends the loop; it lands on
				// the task record rather than crossing the boundary.
				failed := &models.OrchestrationStatus{
					TaskID: taskID,
					Status: models.TaskStatusFailed,
					Error:  apiErr.Message,
				}
				p.registry.ApplyStatusSnapshot(taskID, failed, time.Now())
				return PollResult{Snapshot: failed}, ErrTaskFailed, true
			}
			// Transport errors are transient here; keep polling until
			// the deadline.
			p.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
				"task_id": taskID,
			}).Debug("Status poll attempt failed")
			return PollResult{}, nil, false
		}

		last = snap
		p.registry.ApplyStatusSnapshot(taskID, snap, time.Now())

		if isUsable(snap) {
			return PollResult{Snapshot: snap}, nil, true
		}
		switch snap.Status {
		case models.TaskStatusFailed:
			return PollResult{Snapshot: snap}, ErrTaskFailed, true
		case models.TaskStatusCancelled:
			return PollResult{Snapshot: snap}, nil, true
		}
		return PollResult{}, nil, false
	}

	// First check immediately; the task may already be done.
	if result, err, done := poll(); done {
		return result, err
	}

	for {
		select {
		case <-ctx.Done():
			return PollResult{Snapshot: last}, ctx.Err()

		case <-deadline.C:
			p.logger.WithPayload(map[string]interface{}{
				"task_id": taskID, "timeout": timeout.String(),
			}).Warn("Status poll timed out before task became usable")
			return PollResult{Snapshot: last, TimedOut: true}, nil

		case <-ticker.C:
			if result, err, done := poll(); done {
				return result, err
			}

		case <-wake:
			task, ok := p.registry.Task(taskID)
			if !ok {
				return PollResult{Snapshot: last, Removed: true}, nil
			}
			snap := snapshotFromTask(task)
			if isUsable(snap) {
				return PollResult{Snapshot: snap}, nil
			}
			switch task.Status {
			case models.TaskStatusFailed:
				return PollResult{Snapshot: snap}, ErrTaskFailed
			case models.TaskStatusCancelled:
				return PollResult{Snapshot: snap}, nil
			}
			// Completed but not yet usable: the artifact has not landed,
			// keep polling for it.
		}
	}
}

// snapshotFromTask projects a registry record into the snapshot shape the
// usability predicate is written against.
func snapshotFromTask(task *models.Task) *models.OrchestrationStatus {
	return &models.OrchestrationStatus{
		TaskID:          task.ID,
		Status:          task.Status,
		ProgressMessage: task.ProgressMessage,
		CompletedAt:     task.CompletedAt,
		ArticleID:       task.ArticleID,
		Error:           task.Error,
	}
}
