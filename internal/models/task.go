package models

import (
	"time"
)

// TaskStatus defines the lifecycle states of a tracked backend task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusRetrying   TaskStatus = "retrying"
	TaskStatusCancelling TaskStatus = "cancelling"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether s is a final state. Once a task reaches a
// terminal state no further transition is accepted.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses. Status strings
// arriving over the wire are validated before ingestion.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusRetrying,
		TaskStatusCancelling, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled:
		return true
	}
	return false
}

// TaskKind identifies which backend pipeline a task belongs to.
type TaskKind string

const (
	TaskKindOrchestration TaskKind = "orchestration"
	TaskKindAnalysis      TaskKind = "analysis"
	TaskKindPublish       TaskKind = "publish"
	TaskKindPixelGenerate TaskKind = "pixel_generate"
	TaskKindPixelRollback TaskKind = "pixel_rollback"
	TaskKindCMSSync       TaskKind = "cms_sync"
)

// Task is the client-side record of one long-running backend job. Its ID is
// a client-generated temporary key until the trigger call resolves with the
// server-issued identifier, after which the record is rekeyed in place.
type Task struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	WebsiteID       string     `json:"website_id,omitempty"`
	ArticleID       string     `json:"article_id,omitempty"`
	PublishingJobID string     `json:"publishing_job_id,omitempty"`
	Kind            TaskKind   `json:"kind"`
	Status          TaskStatus `json:"status"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a shallow copy with the CompletedAt pointer duplicated, so
// snapshots handed to observers cannot alias registry state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
