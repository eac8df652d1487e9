package models

import (
	"fmt"
	"time"
)

// Row conversion for change-feed payloads. Rows arrive as loose
// map[string]interface{} blobs; everything downstream of these functions
// works with typed records only.

// TaskFromRow converts a change-feed row into a Task. It fails when the row
// is missing an identifier or carries an unknown status, so malformed
// notifications never reach the registry.
func TaskFromRow(row map[string]interface{}) (*Task, error) {
	id := stringField(row, "id")
	if id == "" {
		return nil, fmt.Errorf("task row has no id")
	}

	task := &Task{
		ID:              id,
		UserID:          stringField(row, "user_id"),
		WebsiteID:       stringField(row, "website_id"),
		ArticleID:       stringField(row, "article_id"),
		PublishingJobID: stringField(row, "publishing_job_id"),
		Kind:            TaskKind(stringField(row, "kind")),
		ProgressMessage: stringField(row, "progress_message"),
		Error:           stringField(row, "error"),
	}

	if raw := stringField(row, "status"); raw != "" {
		status := TaskStatus(raw)
		if !status.Valid() {
			return nil, fmt.Errorf("task row %s has unknown status %q", id, raw)
		}
		task.Status = status
	}

	task.CreatedAt = timeField(row, "created_at")
	task.UpdatedAt = timeField(row, "updated_at")
	if at := timeField(row, "completed_at"); !at.IsZero() {
		task.CompletedAt = &at
	}
	return task, nil
}

// AgentRunFromRow converts a change-feed row into an AgentRun.
func AgentRunFromRow(row map[string]interface{}) (*AgentRun, error) {
	id := stringField(row, "id")
	taskID := stringField(row, "task_id")
	if id == "" || taskID == "" {
		return nil, fmt.Errorf("agent run row missing id or task_id")
	}

	run := &AgentRun{
		ID:           id,
		TaskID:       taskID,
		AgentType:    AgentType(stringField(row, "agent_type")),
		Attempt:      intField(row, "attempt"),
		ErrorMessage: stringField(row, "error_message"),
		CreatedAt:    timeField(row, "created_at"),
		UpdatedAt:    timeField(row, "updated_at"),
	}

	if raw := stringField(row, "status"); raw != "" {
		status := TaskStatus(raw)
		if !status.Valid() {
			return nil, fmt.Errorf("agent run row %s has unknown status %q", id, raw)
		}
		run.Status = status
	}
	return run, nil
}

func stringField(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func intField(row map[string]interface{}, key string) int {
	switch v := row[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// encoding/json decodes all numbers into float64.
		return int(v)
	}
	return 0
}

func timeField(row map[string]interface{}, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
