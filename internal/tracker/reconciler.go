package tracker

import (
	"fmt"

	"seopilot/internal/models"
)

// Resolve rekeys the bucket created under a client-generated temporary key
// to the authoritative server key, moving its task record, agent runs and
// log entries. When the server key already has a bucket (the change feed
// outran the trigger response) the two are merged: log entries are
// concatenated in timestamp order and the status is settled by the freshest
// update timestamp, not by which source wrote last.
//
// Resolve is idempotent: once the temporary key is gone, calling it again
// commits nothing.
func (r *Registry) Resolve(tempKey, serverKey string) {
	if tempKey == serverKey || serverKey == "" {
		return
	}
	r.commit(func() bool {
		temp, ok := r.state.Tasks[tempKey]
		if !ok {
			return false
		}

		tempLogs := r.state.Logs[tempKey]
		tempRuns := r.state.Runs[tempKey]
		r.state.dropTask(tempKey)
		r.recency.Remove(tempKey)

		moved := temp.Clone()
		moved.ID = serverKey

		var note string
		if existing, ok := r.state.Tasks[serverKey]; ok {
			moved, note = mergeTasks(existing, moved)
			moved.ID = serverKey
		}
		r.state.Tasks[serverKey] = moved
		r.touch(serverKey)

		for i := range tempLogs {
			tempLogs[i].TaskID = serverKey
		}
		r.state.Logs[serverKey] = mergeEntries(r.state.Logs[serverKey], tempLogs, r.dedupWindow)

		if len(tempRuns) > 0 {
			dst := r.state.Runs[serverKey]
			if dst == nil {
				dst = make(map[string]*models.AgentRun, len(tempRuns))
				r.state.Runs[serverKey] = dst
			}
			for id, run := range tempRuns {
				run.TaskID = serverKey
				dst[id] = run
			}
		}

		if note != "" {
			r.appendLocked(models.TaskLogEntry{
				TaskID:    serverKey,
				Timestamp: moved.UpdatedAt,
				Message:   note,
			})
		}
		return true
	})
}

// mergeTasks reconciles two records for the same logical task. The record
// with the later update timestamp wins contested fields; identity fields
// missing on the winner are filled from the loser, the earlier creation
// time is kept, and a terminal status is never displaced by a non-terminal
// one. The returned note, when non-empty, is an informational line about a
// status disagreement; merge conflicts are logged, never raised.
func mergeTasks(a, b *models.Task) (*models.Task, string) {
	newer, older := b, a
	if a.UpdatedAt.After(b.UpdatedAt) {
		newer, older = a, b
	}

	merged := newer.Clone()
	if merged.UserID == "" {
		merged.UserID = older.UserID
	}
	if merged.WebsiteID == "" {
		merged.WebsiteID = older.WebsiteID
	}
	if merged.ArticleID == "" {
		merged.ArticleID = older.ArticleID
	}
	if merged.PublishingJobID == "" {
		merged.PublishingJobID = older.PublishingJobID
	}
	if merged.Kind == "" {
		merged.Kind = older.Kind
	}
	if merged.ProgressMessage == "" {
		merged.ProgressMessage = older.ProgressMessage
	}
	if merged.Error == "" {
		merged.Error = older.Error
	}
	if !older.CreatedAt.IsZero() && (merged.CreatedAt.IsZero() || older.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = older.CreatedAt
	}
	if merged.CompletedAt == nil {
		merged.CompletedAt = older.CompletedAt
	}

	if older.Status.Terminal() && !newer.Status.Terminal() {
		merged.Status = older.Status
		merged.CompletedAt = older.CompletedAt
	}

	var note string
	if a.Status != b.Status {
		note = fmt.Sprintf("reconciled status to %s", merged.Status)
	}
	return merged, note
}
