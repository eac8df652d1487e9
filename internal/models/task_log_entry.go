package models

import "time"

// TaskLogEntry is one line of the live progress feed for a task. Entries are
// produced locally when the user acts, by status polling, and by the agent
// log stream; all three converge in the tracker's log aggregator.
type TaskLogEntry struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`

	// Seq is assigned by the aggregator on insertion and breaks ordering
	// ties between entries with identical timestamps. It is never sent on
	// the wire.
	Seq uint64 `json:"-"`
}
