package models

// ChangeEventKind is the kind of row change carried by a change-feed
// notification.
type ChangeEventKind string

const (
	ChangeEventInsert ChangeEventKind = "insert"
	ChangeEventUpdate ChangeEventKind = "update"
	ChangeEventDelete ChangeEventKind = "delete"
)

// Change-feed table names, mirroring the backend's task tables.
const (
	TableTasks     = "tasks"
	TableAgentRuns = "agent_runs"
)

// ChangeEvent is one notification from the backend change feed. New and Old
// arrive as loose row maps; they are converted to typed records immediately
// on ingestion and never travel further than the subscription manager.
type ChangeEvent struct {
	Event       ChangeEventKind        `json:"event"`
	Table       string                 `json:"table"`
	FilterScope string                 `json:"filter_scope,omitempty"`
	New         map[string]interface{} `json:"new,omitempty"`
	Old         map[string]interface{} `json:"old,omitempty"`
}
