package models

import "time"

// AgentType identifies the specialized agent that executes one subtask of a
// pipeline run.
type AgentType string

const (
	AgentTypeKeyword     AgentType = "keyword"
	AgentTypeSemantic    AgentType = "semantic"
	AgentTypeSchema      AgentType = "schema"
	AgentTypeCompetitor  AgentType = "competitor"
	AgentTypePerformance AgentType = "performance"
	AgentTypeStrategy    AgentType = "strategy"
	AgentTypeWriting     AgentType = "writing"
	AgentTypeReview      AgentType = "review"
	AgentTypeMedia       AgentType = "media"
	AgentTypeFAQ         AgentType = "faq"
)

// AgentRun is one agent's contribution to a task. It belongs to exactly one
// Task and holds a back-reference to it; the task owns its runs, never the
// other way around. A run's status is independent of the parent task's own
// terminal state.
type AgentRun struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	AgentType    AgentType  `json:"agent_type"`
	Status       TaskStatus `json:"status"`
	Attempt      int        `json:"attempt"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a copy of the run.
func (r *AgentRun) Clone() *AgentRun {
	cp := *r
	return &cp
}
