package tracker

import (
	"sync"
	"time"

	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

// EventSource is one logical change-feed channel. The production
// implementation speaks websocket to the backend; tests drive a fake.
// The channel returned by Events is closed by Close.
type EventSource interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// Scope restricts which notifications a subscription applies. An empty
// UserID accepts every row; an empty Tables list accepts every table.
type Scope struct {
	UserID string
	Tables []string
}

func (s Scope) acceptsTable(table string) bool {
	if len(s.Tables) == 0 {
		return true
	}
	for _, t := range s.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// SubscriptionManager consumes insert/update/delete notifications from an
// EventSource and applies them to the registry under the reconciliation
// rules: inserts create or merge, updates patch the fields present and are
// ordered by event timestamp, deletes drop the bucket.
type SubscriptionManager struct {
	registry *Registry
	source   EventSource
	scope    Scope
	logger   *logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewSubscriptionManager creates a manager for one source and scope. Call
// Start to begin applying events.
func NewSubscriptionManager(registry *Registry, source EventSource, scope Scope, log *logger.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		registry: registry,
		source:   source,
		scope:    scope,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Start consumes the source until it is closed.
func (m *SubscriptionManager) Start() {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.done)
			for event := range m.source.Events() {
				m.apply(event)
			}
		}()
	})
}

// Unsubscribe closes the underlying channel and blocks until the apply
// loop has drained; after it returns no further registry writes from this
// subscription occur. Invoked whenever the signed-in user changes or the
// consuming surface goes away. Safe to call on a manager that was never
// started.
func (m *SubscriptionManager) Unsubscribe() {
	m.stopOnce.Do(func() {
		// A manager that never started has no loop to drain; consume the
		// start slot so a later Start becomes a no-op.
		m.startOnce.Do(func() { close(m.done) })
		if err := m.source.Close(); err != nil {
			m.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Error closing change-feed source")
		}
		<-m.done
	})
}

func (m *SubscriptionManager) apply(event models.ChangeEvent) {
	if !m.scope.acceptsTable(event.Table) {
		return
	}

	switch event.Table {
	case models.TableTasks:
		m.applyTask(event)
	case models.TableAgentRuns:
		m.applyRun(event)
	default:
		m.logger.WithPayload(map[string]interface{}{"table": event.Table}).Debug("Ignoring change event for unknown table")
	}
}

func (m *SubscriptionManager) applyTask(event models.ChangeEvent) {
	switch event.Event {
	case models.ChangeEventInsert, models.ChangeEventUpdate:
		task, err := models.TaskFromRow(event.New)
		if err != nil {
			m.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Dropping malformed task notification")
			return
		}
		if !m.inScope(task.UserID) {
			return
		}
		if event.Event == models.ChangeEventInsert {
			m.registry.ApplyTaskUpsert(task)
			return
		}
		m.registry.ApplyTaskPatch(task, time.Now())

	case models.ChangeEventDelete:
		row := event.Old
		if row == nil {
			row = event.New
		}
		task, err := models.TaskFromRow(row)
		if err != nil {
			m.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Dropping malformed task delete notification")
			return
		}
		m.registry.RemoveTask(task.ID)
	}
}

func (m *SubscriptionManager) applyRun(event models.ChangeEvent) {
	switch event.Event {
	case models.ChangeEventInsert, models.ChangeEventUpdate:
		run, err := models.AgentRunFromRow(event.New)
		if err != nil {
			m.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Dropping malformed agent run notification")
			return
		}
		m.registry.ApplyRunUpsert(run)

	case models.ChangeEventDelete:
		row := event.Old
		if row == nil {
			row = event.New
		}
		run, err := models.AgentRunFromRow(row)
		if err != nil {
			m.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Dropping malformed agent run delete notification")
			return
		}
		m.registry.RemoveRun(run.TaskID, run.ID)
	}
}

func (m *SubscriptionManager) inScope(userID string) bool {
	return m.scope.UserID == "" || userID == "" || userID == m.scope.UserID
}
