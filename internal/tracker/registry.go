package tracker

import (
	"sync"
	"time"

	"seopilot/internal/models"
	"seopilot/pkg/logger"
	"seopilot/pkg/util"
)

// DefaultMaxTasks bounds how many task records the registry retains. The
// oldest-touched records are evicted together with their runs and logs.
const DefaultMaxTasks = 200

// DefaultDedupWindow is the tolerance within which two log entries with the
// same message are considered one event delivered twice.
const DefaultDedupWindow = 500 * time.Millisecond

// State is the registry's mutable contents. Mutation functions passed to
// Set operate on it directly; everything handed out through Get or observer
// notifications is a deep copy.
type State struct {
	Tasks map[string]*models.Task
	Runs  map[string]map[string]*models.AgentRun
	Logs  map[string][]models.TaskLogEntry
}

func newState() *State {
	return &State{
		Tasks: make(map[string]*models.Task),
		Runs:  make(map[string]map[string]*models.AgentRun),
		Logs:  make(map[string][]models.TaskLogEntry),
	}
}

func (s *State) clone() *State {
	cp := newState()
	for id, task := range s.Tasks {
		cp.Tasks[id] = task.Clone()
	}
	for taskID, runs := range s.Runs {
		dst := make(map[string]*models.AgentRun, len(runs))
		for id, run := range runs {
			dst[id] = run.Clone()
		}
		cp.Runs[taskID] = dst
	}
	for taskID, entries := range s.Logs {
		cp.Logs[taskID] = append([]models.TaskLogEntry(nil), entries...)
	}
	return cp
}

func (s *State) dropTask(taskID string) {
	delete(s.Tasks, taskID)
	delete(s.Runs, taskID)
	delete(s.Logs, taskID)
}

// Options configures a Registry.
type Options struct {
	// MaxTasks bounds retained task records; zero means DefaultMaxTasks.
	MaxTasks int
	// DedupWindow is the log de-duplication tolerance; zero means
	// DefaultDedupWindow.
	DedupWindow time.Duration
}

// Registry is the single shared store of tracked tasks, agent runs and log
// entries. Optimistic writes, change-feed notifications and poll responses
// all commit through it; observers are notified exactly once per committed
// mutation. It is constructed per session and reset on sign-out.
type Registry struct {
	mu        sync.Mutex
	state     *State
	recency   *util.LRUCache[string, struct{}]
	observers map[int]func(*State)
	nextObsID int
	seq       uint64

	dedupWindow time.Duration
	maxTasks    int
	logger      *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options, log *logger.Logger) *Registry {
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = DefaultMaxTasks
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	r := &Registry{
		state:       newState(),
		observers:   make(map[int]func(*State)),
		dedupWindow: opts.DedupWindow,
		maxTasks:    opts.MaxTasks,
		logger:      log,
	}
	r.recency, _ = util.NewLRU(util.LRUConfig[string, struct{}]{
		Capacity: opts.MaxTasks,
		OnEvict: func(taskID string, _ struct{}) {
			r.state.dropTask(taskID)
		},
	})
	return r
}

// Get returns a deep copy of the current state.
func (r *Registry) Get() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Subscribe registers an observer invoked synchronously after every
// committed mutation with a copy of the new state. The returned function
// removes the observer; after it returns the observer is never called
// again.
func (r *Registry) Subscribe(observer func(*State)) func() {
	r.mu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers[id] = observer
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Set runs mutate against the live state as one atomic read-modify-write
// and notifies observers once. Components never hold private copies of
// registry data; every write goes through here or through the typed
// operations below, which use the same commit path.
func (r *Registry) Set(mutate func(*State)) {
	r.commit(func() bool {
		mutate(r.state)
		return true
	})
}

// Reset drops all state, for sign-out or scope changes. Observers are
// notified with the empty state.
func (r *Registry) Reset() {
	r.commit(func() bool {
		r.state = newState()
		r.recency, _ = util.NewLRU(util.LRUConfig[string, struct{}]{
			Capacity: r.maxTasks,
			OnEvict: func(taskID string, _ struct{}) {
				r.state.dropTask(taskID)
			},
		})
		return true
	})
}

// Task returns a copy of one task record.
func (r *Registry) Task(taskID string) (*models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.state.Tasks[taskID]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// CreateTask inserts an optimistic task record under a client-generated
// temporary key, together with its first log line.
func (r *Registry) CreateTask(task *models.Task, message string, at time.Time) {
	r.commit(func() bool {
		r.touch(task.ID)
		r.state.Tasks[task.ID] = task.Clone()
		if message != "" {
			r.appendLocked(models.TaskLogEntry{TaskID: task.ID, Timestamp: at, Message: message})
		}
		return true
	})
}

// AppendLog inserts a log entry into the task's ordered sequence.
// Duplicates within the dedup window are dropped silently.
func (r *Registry) AppendLog(entry models.TaskLogEntry) {
	r.commit(func() bool {
		return r.appendLocked(entry)
	})
}

// ApplyTaskUpsert ingests an insert notification from the change feed. An
// unseen identifier creates a new bucket; a seen one is merged with the
// freshest-timestamp rules, which covers the race where the feed outruns
// the optimistic caller.
func (r *Registry) ApplyTaskUpsert(task *models.Task) {
	r.commit(func() bool {
		existing, ok := r.state.Tasks[task.ID]
		if !ok {
			r.touch(task.ID)
			r.state.Tasks[task.ID] = task.Clone()
			return true
		}
		merged, note := mergeTasks(existing, task)
		r.state.Tasks[task.ID] = merged
		r.touch(task.ID)
		if note != "" {
			r.appendLocked(models.TaskLogEntry{TaskID: task.ID, Timestamp: merged.UpdatedAt, Message: note})
		}
		return true
	})
}

// ApplyTaskPatch ingests an update notification. Only the fields present in
// the patch are applied; a patch older than the record's last update is
// discarded as stale, and a status change appends a synthetic log line.
// Returns false when nothing was committed.
func (r *Registry) ApplyTaskPatch(patch *models.Task, at time.Time) bool {
	applied := false
	r.commit(func() bool {
		task, ok := r.state.Tasks[patch.ID]
		if !ok {
			// A patch for an unseen identifier creates the bucket.
			created := patch.Clone()
			if created.UpdatedAt.IsZero() {
				created.UpdatedAt = at
			}
			r.touch(created.ID)
			r.state.Tasks[created.ID] = created
			applied = true
			return true
		}

		eventAt := patch.UpdatedAt
		if eventAt.IsZero() {
			eventAt = at
		}
		if eventAt.Before(task.UpdatedAt) {
			r.logger.WithPayload(map[string]interface{}{
				"task_id":  patch.ID,
				"event_at": eventAt,
				"state_at": task.UpdatedAt,
			}).Info("Discarding stale task update")
			return false
		}

		changed := r.patchLocked(task, patch, eventAt)
		applied = changed
		return changed
	})
	return applied
}

// ApplyStatusSnapshot ingests a poll response for taskID. The snapshot's
// status, progress and article identifier are folded into the record, and a
// log line summarizing a status change is appended. Returns false when the
// task is unknown or the snapshot changed nothing.
func (r *Registry) ApplyStatusSnapshot(taskID string, snap *models.OrchestrationStatus, at time.Time) bool {
	applied := false
	r.commit(func() bool {
		task, ok := r.state.Tasks[taskID]
		if !ok {
			return false
		}

		patch := &models.Task{
			ID:              taskID,
			Status:          snap.Status,
			ProgressMessage: snap.ProgressMessage,
			ArticleID:       snap.ArticleID,
			Error:           snap.Error,
			UpdatedAt:       at,
			CompletedAt:     snap.CompletedAt,
		}
		changed := r.patchLocked(task, patch, at)
		applied = changed
		return changed
	})
	return applied
}

// ApplyRunUpsert ingests an agent run insert or update. The run's parent
// task record does not need to exist yet; runs for unseen tasks are held
// until the task arrives or retention drops them.
func (r *Registry) ApplyRunUpsert(run *models.AgentRun) {
	r.commit(func() bool {
		runs, ok := r.state.Runs[run.TaskID]
		if !ok {
			runs = make(map[string]*models.AgentRun)
			r.state.Runs[run.TaskID] = runs
		}
		if existing, ok := runs[run.ID]; ok {
			if existing.Status.Terminal() && run.Status != existing.Status {
				r.logger.WithPayload(map[string]interface{}{
					"run_id": run.ID, "from": existing.Status, "to": run.Status,
				}).Warn("Discarding agent run transition out of terminal state")
				return false
			}
			if !run.UpdatedAt.IsZero() && run.UpdatedAt.Before(existing.UpdatedAt) {
				return false
			}
		}
		runs[run.ID] = run.Clone()
		return true
	})
}

// RemoveRun drops one agent run.
func (r *Registry) RemoveRun(taskID, runID string) {
	r.commit(func() bool {
		runs, ok := r.state.Runs[taskID]
		if !ok {
			return false
		}
		if _, ok := runs[runID]; !ok {
			return false
		}
		delete(runs, runID)
		if len(runs) == 0 {
			delete(r.state.Runs, taskID)
		}
		return true
	})
}

// RemoveTask drops a task with its runs and logs, on an explicit delete
// notification. In-flight pollers for the key observe the removal through
// their registry subscription and terminate without error.
func (r *Registry) RemoveTask(taskID string) {
	r.commit(func() bool {
		if _, ok := r.state.Tasks[taskID]; !ok {
			return false
		}
		r.recency.Remove(taskID)
		r.state.dropTask(taskID)
		return true
	})
}

// MarkTriggerFailed tags a temporary bucket whose originating call failed
// before the server issued a key. The bucket is retained so the failure
// stays visible, and is never resolved or merged afterwards.
func (r *Registry) MarkTriggerFailed(tempKey, errMsg string, at time.Time) {
	r.commit(func() bool {
		task, ok := r.state.Tasks[tempKey]
		if !ok {
			return false
		}
		if r.statusLocked(task, models.TaskStatusFailed, at) {
			task.Error = errMsg
			r.appendLocked(models.TaskLogEntry{TaskID: tempKey, Timestamp: at, Message: "failed: " + errMsg})
		}
		return true
	})
}

// RetryTask reopens a failed task on explicit user action: status moves to
// retrying and the attempt log line is appended. This is the one deliberate
// exception to the terminal guard; passive updates can never leave a
// terminal state, a user-initiated retry starts a new lifecycle in place.
func (r *Registry) RetryTask(taskID string, at time.Time) bool {
	ok := false
	r.commit(func() bool {
		task, found := r.state.Tasks[taskID]
		if !found || task.Status != models.TaskStatusFailed {
			return false
		}
		task.Status = models.TaskStatusRetrying
		task.Error = ""
		task.CompletedAt = nil
		task.UpdatedAt = at
		r.touch(taskID)
		r.appendLocked(models.TaskLogEntry{TaskID: taskID, Timestamp: at, Message: "retrying"})
		ok = true
		return true
	})
	return ok
}

// MarkCancelling optimistically moves a task to cancelling ahead of the
// backend acknowledging the cancel request.
func (r *Registry) MarkCancelling(taskID string, at time.Time) bool {
	ok := false
	r.commit(func() bool {
		task, found := r.state.Tasks[taskID]
		if !found {
			return false
		}
		if !CanTransition(task.Status, models.TaskStatusCancelling) {
			return false
		}
		if r.statusLocked(task, models.TaskStatusCancelling, at) {
			r.appendLocked(models.TaskLogEntry{TaskID: taskID, Timestamp: at, Message: "cancellation requested"})
			ok = true
			return true
		}
		return false
	})
	return ok
}

// --- internal helpers; all assume r.mu is held ---

// commit runs mutate under the lock and, when it reports a change, notifies
// observers exactly once with a copy of the new state. Observers run
// outside the lock so they may call back into the registry.
func (r *Registry) commit(mutate func() bool) {
	r.mu.Lock()
	if !mutate() {
		r.mu.Unlock()
		return
	}
	snapshot := r.state.clone()
	observers := make([]func(*State), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// touch refreshes a task's retention slot, evicting the oldest record when
// the bound is exceeded.
func (r *Registry) touch(taskID string) {
	r.recency.Put(taskID, struct{}{})
}

// statusLocked applies a status change under the terminal guard. A
// transition out of a terminal state is logged and discarded.
func (r *Registry) statusLocked(task *models.Task, to models.TaskStatus, at time.Time) bool {
	if task.Status == to {
		return false
	}
	if task.Status.Terminal() {
		r.logger.WithPayload(map[string]interface{}{
			"task_id": task.ID, "from": task.Status, "to": to,
		}).Warn("Discarding status transition out of terminal state")
		return false
	}
	task.Status = to
	task.UpdatedAt = at
	if to.Terminal() && task.CompletedAt == nil {
		completed := at
		task.CompletedAt = &completed
	}
	return true
}

// patchLocked applies the non-zero fields of patch onto task. The caller
// has already rejected stale patches by timestamp.
func (r *Registry) patchLocked(task *models.Task, patch *models.Task, at time.Time) bool {
	changed := false

	if patch.Status != "" && patch.Status != task.Status {
		if r.statusLocked(task, patch.Status, at) {
			changed = true
			r.appendLocked(models.TaskLogEntry{
				TaskID:    task.ID,
				Timestamp: at,
				Message:   "status: " + string(task.Status),
			})
		} else if task.Status.Terminal() {
			// Terminal guard rejected the transition; nothing else from
			// this event is applied either.
			return false
		}
	}
	if patch.ProgressMessage != "" && patch.ProgressMessage != task.ProgressMessage {
		task.ProgressMessage = patch.ProgressMessage
		changed = true
	}
	if patch.ArticleID != "" && patch.ArticleID != task.ArticleID {
		task.ArticleID = patch.ArticleID
		changed = true
	}
	if patch.PublishingJobID != "" && patch.PublishingJobID != task.PublishingJobID {
		task.PublishingJobID = patch.PublishingJobID
		changed = true
	}
	if patch.Error != "" && patch.Error != task.Error {
		task.Error = patch.Error
		changed = true
	}
	if patch.WebsiteID != "" && task.WebsiteID == "" {
		task.WebsiteID = patch.WebsiteID
		changed = true
	}
	if patch.CompletedAt != nil && task.CompletedAt == nil {
		completed := *patch.CompletedAt
		task.CompletedAt = &completed
		changed = true
	}
	if changed {
		task.UpdatedAt = at
		r.touch(task.ID)
	}
	return changed
}

// appendLocked inserts a log entry in timestamp order, assigning the
// insertion sequence used for tie-breaking. Returns false when the entry
// was dropped as a duplicate.
func (r *Registry) appendLocked(entry models.TaskLogEntry) bool {
	r.seq++
	entry.Seq = r.seq
	merged, inserted := insertEntry(r.state.Logs[entry.TaskID], entry, r.dedupWindow)
	if !inserted {
		return false
	}
	r.state.Logs[entry.TaskID] = merged
	return true
}
