package tracker

import (
	"testing"
	"time"

	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

func newTestRegistry(opts Options) *Registry {
	return NewRegistry(opts, logger.New("test", "", ""))
}

func newPendingTask(id, userID string, at time.Time) *models.Task {
	return &models.Task{
		ID:        id,
		UserID:    userID,
		Kind:      models.TaskKindOrchestration,
		Status:    models.TaskStatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestCreateTaskAppendsFirstLogLine(t *testing.T) {
	r := newTestRegistry(Options{})
	now := time.Now()

	r.CreateTask(newPendingTask("temp-1", "u1", now), "orchestration requested", now)

	state := r.Get()
	if _, ok := state.Tasks["temp-1"]; !ok {
		t.Fatal("expected task temp-1 to exist")
	}
	logs := state.Logs["temp-1"]
	if len(logs) != 1 || logs[0].Message != "orchestration requested" {
		t.Fatalf("expected one initial log line, got %v", logs)
	}
}

func TestLatestEventTimestampWins(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.CreateTask(newPendingTask("srv-1", "u1", base), "", base)

	// The newer event arrives first.
	newer := &models.Task{ID: "srv-1", Status: models.TaskStatusProcessing, UpdatedAt: base.Add(2 * time.Second)}
	if !r.ApplyTaskPatch(newer, base.Add(2*time.Second)) {
		t.Fatal("expected newer patch to apply")
	}

	// The older event arrives second and must be discarded.
	older := &models.Task{ID: "srv-1", Status: models.TaskStatusPending, UpdatedAt: base.Add(time.Second)}
	if r.ApplyTaskPatch(older, base.Add(time.Second)) {
		t.Fatal("expected stale patch to be discarded")
	}

	task, _ := r.Task("srv-1")
	if task.Status != models.TaskStatusProcessing {
		t.Errorf("expected status processing, got %s", task.Status)
	}
}

func TestTerminalStateAcceptsNoTransitions(t *testing.T) {
	terminals := []models.TaskStatus{
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	}
	for _, terminal := range terminals {
		t.Run(string(terminal), func(t *testing.T) {
			r := newTestRegistry(Options{})
			base := time.Now()

			task := newPendingTask("srv-1", "u1", base)
			task.Status = terminal
			r.ApplyTaskUpsert(task)

			patch := &models.Task{ID: "srv-1", Status: models.TaskStatusProcessing, UpdatedAt: base.Add(time.Minute)}
			if r.ApplyTaskPatch(patch, base.Add(time.Minute)) {
				t.Fatal("expected transition out of terminal state to be discarded")
			}

			got, _ := r.Task("srv-1")
			if got.Status != terminal {
				t.Errorf("status changed from %s to %s", terminal, got.Status)
			}
		})
	}
}

func TestArtifactFillAfterTerminal(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	task := newPendingTask("srv-1", "u1", base)
	task.Status = models.TaskStatusCompleted
	r.ApplyTaskUpsert(task)

	// Completion and the produced article can land non-atomically; a later
	// event carrying the same terminal status may still fill the artifact.
	patch := &models.Task{
		ID:        "srv-1",
		Status:    models.TaskStatusCompleted,
		ArticleID: "article-9",
		UpdatedAt: base.Add(time.Second),
	}
	if !r.ApplyTaskPatch(patch, base.Add(time.Second)) {
		t.Fatal("expected artifact fill to apply")
	}

	got, _ := r.Task("srv-1")
	if got.ArticleID != "article-9" {
		t.Errorf("expected article-9, got %q", got.ArticleID)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status changed to %s", got.Status)
	}
}

func TestStatusChangeAppendsLogLine(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.CreateTask(newPendingTask("srv-1", "u1", base), "", base)
	r.ApplyTaskPatch(&models.Task{ID: "srv-1", Status: models.TaskStatusProcessing, UpdatedAt: base.Add(time.Second)}, base.Add(time.Second))

	logs := r.Get().Logs["srv-1"]
	if len(logs) != 1 || logs[0].Message != "status: processing" {
		t.Fatalf("expected synthetic status log line, got %v", logs)
	}
}

func TestPatchForUnseenTaskCreatesBucket(t *testing.T) {
	r := newTestRegistry(Options{})
	at := time.Now()

	applied := r.ApplyTaskPatch(&models.Task{ID: "srv-9", Status: models.TaskStatusProcessing}, at)
	if !applied {
		t.Fatal("expected patch for unseen task to create a bucket")
	}
	task, ok := r.Task("srv-9")
	if !ok || task.Status != models.TaskStatusProcessing {
		t.Fatalf("expected processing bucket for srv-9, got %v", task)
	}
}

func TestRetentionEvictsOldestWithLogs(t *testing.T) {
	r := newTestRegistry(Options{MaxTasks: 2})
	base := time.Now()

	r.CreateTask(newPendingTask("t1", "u1", base), "one", base)
	r.CreateTask(newPendingTask("t2", "u1", base), "two", base)
	r.CreateTask(newPendingTask("t3", "u1", base), "three", base)

	state := r.Get()
	if _, ok := state.Tasks["t1"]; ok {
		t.Error("expected t1 to be evicted")
	}
	if _, ok := state.Logs["t1"]; ok {
		t.Error("expected t1 logs to be dropped with the task")
	}
	if _, ok := state.Tasks["t2"]; !ok {
		t.Error("expected t2 to survive")
	}
	if _, ok := state.Tasks["t3"]; !ok {
		t.Error("expected t3 to survive")
	}
}

func TestRetryTaskOnlyFromFailed(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	task := newPendingTask("srv-1", "u1", base)
	task.Status = models.TaskStatusFailed
	task.Error = "boom"
	r.ApplyTaskUpsert(task)

	if !r.RetryTask("srv-1", base.Add(time.Second)) {
		t.Fatal("expected retry of failed task to be accepted")
	}
	got, _ := r.Task("srv-1")
	if got.Status != models.TaskStatusRetrying {
		t.Errorf("expected retrying, got %s", got.Status)
	}
	if got.Error != "" || got.CompletedAt != nil {
		t.Errorf("expected error and completion to be cleared, got %+v", got)
	}

	// Not failed anymore: a second retry is rejected.
	if r.RetryTask("srv-1", base.Add(2*time.Second)) {
		t.Error("expected retry of non-failed task to be rejected")
	}
	if r.RetryTask("missing", base) {
		t.Error("expected retry of unknown task to be rejected")
	}
}

func TestMarkCancelling(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	running := newPendingTask("srv-1", "u1", base)
	running.Status = models.TaskStatusProcessing
	r.ApplyTaskUpsert(running)

	if !r.MarkCancelling("srv-1", base.Add(time.Second)) {
		t.Fatal("expected cancel of processing task to be accepted")
	}
	got, _ := r.Task("srv-1")
	if got.Status != models.TaskStatusCancelling {
		t.Errorf("expected cancelling, got %s", got.Status)
	}

	done := newPendingTask("srv-2", "u1", base)
	done.Status = models.TaskStatusCompleted
	r.ApplyTaskUpsert(done)
	if r.MarkCancelling("srv-2", base.Add(time.Second)) {
		t.Error("expected cancel of completed task to be rejected")
	}
}

func TestMarkTriggerFailedRetainsBucket(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.CreateTask(newPendingTask("temp-1", "u1", base), "requested", base)
	r.MarkTriggerFailed("temp-1", "connection refused", base.Add(time.Second))

	got, ok := r.Task("temp-1")
	if !ok {
		t.Fatal("expected failed bucket to be retained")
	}
	if got.Status != models.TaskStatusFailed || got.Error != "connection refused" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestObserverNotifiedOncePerCommit(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	var calls int
	unsubscribe := r.Subscribe(func(state *State) { calls++ })

	r.CreateTask(newPendingTask("srv-1", "u1", base), "", base)
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}

	// A discarded stale patch commits nothing.
	r.ApplyTaskPatch(&models.Task{ID: "srv-1", Status: models.TaskStatusPending, UpdatedAt: base.Add(-time.Hour)}, base.Add(-time.Hour))
	if calls != 1 {
		t.Fatalf("expected no notification for discarded patch, got %d", calls)
	}

	unsubscribe()
	r.CreateTask(newPendingTask("srv-2", "u1", base), "", base)
	if calls != 1 {
		t.Fatalf("expected no notification after unsubscribe, got %d", calls)
	}
}

func TestObserverSnapshotDoesNotAliasState(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	var seen *State
	r.Subscribe(func(state *State) { seen = state })
	r.CreateTask(newPendingTask("srv-1", "u1", base), "", base)

	seen.Tasks["srv-1"].Status = models.TaskStatusFailed

	got, _ := r.Task("srv-1")
	if got.Status != models.TaskStatusPending {
		t.Errorf("observer snapshot aliased registry state, status now %s", got.Status)
	}
}

func TestRunUpsertGuards(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	run := &models.AgentRun{
		ID: "run-1", TaskID: "srv-1",
		AgentType: models.AgentTypeKeyword,
		Status:    models.TaskStatusCompleted,
		UpdatedAt: base,
	}
	r.ApplyRunUpsert(run)

	// A terminal run never transitions.
	r.ApplyRunUpsert(&models.AgentRun{
		ID: "run-1", TaskID: "srv-1",
		Status:    models.TaskStatusProcessing,
		UpdatedAt: base.Add(time.Second),
	})
	got := r.Get().Runs["srv-1"]["run-1"]
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestRemoveTaskDropsEverything(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.CreateTask(newPendingTask("srv-1", "u1", base), "hello", base)
	r.ApplyRunUpsert(&models.AgentRun{ID: "run-1", TaskID: "srv-1", Status: models.TaskStatusProcessing})

	r.RemoveTask("srv-1")

	state := r.Get()
	if len(state.Tasks) != 0 || len(state.Runs) != 0 || len(state.Logs) != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestResetClearsState(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.CreateTask(newPendingTask("srv-1", "u1", base), "hello", base)

	var notified bool
	r.Subscribe(func(state *State) {
		notified = true
		if len(state.Tasks) != 0 {
			t.Errorf("expected empty snapshot on reset, got %d tasks", len(state.Tasks))
		}
	})
	r.Reset()

	if !notified {
		t.Error("expected observers to see the reset")
	}
	if len(r.Get().Tasks) != 0 {
		t.Error("expected empty registry after reset")
	}
}

func TestLogDedupAcrossSources(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()

	r.AppendLog(models.TaskLogEntry{TaskID: "srv-1", Timestamp: base, Message: "writing article"})
	// Same event delivered again through another channel a moment later.
	r.AppendLog(models.TaskLogEntry{TaskID: "srv-1", Timestamp: base.Add(200 * time.Millisecond), Message: "writing article"})
	// Same text well outside the window is a genuine repeat.
	r.AppendLog(models.TaskLogEntry{TaskID: "srv-1", Timestamp: base.Add(5 * time.Second), Message: "writing article"})

	logs := r.Get().Logs["srv-1"]
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries after dedup, got %d", len(logs))
	}
}
