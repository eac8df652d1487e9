package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

// scriptedClient returns its snapshots in order, repeating the last one.
type scriptedClient struct {
	mu    sync.Mutex
	steps []func() (*models.OrchestrationStatus, error)
	calls int
}

func (c *scriptedClient) TaskStatus(ctx context.Context, taskID string) (*models.OrchestrationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.calls++
	return c.steps[i]()
}

func snapshotStep(status models.TaskStatus, articleID string) func() (*models.OrchestrationStatus, error) {
	return func() (*models.OrchestrationStatus, error) {
		return &models.OrchestrationStatus{TaskID: "srv-1", Status: status, ArticleID: articleID}, nil
	}
}

func errorStep(err error) func() (*models.OrchestrationStatus, error) {
	return func() (*models.OrchestrationStatus, error) { return nil, err }
}

func usableWithArticle(s *models.OrchestrationStatus) bool { return s.TerminalWithArticle() }

func newTestPoller(r *Registry, client StatusClient) *Poller {
	return NewPoller(r, client, logger.New("test", "", ""))
}

func seedTask(r *Registry, id string, status models.TaskStatus) {
	base := time.Now()
	task := newPendingTask(id, "u1", base)
	task.Status = status
	r.ApplyTaskUpsert(task)
}

func TestAwaitTerminalReturnsUsableSnapshot(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusProcessing, ""),
		snapshotStep(models.TaskStatusCompleted, "article-9"),
	}}

	p := newTestPoller(r, client)
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if result.Snapshot == nil || result.Snapshot.ArticleID != "article-9" {
		t.Fatalf("unexpected result %+v", result)
	}

	// Each response was written through to the registry.
	task, _ := r.Task("srv-1")
	if task.Status != models.TaskStatusCompleted || task.ArticleID != "article-9" {
		t.Errorf("registry not updated from poll responses: %+v", task)
	}
}

func TestAwaitTerminalTimeoutBounds(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusProcessing, ""),
	}}

	interval := 20 * time.Millisecond
	timeout := 120 * time.Millisecond

	p := newTestPoller(r, client)
	start := time.Now()
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, interval, timeout)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("a timeout must not be an error, got %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut to be set")
	}
	if elapsed < timeout {
		t.Errorf("returned before the deadline: %v < %v", elapsed, timeout)
	}
	if elapsed > timeout+interval+100*time.Millisecond {
		t.Errorf("returned too long after the deadline: %v", elapsed)
	}
	if result.Snapshot == nil || result.Snapshot.Status != models.TaskStatusProcessing {
		t.Errorf("expected the last observed snapshot, got %+v", result.Snapshot)
	}
}

func TestAwaitTerminalFailedStatus(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusFailed, ""),
	}}

	p := newTestPoller(r, client)
	_, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
}

func TestAwaitTerminalCancelledStatus(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusCancelled, ""),
	}}

	p := newTestPoller(r, client)
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("cancellation is a normal outcome, got %v", err)
	}
	if result.Snapshot == nil || result.Snapshot.Status != models.TaskStatusCancelled {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAwaitTerminalRetriesTransportErrors(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		errorStep(errors.New("connection refused")),
		errorStep(errors.New("connection refused")),
		snapshotStep(models.TaskStatusCompleted, "article-9"),
	}}

	p := newTestPoller(r, client)
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("expected transport errors to be retried, got %v", err)
	}
	if result.Snapshot == nil || result.Snapshot.ArticleID != "article-9" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAwaitTerminalBackendErrorMarksFailed(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		errorStep(&models.APIError{StatusCode: http.StatusNotFound, Message: "task not found"}),
	}}

	p := newTestPoller(r, client)
	_, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed for a structured backend error, got %v", err)
	}

	task, _ := r.Task("srv-1")
	if task.Status != models.TaskStatusFailed || task.Error != "task not found" {
		t.Errorf("expected the failure to land on the record, got %+v", task)
	}
}

func TestAwaitTerminalCompletedWithoutArticleKeepsPolling(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusCompleted, ""), // artifact not landed yet
		snapshotStep(models.TaskStatusCompleted, ""),
		snapshotStep(models.TaskStatusCompleted, "article-9"),
	}}

	p := newTestPoller(r, client)
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if result.Snapshot.ArticleID != "article-9" {
		t.Fatalf("expected the poll to continue until the article landed, got %+v", result)
	}
	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	if calls < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls)
	}
}

func TestAwaitTerminalWokenByRemoval(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusProcessing, ""),
	}}

	p := newTestPoller(r, client)
	go func() {
		time.Sleep(30 * time.Millisecond)
		r.RemoveTask("srv-1")
	}()

	start := time.Now()
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if !result.Removed {
		t.Fatal("expected Removed to be set")
	}
	if time.Since(start) > time.Second {
		t.Error("expected the removal to wake the poll before the next tick")
	}
}

func TestAwaitTerminalWokenByOutOfBandUpdate(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusProcessing, ""),
	}}

	p := newTestPoller(r, client)
	go func() {
		time.Sleep(30 * time.Millisecond)
		// The change feed drives the task terminal between polls.
		r.ApplyTaskPatch(&models.Task{
			ID:        "srv-1",
			Status:    models.TaskStatusCompleted,
			ArticleID: "article-9",
			UpdatedAt: time.Now(),
		}, time.Now())
	}()

	start := time.Now()
	result, err := p.AwaitTerminal(context.Background(), "srv-1", usableWithArticle, time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if result.Snapshot == nil || result.Snapshot.ArticleID != "article-9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if time.Since(start) > time.Second {
		t.Error("expected the update to wake the poll before the next tick")
	}
}

func TestAwaitTerminalContextCancelled(t *testing.T) {
	r := newTestRegistry(Options{})
	seedTask(r, "srv-1", models.TaskStatusProcessing)
	client := &scriptedClient{steps: []func() (*models.OrchestrationStatus, error){
		snapshotStep(models.TaskStatusProcessing, ""),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	p := newTestPoller(r, client)
	_, err := p.AwaitTerminal(ctx, "srv-1", usableWithArticle, time.Second, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
