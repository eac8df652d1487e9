package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"seopilot/internal/backend"
	"seopilot/internal/cache"
	"seopilot/internal/config"
	"seopilot/internal/models"
	"seopilot/internal/tracker"
	"seopilot/pkg/logger"
)

// Entries restored from a cached snapshot carry no insertion sequence, so
// the restore path must assign fresh ones. Twenty lines on a single task
// share one timestamp; without re-sequencing their flattened order would
// follow map iteration and change between calls.
func TestRestoredSnapshotFlattensDeterministically(t *testing.T) {
	registry := tracker.NewRegistry(tracker.Options{}, logger.New("test", "", ""))
	at := time.Unix(1700000000, 0)

	snapshot := &cache.Snapshot{}
	for i := 0; i < 20; i++ {
		snapshot.Logs = append(snapshot.Logs, models.TaskLogEntry{
			TaskID:    "srv-1",
			Timestamp: at,
			Message:   fmt.Sprintf("step %02d", i),
		})
	}
	// Spread the rest over many tasks so each Get clone iterates its log
	// map in a fresh order.
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("srv-%02d", i+2)
		snapshot.Tasks = append(snapshot.Tasks, &models.Task{
			ID:     id,
			UserID: "u1",
			Status: models.TaskStatusPending,
		})
		snapshot.Logs = append(snapshot.Logs, models.TaskLogEntry{
			TaskID:    id,
			Timestamp: at.Add(time.Duration(i+1) * time.Second),
			Message:   "created",
		})
	}

	restoreSnapshot(registry, snapshot)

	first := tracker.Flatten(registry.Get())
	if len(first) != 60 {
		t.Fatalf("flattened %d entries, want 60", len(first))
	}
	for i := 0; i < 20; i++ {
		again := tracker.Flatten(registry.Get())
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("flatten order changed between calls:\n%v\nvs\n%v", first, again)
		}
	}

	// The tied entries keep the order they were cached in.
	var tied []string
	for _, entry := range first {
		if entry.TaskID == "srv-1" {
			tied = append(tied, entry.Message)
		}
	}
	for i, msg := range tied {
		if want := fmt.Sprintf("step %02d", i); msg != want {
			t.Fatalf("tied entry %d = %q, want %q", i, msg, want)
		}
	}
}

// Concurrent session starts for one user must open a single change feed.
func TestConcurrentStartSessionDialsOnce(t *testing.T) {
	var dials int32
	upgrader := websocket.Upgrader{}
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(feedServer.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	})
	backendServer := httptest.NewServer(mux)
	t.Cleanup(backendServer.Close)

	log := logger.New("test", "", "")
	cfg := &config.AppConfig{
		Backend:  config.BackendConfig{BaseURL: backendServer.URL},
		Realtime: config.RealtimeConfig{URL: "ws" + strings.TrimPrefix(feedServer.URL, "http")},
	}
	backendClient, err := backend.NewClient(cfg.Backend, log)
	if err != nil {
		t.Fatalf("backend.NewClient() error = %v", err)
	}
	svc, err := NewDashboardService(cfg, backendClient, nil, log)
	if err != nil {
		t.Fatalf("NewDashboardService() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.StartSession(context.Background(), "u1"); err != nil {
				t.Errorf("StartSession() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Errorf("change feed dialed %d times, want 1", n)
	}
	svc.StopSession("u1")
}

func TestSessionGroupIDUniquePerSession(t *testing.T) {
	a := sessionGroupID("dashboard")
	b := sessionGroupID("dashboard")
	if a == b {
		t.Error("expected distinct consumer groups for distinct sessions")
	}
	if !strings.HasPrefix(a, "dashboard-") {
		t.Errorf("group ID %q does not carry the configured prefix", a)
	}
	if sessionGroupID("") == sessionGroupID("") {
		t.Error("expected distinct consumer groups with the default prefix")
	}
}
