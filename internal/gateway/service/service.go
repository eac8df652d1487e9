package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"seopilot/internal/backend"
	"seopilot/internal/cache"
	"seopilot/internal/config"
	"seopilot/internal/models"
	"seopilot/internal/realtime"
	"seopilot/internal/tracker"
	"seopilot/pkg/logger"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// feedTail bounds how many log lines each WebSocket push carries.
const feedTail = 100

// DashboardService glues the reconciliation core to its collaborators: the
// backend API, the change feed, the agent log stream, the snapshot cache
// and the dashboard's WebSocket connections.
type DashboardService struct {
	cfg         *config.AppConfig
	backend     *backend.Client
	cache       *cache.SnapshotCache
	connManager *ConnectionManager
	logger      *logger.Logger

	trackerOpts  tracker.Options
	pollInterval time.Duration
	pollTimeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// session owns one signed-in user's tracked state. Every session carries
// its own registry and poller, so users never observe each other's tasks
// and dropping a session discards exactly one user's state.
type session struct {
	userID   string
	registry *tracker.Registry
	poller   *tracker.Poller

	started     bool
	subMgr      *tracker.SubscriptionManager
	logFeed     *realtime.LogFeed
	stopLogFeed context.CancelFunc
	unobserve   func()
}

// pushMessage is what the gateway streams to the dashboard on every
// registry commit.
type pushMessage struct {
	Type  string                `json:"type"`
	Tasks []*models.Task        `json:"tasks"`
	Runs  []*models.AgentRun    `json:"runs,omitempty"`
	Feed  []models.TaskLogEntry `json:"feed"`
}

// NewDashboardService wires the service.
func NewDashboardService(cfg *config.AppConfig, backendClient *backend.Client, snapshotCache *cache.SnapshotCache, log *logger.Logger) (*DashboardService, error) {
	pollInterval := defaultPollInterval
	if cfg.Tracker.PollInterval != "" {
		parsed, err := time.ParseDuration(cfg.Tracker.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll interval %q: %w", cfg.Tracker.PollInterval, err)
		}
		pollInterval = parsed
	}
	pollTimeout := defaultPollTimeout
	if cfg.Tracker.PollTimeout != "" {
		parsed, err := time.ParseDuration(cfg.Tracker.PollTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid poll timeout %q: %w", cfg.Tracker.PollTimeout, err)
		}
		pollTimeout = parsed
	}
	trackerOpts := tracker.Options{MaxTasks: cfg.Tracker.MaxTasks}
	if cfg.Tracker.DedupWindow != "" {
		parsed, err := time.ParseDuration(cfg.Tracker.DedupWindow)
		if err != nil {
			return nil, fmt.Errorf("invalid dedup window %q: %w", cfg.Tracker.DedupWindow, err)
		}
		trackerOpts.DedupWindow = parsed
	}

	return &DashboardService{
		cfg:          cfg,
		backend:      backendClient,
		cache:        snapshotCache,
		connManager:  NewConnectionManager(),
		logger:       log,
		trackerOpts:  trackerOpts,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		sessions:     make(map[string]*session),
	}, nil
}

// sessionFor returns the user's session, creating the registry-only shell
// on first use. Feeds attach later, in StartSession.
func (s *DashboardService) sessionFor(userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	registry := tracker.NewRegistry(s.trackerOpts, s.logger)
	sess := &session{
		userID:   userID,
		registry: registry,
		poller:   tracker.NewPoller(registry, s.backend, s.logger),
	}
	s.sessions[userID] = sess
	return sess
}

// StartSession attaches a user: pre-seeds their registry from the snapshot
// cache, fills it from a live task list, then opens the change feed and the
// agent log stream. Live data always supersedes the cached snapshot.
func (s *DashboardService) StartSession(ctx context.Context, userID string) error {
	sess := s.sessionFor(userID)

	// Claim the session under the lock so a concurrent start for the same
	// user opens no second set of feeds.
	s.mu.Lock()
	if sess.started {
		s.mu.Unlock()
		return nil
	}
	sess.started = true
	s.mu.Unlock()

	s.preseed(ctx, sess)

	if tasks, err := s.backend.ListTasks(ctx, userID); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Initial task list fetch failed; continuing with cached state")
	} else {
		for _, task := range tasks {
			sess.registry.ApplyTaskUpsert(task)
		}
	}

	feed, err := realtime.Dial(ctx, s.cfg.Realtime, userID, s.logger)
	if err != nil {
		s.mu.Lock()
		sess.started = false
		s.mu.Unlock()
		return fmt.Errorf("unable to open change feed: %w", err)
	}
	subMgr := tracker.NewSubscriptionManager(sess.registry, feed, tracker.Scope{
		UserID: userID,
		Tables: s.cfg.Realtime.Tables,
	}, s.logger)
	subMgr.Start()

	var logFeed *realtime.LogFeed
	var stopLogFeed context.CancelFunc
	if len(s.cfg.Kafka.Brokers) > 0 {
		kafkaCfg := s.cfg.Kafka
		kafkaCfg.GroupID = sessionGroupID(kafkaCfg.GroupID)
		logCtx, cancel := context.WithCancel(context.Background())
		stopLogFeed = cancel
		logFeed = realtime.NewLogFeed(kafkaCfg, sess.registry, s.logger)
		logFeed.Start(logCtx)
	}

	unobserve := sess.registry.Subscribe(func(state *tracker.State) {
		s.pushState(userID, state)
		s.persistSnapshot(userID, state)
	})

	s.mu.Lock()
	sess.subMgr = subMgr
	sess.logFeed = logFeed
	sess.stopLogFeed = stopLogFeed
	sess.unobserve = unobserve
	s.mu.Unlock()

	s.logger.WithPayload(map[string]interface{}{"user_id": userID}).Info("Dashboard session started")
	return nil
}

// StopSession releases a user's feeds and observers and drops their
// session together with its registry. Other users' sessions are untouched.
// Invoked on sign-out or scope change; afterwards no further pushes for
// this user occur.
func (s *DashboardService) StopSession(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	// Reset before detaching so this user's dashboard renders the cleared
	// state. The registry belongs to this session alone.
	sess.registry.Reset()
	if sess.unobserve != nil {
		sess.unobserve()
	}
	if sess.subMgr != nil {
		sess.subMgr.Unsubscribe()
	}
	if sess.stopLogFeed != nil {
		sess.stopLogFeed()
	}
	if sess.logFeed != nil {
		if err := sess.logFeed.Close(); err != nil {
			s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Error closing agent log feed")
		}
	}
	s.connManager.Remove(userID)
	if s.cache != nil {
		if err := s.cache.Clear(context.Background(), userID); err != nil {
			s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Debug("Snapshot cache clear failed")
		}
	}
	s.logger.WithPayload(map[string]interface{}{"user_id": userID}).Info("Dashboard session stopped")
}

// AddConnection attaches a dashboard WebSocket and immediately pushes the
// current state so the UI never renders empty.
func (s *DashboardService) AddConnection(userID string, conn *websocket.Conn) {
	s.connManager.Add(userID, conn)
	s.pushState(userID, s.sessionFor(userID).registry.Get())
}

// RemoveConnection drops a user's WebSocket.
func (s *DashboardService) RemoveConnection(userID string) {
	s.connManager.Remove(userID)
}

// StartOrchestration triggers a full pipeline run with an optimistic
// registry entry. The entry lives under a temporary key until the backend
// responds; on success it is resolved to the server key, on failure it is
// tagged and retained so the user sees what happened.
func (s *DashboardService) StartOrchestration(ctx context.Context, userID string, req models.OrchestrationRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindOrchestration,
		"orchestration requested for "+req.WebsiteURL,
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.StartOrchestration(ctx, userID, req)
		})
}

// AnalyzeWebsite triggers a standalone SEO analysis.
func (s *DashboardService) AnalyzeWebsite(ctx context.Context, userID string, req models.AnalysisRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindAnalysis,
		"analysis requested for "+req.WebsiteURL,
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.AnalyzeWebsite(ctx, userID, req)
		})
}

// PublishArticle triggers publication of an article to a CMS.
func (s *DashboardService) PublishArticle(ctx context.Context, userID string, req models.PublishRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindPublish,
		"publishing article "+req.ArticleID+" to "+req.CMSPlatform,
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.PublishArticle(ctx, userID, req)
		})
}

// GeneratePixel triggers tracking pixel generation.
func (s *DashboardService) GeneratePixel(ctx context.Context, userID string, req models.PixelGenerateRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindPixelGenerate,
		"pixel generation requested",
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.GeneratePixel(ctx, userID, req)
		})
}

// RollbackPixel triggers a pixel rollback.
func (s *DashboardService) RollbackPixel(ctx context.Context, userID string, req models.PixelRollbackRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindPixelRollback,
		"pixel rollback requested for version "+req.VersionID,
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.RollbackPixel(ctx, userID, req)
		})
}

// SyncCMS triggers a CMS re-sync.
func (s *DashboardService) SyncCMS(ctx context.Context, userID string, req models.CMSSyncRequest) (*models.Task, error) {
	return s.triggerTask(ctx, userID, models.TaskKindCMSSync,
		"CMS sync requested for "+req.CMSPlatform,
		func(ctx context.Context) (*models.TriggerResponse, error) {
			return s.backend.SyncCMS(ctx, userID, req)
		})
}

// Cancel optimistically marks the task cancelling and asks the backend to
// stop it. A failed cancel request becomes a log line on the task, not an
// error to the caller; the task's real status keeps flowing in via feed
// and polls.
func (s *DashboardService) Cancel(ctx context.Context, userID, taskID string) {
	sess := s.sessionFor(userID)
	now := time.Now()
	if !sess.registry.MarkCancelling(taskID, now) {
		return
	}
	if err := s.backend.CancelTask(ctx, taskID); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
			"task_id": taskID,
		}).Warn("Cancel request failed")
		sess.registry.AppendLog(models.TaskLogEntry{
			TaskID:    taskID,
			Timestamp: time.Now(),
			Message:   "cancel request failed: " + err.Error(),
		})
	}
}

// Retry reopens a failed task and asks the backend to re-run it.
func (s *DashboardService) Retry(ctx context.Context, userID, taskID string) error {
	sess := s.sessionFor(userID)
	if !sess.registry.RetryTask(taskID, time.Now()) {
		return fmt.Errorf("task %s is not in a failed state", taskID)
	}
	if err := s.backend.RetryTask(ctx, taskID); err != nil {
		sess.registry.MarkTriggerFailed(taskID, err.Error(), time.Now())
		return err
	}
	return nil
}

// RetryAgent re-runs one failed agent of a task.
func (s *DashboardService) RetryAgent(ctx context.Context, userID, taskID string, agentType models.AgentType) error {
	sess := s.sessionFor(userID)
	if err := s.backend.RetryAgentRun(ctx, taskID, agentType); err != nil {
		sess.registry.AppendLog(models.TaskLogEntry{
			TaskID:    taskID,
			Timestamp: time.Now(),
			Message:   fmt.Sprintf("retry of %s agent failed: %s", agentType, err),
		})
		return err
	}
	sess.registry.AppendLog(models.TaskLogEntry{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("retrying %s agent", agentType),
	})
	return nil
}

// AwaitArticle blocks until the task has completed and its produced
// article identifier has landed, or the poll deadline passes. The two can
// arrive non-atomically, so completion alone is not enough.
func (s *DashboardService) AwaitArticle(ctx context.Context, userID, taskID string) (tracker.PollResult, error) {
	return s.sessionFor(userID).poller.AwaitTerminal(ctx, taskID, func(snap *models.OrchestrationStatus) bool {
		return snap.TerminalWithArticle()
	}, s.pollInterval, s.pollTimeout)
}

// AwaitTerminal blocks until the task reaches any terminal state.
func (s *DashboardService) AwaitTerminal(ctx context.Context, userID, taskID string) (tracker.PollResult, error) {
	return s.sessionFor(userID).poller.AwaitTerminal(ctx, taskID, func(snap *models.OrchestrationStatus) bool {
		return snap.Status.Terminal()
	}, s.pollInterval, s.pollTimeout)
}

// PublishingStatus fetches the snapshot of a publication job by the job ID
// recorded on its publish task.
func (s *DashboardService) PublishingStatus(ctx context.Context, jobID string) (*models.PublishingStatus, error) {
	return s.backend.PublishingStatus(ctx, jobID)
}

// PixelStatus fetches the deployment snapshot of a tracking pixel.
func (s *DashboardService) PixelStatus(ctx context.Context, pixelID string) (*models.PixelStatus, error) {
	return s.backend.PixelStatus(ctx, pixelID)
}

// State returns the user's current registry snapshot.
func (s *DashboardService) State(userID string) *tracker.State {
	return s.sessionFor(userID).registry.Get()
}

// Task returns one of the user's task records.
func (s *DashboardService) Task(userID, taskID string) (*models.Task, bool) {
	return s.sessionFor(userID).registry.Task(taskID)
}

// Feed returns the user's chronologically merged log feed across all
// tasks.
func (s *DashboardService) Feed(userID string) []models.TaskLogEntry {
	return tracker.Flatten(s.sessionFor(userID).registry.Get())
}

// triggerTask is the shared optimistic-trigger flow.
func (s *DashboardService) triggerTask(ctx context.Context, userID string, kind models.TaskKind, logLine string, call func(context.Context) (*models.TriggerResponse, error)) (*models.Task, error) {
	sess := s.sessionFor(userID)
	now := time.Now()
	tempKey := "temp-" + uuid.New().String()
	sess.registry.CreateTask(&models.Task{
		ID:        tempKey,
		UserID:    userID,
		Kind:      kind,
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, logLine, now)

	resp, err := call(ctx)
	if err != nil {
		sess.registry.MarkTriggerFailed(tempKey, err.Error(), time.Now())
		return nil, err
	}

	sess.registry.Resolve(tempKey, resp.TaskID)
	task, _ := sess.registry.Task(resp.TaskID)
	return task, nil
}

// sessionGroupID derives a per-session Kafka consumer group so every
// dashboard session reads the full agent log stream from its own offset.
func sessionGroupID(base string) string {
	if base == "" {
		base = "seopilot-gateway"
	}
	return base + "-" + uuid.New().String()
}

// preseed fills the session's registry from the cached snapshot, purely to
// avoid an empty first render.
func (s *DashboardService) preseed(ctx context.Context, sess *session) {
	if s.cache == nil {
		return
	}
	snapshot, err := s.cache.Load(ctx, sess.userID)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Snapshot cache load failed")
		return
	}
	if snapshot == nil {
		return
	}
	restoreSnapshot(sess.registry, snapshot)
}

// restoreSnapshot loads a cached projection into a registry. Log entries go
// through the aggregator one at a time: cached entries carry no insertion
// sequence, and entries tied on timestamp need one to flatten in a stable
// order.
func restoreSnapshot(registry *tracker.Registry, snapshot *cache.Snapshot) {
	registry.Set(func(state *tracker.State) {
		for _, task := range snapshot.Tasks {
			state.Tasks[task.ID] = task.Clone()
		}
		for _, run := range snapshot.Runs {
			runs, ok := state.Runs[run.TaskID]
			if !ok {
				runs = make(map[string]*models.AgentRun)
				state.Runs[run.TaskID] = runs
			}
			runs[run.ID] = run.Clone()
		}
	})
	for _, entry := range snapshot.Logs {
		registry.AppendLog(entry)
	}
}

func (s *DashboardService) pushState(userID string, state *tracker.State) {
	message := pushMessage{Type: "registry", Feed: tailFeed(state)}
	for _, task := range state.Tasks {
		message.Tasks = append(message.Tasks, task)
	}
	for _, runs := range state.Runs {
		for _, run := range runs {
			message.Runs = append(message.Runs, run)
		}
	}
	s.connManager.SendJSON(userID, message)
}

func (s *DashboardService) persistSnapshot(userID string, state *tracker.State) {
	if s.cache == nil {
		return
	}
	snapshot := &cache.Snapshot{Logs: tailFeed(state)}
	for _, task := range state.Tasks {
		snapshot.Tasks = append(snapshot.Tasks, task)
	}
	for _, runs := range state.Runs {
		for _, run := range runs {
			snapshot.Runs = append(snapshot.Runs, run)
		}
	}
	if err := s.cache.Save(context.Background(), userID, snapshot); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Debug("Snapshot cache save failed")
	}
}

func tailFeed(state *tracker.State) []models.TaskLogEntry {
	feed := tracker.Flatten(state)
	if len(feed) > feedTail {
		feed = feed[len(feed)-feedTail:]
	}
	return feed
}
