package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"seopilot/internal/gateway/service"
	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

// API provides the HTTP and WebSocket handlers of the dashboard gateway.
type API struct {
	service  *service.DashboardService
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewAPI creates a new API handler.
func NewAPI(svc *service.DashboardService, logger *logger.Logger) *API {
	return &API{
		service: svc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // In production, implement a proper origin check.
			},
		},
	}
}

// StartSessionHandler opens the per-user feeds and pre-seeds the registry.
func (a *API) StartSessionHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	if err := a.service.StartSession(c.Request.Context(), userID.(string)); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to start dashboard session")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to start session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// StopSessionHandler tears the session down and clears tracked state.
func (a *API) StopSessionHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	a.service.StopSession(userID.(string))
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// OrchestrateHandler triggers a full content pipeline run.
func (a *API) OrchestrateHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.OrchestrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.StartOrchestration(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// AnalyzeHandler triggers a standalone SEO analysis.
func (a *API) AnalyzeHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.AnalyzeWebsite(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// PublishHandler triggers publication of an article.
func (a *API) PublishHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if req.ArticleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "article_id is required"})
		return
	}

	task, err := a.service.PublishArticle(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// PixelGenerateHandler triggers tracking pixel generation.
func (a *API) PixelGenerateHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.PixelGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.GeneratePixel(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// PixelRollbackHandler triggers a pixel rollback.
func (a *API) PixelRollbackHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.PixelRollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.RollbackPixel(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// CMSSyncHandler triggers a CMS re-sync.
func (a *API) CMSSyncHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req models.CMSSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	task, err := a.service.SyncCMS(c.Request.Context(), userID.(string), req)
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// GetTasksHandler returns the caller's tracked tasks with their agent
// runs. Each session tracks only its own user's state.
func (a *API) GetTasksHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	state := a.service.State(userID.(string))

	tasks := make([]*models.Task, 0, len(state.Tasks))
	for _, task := range state.Tasks {
		tasks = append(tasks, task)
	}
	runs := make([]*models.AgentRun, 0)
	for _, taskRuns := range state.Runs {
		for _, run := range taskRuns {
			runs = append(runs, run)
		}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "runs": runs})
}

// GetTaskHandler returns one of the caller's tracked tasks by ID.
func (a *API) GetTaskHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	taskID := c.Param("id")

	task, ok := a.service.Task(userID.(string), taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// PublishingStatusHandler returns the status snapshot of a publication job.
func (a *API) PublishingStatusHandler(c *gin.Context) {
	status, err := a.service.PublishingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PixelStatusHandler returns the deployment snapshot of a tracking pixel.
func (a *API) PixelStatusHandler(c *gin.Context) {
	status, err := a.service.PixelStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetFeedHandler returns the chronologically merged log feed across tasks.
func (a *API) GetFeedHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	c.JSON(http.StatusOK, gin.H{"feed": a.service.Feed(userID.(string))})
}

// CancelTaskHandler requests cancellation of a running task.
func (a *API) CancelTaskHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	taskID := c.Param("id")

	if _, ok := a.service.Task(userID.(string), taskID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	a.service.Cancel(c.Request.Context(), userID.(string), taskID)
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": "cancelling"})
}

// RetryTaskHandler re-runs a failed task.
func (a *API) RetryTaskHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	taskID := c.Param("id")

	if err := a.service.Retry(c.Request.Context(), userID.(string), taskID); err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": "retrying"})
}

// RetryAgentHandler re-runs one failed agent of a task.
func (a *API) RetryAgentHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	taskID := c.Param("id")

	var payload struct {
		AgentType models.AgentType `json:"agent_type"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.AgentType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_type is required"})
		return
	}

	if err := a.service.RetryAgent(c.Request.Context(), userID.(string), taskID, payload.AgentType); err != nil {
		a.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "agent_type": payload.AgentType})
}

// WaitTaskHandler blocks until the task reaches a terminal state, then
// returns the final record. With target=article it additionally waits for
// the produced article identifier to land.
func (a *API) WaitTaskHandler(c *gin.Context) {
	userID, _ := c.Get("userID")
	taskID := c.Param("id")

	wait := a.service.AwaitTerminal
	if c.DefaultQuery("target", "terminal") == "article" {
		wait = a.service.AwaitArticle
	}

	res, err := wait(c.Request.Context(), userID.(string), taskID)
	switch {
	case err != nil && res.Snapshot != nil:
		c.JSON(http.StatusOK, res.Snapshot)
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case res.TimedOut:
		c.JSON(http.StatusGatewayTimeout, gin.H{"task_id": taskID, "error": "Timed out waiting for task"})
	case res.Removed:
		c.JSON(http.StatusGone, gin.H{"task_id": taskID, "error": "Task was removed"})
	default:
		c.JSON(http.StatusOK, res.Snapshot)
	}
}

// WebSocketHandler upgrades the connection and streams registry state.
func (a *API) WebSocketHandler(c *gin.Context) {
	userID, _ := c.Get("userID")

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to upgrade WebSocket connection")
		return
	}

	a.service.AddConnection(userID.(string), conn)

	go func() {
		defer a.service.RemoveConnection(userID.(string))
		for {
			if _, _, err := conn.NextReader(); err != nil {
				break
			}
		}
	}()
}

// triggerError maps a backend failure onto an HTTP response. Structured
// backend errors keep their status code; everything else is a gateway error.
func (a *API) triggerError(c *gin.Context, err error) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
