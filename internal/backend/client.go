package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"seopilot/internal/config"
	"seopilot/internal/models"
	seohttp "seopilot/pkg/http"
	"seopilot/pkg/logger"
)

// Client is the typed interface to the automation backend. The backend owns
// the actual crawling, agent orchestration and CMS work; this client only
// triggers jobs, checks their status and requests cancellation.
type Client struct {
	baseURL    string
	httpClient *seohttp.Client
	logger     *logger.Logger
}

// NewClient creates a backend Client. Calls go through the circuit-breaker
// wrapped HTTP client so an unreachable backend fails fast.
func NewClient(cfg config.BackendConfig, log *logger.Logger) (*Client, error) {
	httpClient, err := seohttp.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		logger:     log,
	}, nil
}

// StartOrchestration triggers a full pipeline run.
func (c *Client) StartOrchestration(ctx context.Context, userID string, req models.OrchestrationRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/orchestrate", userID, req)
}

// AnalyzeWebsite triggers a standalone SEO analysis.
func (c *Client) AnalyzeWebsite(ctx context.Context, userID string, req models.AnalysisRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/analyze", userID, req)
}

// PublishArticle triggers publication of an article to a CMS.
func (c *Client) PublishArticle(ctx context.Context, userID string, req models.PublishRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/publish", userID, req)
}

// GeneratePixel triggers tracking pixel generation for a website.
func (c *Client) GeneratePixel(ctx context.Context, userID string, req models.PixelGenerateRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/pixel/generate", userID, req)
}

// RollbackPixel triggers a pixel rollback to a previous version.
func (c *Client) RollbackPixel(ctx context.Context, userID string, req models.PixelRollbackRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/pixel/rollback", userID, req)
}

// SyncCMS triggers a re-sync of a connected CMS.
func (c *Client) SyncCMS(ctx context.Context, userID string, req models.CMSSyncRequest) (*models.TriggerResponse, error) {
	return c.trigger(ctx, "/api/v1/cms/sync", userID, req)
}

// TaskStatus fetches the status snapshot for a task. It implements the
// tracker's StatusClient contract: transport failures are plain errors,
// structured backend errors are *models.APIError.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*models.OrchestrationStatus, error) {
	var snap models.OrchestrationStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID)+"/status", "", nil, &snap); err != nil {
		return nil, err
	}
	if snap.TaskID == "" {
		snap.TaskID = taskID
	}
	return &snap, nil
}

// PublishingStatus fetches the status snapshot of a publication job.
func (c *Client) PublishingStatus(ctx context.Context, jobID string) (*models.PublishingStatus, error) {
	var status models.PublishingStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/publish/"+url.PathEscape(jobID)+"/status", "", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PixelStatus fetches the deployment snapshot of a pixel.
func (c *Client) PixelStatus(ctx context.Context, pixelID string) (*models.PixelStatus, error) {
	var status models.PixelStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/pixel/"+url.PathEscape(pixelID)+"/status", "", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelTask requests cancellation. The acknowledgement does not guarantee
// an immediate terminal status, only that cancellation was requested.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", "", nil, nil)
}

// RetryTask asks the backend to re-run a failed task.
func (c *Client) RetryTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/retry", "", nil, nil)
}

// RetryAgentRun asks the backend to re-run a single failed agent.
func (c *Client) RetryAgentRun(ctx context.Context, taskID string, agentType models.AgentType) error {
	body := map[string]string{"agent_type": string(agentType)}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/retry-agent", "", body, nil)
}

// ListTasks fetches the user's current tasks for the initial registry fill.
func (c *Client) ListTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks", userID, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// trigger POSTs a job request. A synchronous failure here means no server
// task exists; callers must not keep the optimistic bucket as succeeded.
func (c *Client) trigger(ctx context.Context, path, userID string, body interface{}) (*models.TriggerResponse, error) {
	var resp models.TriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, path, userID, body, &resp); err != nil {
		return nil, err
	}
	if resp.TaskID == "" {
		return nil, &models.APIError{StatusCode: http.StatusBadGateway, Message: "trigger response carried no task_id"}
	}
	return &resp, nil
}

// errorEnvelope is the backend's structured error body.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path, userID string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
			return &models.APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
		}
		// Non-2xx without a structured body is transport-class.
		return fmt.Errorf("backend returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}
