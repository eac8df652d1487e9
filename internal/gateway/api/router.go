package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seopilot/internal/config"
	"seopilot/pkg/ratelimiter"
)

// Limit types applied to trigger endpoints. Publishing gets its own, tighter
// budget because each publish hits the user's CMS.
const (
	limitTypeAPI     = "api_per_user"
	limitTypePublish = "publishing_per_user"
)

// AuthMiddleware is a placeholder for the actual authentication middleware.
// In a real application, this would validate a JWT and set the "userID" in
// the context. Until then the caller identifies itself via X-User-ID.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing X-User-ID header"})
			c.Abort()
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

// RateLimitMiddleware enforces a per-user sliding-window budget on the
// routes it wraps.
func RateLimitMiddleware(limiter *ratelimiter.Limiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := c.Get("userID")
		if !limiter.Allow(userID.(string), limitType) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, try again later"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RegisterRoutes registers all the routes of the dashboard gateway.
func RegisterRoutes(router *gin.Engine, api *API, cfg config.RateLimitConfig) {
	triggerLimit := noopMiddleware()
	publishLimit := noopMiddleware()
	if cfg.Enabled {
		window, err := time.ParseDuration(cfg.Window)
		if err != nil {
			window = time.Minute
		}
		limiter := ratelimiter.New(window, cfg.Limits)
		triggerLimit = RateLimitMiddleware(limiter, limitTypeAPI)
		publishLimit = RateLimitMiddleware(limiter, limitTypePublish)
	}

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware())
	{
		v1.POST("/session", api.StartSessionHandler)
		v1.DELETE("/session", api.StopSessionHandler)

		v1.POST("/orchestrate", triggerLimit, api.OrchestrateHandler)
		v1.POST("/analyze", triggerLimit, api.AnalyzeHandler)
		v1.POST("/publish", publishLimit, api.PublishHandler)
		v1.GET("/publish/:id/status", api.PublishingStatusHandler)
		v1.GET("/pixel/:id/status", api.PixelStatusHandler)
		v1.POST("/pixel/generate", triggerLimit, api.PixelGenerateHandler)
		v1.POST("/pixel/rollback", triggerLimit, api.PixelRollbackHandler)
		v1.POST("/cms/sync", triggerLimit, api.CMSSyncHandler)

		v1.GET("/tasks", api.GetTasksHandler)
		v1.GET("/tasks/:id", api.GetTaskHandler)
		v1.GET("/tasks/:id/wait", api.WaitTaskHandler)
		v1.POST("/tasks/:id/cancel", api.CancelTaskHandler)
		v1.POST("/tasks/:id/retry", triggerLimit, api.RetryTaskHandler)
		v1.POST("/tasks/:id/retry-agent", triggerLimit, api.RetryAgentHandler)

		v1.GET("/feed", api.GetFeedHandler)
	}

	ws := router.Group("/ws")
	ws.Use(AuthMiddleware())
	{
		ws.GET("/subscribe", api.WebSocketHandler)
	}
}

func noopMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) { c.Next() }
}
