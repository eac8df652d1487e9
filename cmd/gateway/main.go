package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"seopilot/internal/backend"
	"seopilot/internal/cache"
	"seopilot/internal/config"
	"seopilot/internal/gateway/api"
	"seopilot/internal/gateway/service"
	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid logger level: %v", err)
	}
	logger.Init(logLevel)

	serviceLogger := logger.New("DashboardGateway", "", "")

	// Snapshot cache is optional; the gateway degrades to live-only state
	// when Redis is unreachable.
	var snapshotCache *cache.SnapshotCache
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Redis unavailable, running without snapshot cache")
		} else {
			snapshotCache, err = cache.NewSnapshotCache(redisClient, cfg.Redis)
			if err != nil {
				serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Invalid snapshot cache configuration")
			}
			serviceLogger.Info("Successfully connected to Redis")
		}
	}

	backendClient, err := backend.NewClient(cfg.Backend, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Invalid backend configuration")
	}

	dashboard, err := service.NewDashboardService(cfg, backendClient, snapshotCache, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build dashboard service")
	}

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	apiHandler := api.NewAPI(dashboard, serviceLogger)
	api.RegisterRoutes(router, apiHandler, cfg.RateLimit)

	srv := &http.Server{
		Addr:    cfg.Gateway.ServerAddress,
		Handler: router,
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Server forced to shutdown")
	}

	serviceLogger.Info("Server gracefully stopped")
}
