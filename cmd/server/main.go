package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vigilcam/ids-server/internal/alert"
	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/internal/metrics"
	"github.com/vigilcam/ids-server/internal/service"
	"github.com/vigilcam/ids-server/internal/webapi"
)

var (
	// Command-line flags
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
	autoStart  = flag.Bool("autostart", true, "Start detection at boot")
)

func main() {
	flag.Parse()

	// .env is optional; IDS_CONFIG overrides the default config path.
	_ = godotenv.Load()
	path := *configPath
	if env := os.Getenv("IDS_CONFIG"); env != "" && path == "config.yaml" {
		path = env
	}

	cfgm, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgm.Snapshot()

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)
	if cfg.Logging.File != "" {
		logger.AttachFile(cfg.Logging.File)
	}
	defer logger.Close()

	logger.Info("Main", "Intrusion detection server starting...")
	logger.Info("Main", "Log level: %s", level)

	m := metrics.New()

	alertLog, err := alert.NewLog(cfg.Server.AlertLog)
	if err != nil {
		log.Fatalf("Failed to open alert log: %v", err)
	}
	alerts, err := alert.NewManager(cfg.Alerts, cfg.Detection.AlertCooldown, alertLog)
	if err != nil {
		log.Fatalf("Failed to initialize alert manager: %v", err)
	}

	svc := service.New(cfgm, alerts, service.WithMetrics(m))

	api := webapi.NewServer(svc, cfgm, alertLog, cfg.Alerts.SavePath)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Handler(),
	}

	// Start metrics server
	go func() {
		logger.Info("Main", "Metrics server on %s", cfg.Server.MetricsAddr)
		if err := m.StartServer(cfg.Server.MetricsAddr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	// Start HTTP API server
	go func() {
		logger.Info("Main", "HTTP API on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if *autoStart {
		if err := svc.Start(); err != nil {
			logger.Error("Main", "Detection start failed: %v (start it via the API once the camera is reachable)", err)
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	svc.Stop()
	api.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}
