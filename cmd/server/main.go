package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/circuit-voice-assistant/internal/assistant"
	"github.com/skypro1111/circuit-voice-assistant/internal/config"
	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
	"github.com/skypro1111/circuit-voice-assistant/internal/server"
	"github.com/skypro1111/circuit-voice-assistant/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "circuit-voice-assistant"
	serviceVersion    = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.String("platform_base_url", cfg.Platform.BaseURL),
		slog.Duration("request_timeout", cfg.Platform.GetRequestTimeoutDuration()),
		slog.Duration("session_timeout", cfg.Session.GetTimeoutDuration()),
		slog.Duration("auth_timeout", cfg.Session.GetAuthTimeoutDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	connector, err := platform.NewConnector(platform.Config{
		BaseURL:  cfg.Platform.BaseURL,
		ClientID: cfg.Platform.ClientID,
		Timeout:  cfg.Platform.GetRequestTimeoutDuration(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create Circuit connector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessionMgr := session.NewManager(logger, connector, session.NewStore(), session.ManagerConfig{
		Timeout:     cfg.Session.GetTimeoutDuration(),
		AuthTimeout: cfg.Session.GetAuthTimeoutDuration(),
	}, appMetrics)
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Session.GetTimeoutDuration()),
	)

	router := assistant.NewRouter(logger, appMetrics)
	assistant.New(logger, sessionMgr).Register(router)
	logger.Info("Intent router initialized", slog.Int("intents", router.Intents()))

	httpServer := server.NewHTTPServer(cfg.Server, logger, router, sessionMgr, appMetrics, prometheus.DefaultGatherer)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.Server.ListenAddress()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop HTTP server first (stop accepting new turns)
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Log every session out before exit
	if err := sessionMgr.DestroyAll(shutdownCtx); err != nil {
		logger.Warn("Some sessions did not log out cleanly", slog.String("error", err.Error()))
	}

	stats := connector.GetStats()
	logger.Info("Final Circuit statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)
	if err := connector.Close(); err != nil {
		logger.Error("Error closing Circuit connector", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// loadConfig loads the configuration file. A missing default file falls
// back to built-in defaults plus environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Load("")
	}
	return cfg, err
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
