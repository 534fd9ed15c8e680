// ABOUTME: Entry point for the TrivyScope vulnerability metrics exporter.
// ABOUTME: Handles configuration parsing, wiring, and starts the cycle engine and HTTP server.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jfeddern/TrivyScope/internal/engine"
	"github.com/jfeddern/TrivyScope/internal/metrics"
	"github.com/jfeddern/TrivyScope/internal/providers"
	"github.com/jfeddern/TrivyScope/internal/server"

	"github.com/sirupsen/logrus"
)

func main() {
	config := parseConfig()

	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	exporter, err := NewExporter(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create exporter")
	}

	if err := exporter.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start exporter")
	}
}

func parseConfig() *engine.Config {
	config := &engine.Config{}

	var intervalSeconds int
	flag.StringVar(&config.Mode, "mode", providers.ModeReports, "Operation mode: reports or cluster")
	flag.IntVar(&config.Port, "port", 8082, "Port to expose metrics on")
	flag.StringVar(&config.ReportsDir, "reports-dir", "/reports", "Directory with Trivy JSON reports (reports mode)")
	flag.StringVar(&config.Namespace, "namespace", "", "Limit cluster discovery to one namespace")
	flag.IntVar(&intervalSeconds, "scan-interval", 300, "Seconds between scan cycles")
	flag.BoolVar(&config.MockMode, "mock", false, "Enable mock providers for local testing (no cluster or trivy binary)")
	flag.Parse()

	// Override with environment variables if set
	if envMode := os.Getenv("MODE"); envMode != "" {
		config.Mode = envMode
	}
	if envPort := os.Getenv("METRICS_PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			config.Port = port
		} else {
			log.Printf("Invalid METRICS_PORT environment variable: %s", envPort)
		}
	}
	if envDir := os.Getenv("TRIVY_REPORTS_DIR"); envDir != "" {
		config.ReportsDir = envDir
	}
	if envNamespace := os.Getenv("NAMESPACE"); envNamespace != "" {
		config.Namespace = envNamespace
	}
	if envInterval := os.Getenv("SCAN_INTERVAL"); envInterval != "" {
		if seconds, err := strconv.Atoi(envInterval); err == nil && seconds > 0 {
			intervalSeconds = seconds
		} else {
			log.Printf("Invalid SCAN_INTERVAL environment variable: %s", envInterval)
		}
	}
	if envMock := os.Getenv("MOCK_MODE"); envMock == "true" || envMock == "1" {
		config.MockMode = true
	}

	config.ScanInterval = time.Duration(intervalSeconds) * time.Second

	// Validate configuration
	if config.Mode != providers.ModeReports && config.Mode != providers.ModeCluster {
		log.Fatalf("Unsupported mode %q: must be %q or %q", config.Mode, providers.ModeReports, providers.ModeCluster)
	}
	if config.Mode == providers.ModeReports && !config.MockMode && config.ReportsDir == "" {
		log.Fatal("Reports directory is required for reports mode (unless using mock mode)")
	}

	return config
}

type Exporter struct {
	config *engine.Config
	logger *logrus.Logger
	engine *engine.Engine
	server *server.Server
}

func NewExporter(config *engine.Config, logger *logrus.Logger) (*Exporter, error) {
	logger.WithFields(logrus.Fields{
		"mode":          config.Mode,
		"port":          config.Port,
		"reports_dir":   config.ReportsDir,
		"scan_interval": config.ScanInterval,
	}).Info("Initializing TrivyScope")

	providerConfig := &providers.ProviderConfig{
		Mode:       config.Mode,
		ReportsDir: config.ReportsDir,
		Namespace:  config.Namespace,
		MockMode:   config.MockMode,
	}

	inventory, err := providers.CreateInventoryProvider(providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory provider: %w", err)
	}

	source, err := providers.CreateScanSource(providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan source: %w", err)
	}

	scanMetrics := metrics.NewScanMetrics()
	scanEngine := engine.NewEngine(inventory, source, scanMetrics, config, logger)

	srv := server.New(
		config.Port,
		metrics.CreateMetricsHandler(scanEngine, scanMetrics, logger),
		scanEngine,
		logger,
	)

	return &Exporter{
		config: config,
		logger: logger,
		engine: scanEngine,
		server: srv,
	}, nil
}

func (e *Exporter) Start(ctx context.Context) error {
	// Run scan cycles in the background; the HTTP server owns the foreground.
	go e.engine.Start(ctx)

	return e.server.Start(ctx)
}
