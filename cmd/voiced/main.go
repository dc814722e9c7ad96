package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dev-msp/untitled-voice-assistant/internal/audio"
	"github.com/dev-msp/untitled-voice-assistant/internal/config"
	"github.com/dev-msp/untitled-voice-assistant/internal/daemon"
	"github.com/dev-msp/untitled-voice-assistant/internal/metrics"
	"github.com/dev-msp/untitled-voice-assistant/internal/server"
	"github.com/dev-msp/untitled-voice-assistant/internal/transcribe"
)

const (
	defaultConfigPath = "configs/voiced.yaml"
	serviceName       = "voiced"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listDevices := flag.Bool("list-devices", false, "List capture devices and exit")
	flag.Parse()

	// Load .env for API keys before reading configuration
	_ = godotenv.Load()

	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("socket_path", cfg.Daemon.SocketPath),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("input_device", cfg.Daemon.InputDevice),
		slog.Int("sample_rate", cfg.Daemon.SampleRate),
		slog.Float64("buffer_capacity_seconds", cfg.Buffer.CapacitySeconds),
		slog.Float64("vad_threshold", cfg.VAD.Threshold),
		slog.Int("vad_window_ms", cfg.VAD.WindowMS),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize PortAudio for the lifetime of the process
	if err := portaudio.Initialize(); err != nil {
		logger.Error("Failed to initialize PortAudio", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer portaudio.Terminate()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)
	logger.Info("Prometheus metrics initialized")

	// Initialize the inference engine client. An unreachable engine
	// at startup is fatal.
	engine, err := transcribe.NewServerEngine(transcribe.ServerConfig{
		Endpoint:   cfg.Engine.Endpoint,
		Model:      cfg.Engine.Model,
		APIKey:     cfg.Engine.APIKey,
		Timeout:    cfg.Engine.GetTimeoutDuration(),
		MaxRetries: cfg.Engine.MaxRetries,
		RetryHook:  appMetrics.RecordEngineRetry,
	})
	if err != nil {
		logger.Error("Failed to create engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := engine.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Error("Inference engine not ready", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pingCancel()
	logger.Info("Inference engine ready", slog.String("endpoint", cfg.Engine.Endpoint))

	// Start the transcription worker
	worker := transcribe.NewWorker(engine)
	worker.Start()

	// Create the daemon
	d, err := daemon.New(daemon.Options{
		InputDevice:    cfg.Daemon.InputDevice,
		SampleRate:     cfg.Daemon.SampleRate,
		BufferCapacity: cfg.Buffer.CapacitySamples(cfg.Daemon.SampleRate),
		WindowSize:     cfg.VAD.WindowSamples(cfg.Daemon.SampleRate),
		VADThreshold:   cfg.VAD.Threshold,
		Hangover:       cfg.VAD.HangoverWindows,
		DefaultMode:    daemon.Mode(cfg.Daemon.DefaultMode),
		PollInterval:   cfg.VAD.WindowDuration() / 2,
	}, audio.NewPortAudioOpener(), worker, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create daemon", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemonDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(daemonDone)
	}()

	// Start the socket transport (if configured)
	var socketServer *server.SocketServer
	if cfg.Daemon.SocketPath != "" {
		socketServer = server.NewSocketServer(cfg.Daemon.SocketPath, logger, d)
		if err := socketServer.Start(); err != nil {
			logger.Error("Failed to start socket server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Start the HTTP transport (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, d, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop transports first so no new commands arrive
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}
	if socketServer != nil {
		if err := socketServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping socket server", slog.String("error", err.Error()))
		}
	}

	// Stop the daemon loop; an active session is aborted
	cancel()
	<-daemonDone

	// Stop the worker after the daemon can no longer submit jobs
	worker.Stop()

	stats := engine.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// printDevices lists capture-capable devices on stdout
func printDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	for _, dev := range devices {
		fmt.Printf("[%d] %s (channels: %d, default rate: %.0f Hz)\n",
			dev.Index, dev.Name, dev.MaxInputChannels, dev.DefaultSampleRate)
	}
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
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

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
