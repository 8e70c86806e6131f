package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream-service/internal/config"
	"github.com/skypro1111/whisper-stream-service/internal/engine"
	"github.com/skypro1111/whisper-stream-service/internal/metrics"
	"github.com/skypro1111/whisper-stream-service/internal/models"
	"github.com/skypro1111/whisper-stream-service/internal/server"
	"github.com/skypro1111/whisper-stream-service/internal/session"
	"github.com/skypro1111/whisper-stream-service/internal/storage"
	"github.com/skypro1111/whisper-stream-service/internal/stream"
)

const serviceName = "whisper-stream-service"

var configPath string

var rootCmd = &cobra.Command{
	Use:          serviceName,
	Short:        "Streaming speech-to-text service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to configuration file")
	rootCmd.AddCommand(
		serveCmd(),
		modelsCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := initLogger(config.LoggingConfig{Level: "error", Output: "stderr"})

			loader, err := engine.NewLoader(engineConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}
			registry, err := models.NewRegistry(registryConfig(cfg), loader, logger, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range registry.AvailableModels() {
				info := registry.Describe(name)
				if info.FilePath != nil {
					fmt.Fprintf(out, "%-20s %-8s %s (%d bytes)\n", name, info.Type, *info.FilePath, *info.FileSize)
					continue
				}
				fmt.Fprintf(out, "%-20s %s\n", name, info.Type)
			}
			return nil
		},
	}
}

// loadConfig reads the --config file. The default path may be absent.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, path, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Backend:       cfg.Engine.Backend,
		BinaryPath:    cfg.Engine.BinaryPath,
		Threads:       cfg.Engine.Threads,
		Endpoint:      cfg.Engine.Endpoint,
		APIKey:        cfg.Engine.APIKey,
		Timeout:       cfg.Engine.GetTimeoutDuration(),
		MaxRetries:    cfg.Engine.MaxRetries,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	}
}

func registryConfig(cfg *config.Config) models.Config {
	return models.Config{
		ModelDir:          cfg.Models.Dir,
		CacheDir:          cfg.Models.GetModelCacheDir(),
		Extensions:        cfg.Models.Extensions,
		TranscribeTimeout: cfg.Engine.GetTimeoutDuration(),
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", cfg.Server.Version),
		slog.String("config_path", path),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address()),
		slog.String("model_dir", cfg.Models.Dir),
		slog.String("default_model", cfg.Models.DefaultModel),
		slog.String("default_language", cfg.Models.DefaultLanguage),
		slog.String("engine_backend", cfg.Engine.Backend),
		slog.Float64("chunk_duration", cfg.Streaming.ChunkDuration),
		slog.Int("default_sample_rate", cfg.Streaming.DefaultSampleRate),
		slog.Bool("storage_enabled", cfg.Storage.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	loader, err := engine.NewLoader(engineConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	registry, err := models.NewRegistry(registryConfig(cfg), loader, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create model registry: %w", err)
	}
	logger.Info("Model registry initialized",
		slog.String("model_dir", registry.ModelDir()),
		slog.Any("available_models", registry.AvailableModels()),
	)

	watcher := models.NewWatcher(registry, logger, appMetrics, nil)
	if err := watcher.Start(ctx); err != nil {
		// hot-reload is optional; the directory is rescanned on every lookup anyway
		logger.Warn("Model directory watcher disabled", slog.String("error", err.Error()))
	}

	var store storage.Store = storage.NopStore{}
	if cfg.Storage.Enabled {
		store, err = storage.NewBadgerStore(storage.Options{Path: cfg.Storage.Path})
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		logger.Info("Transcript store opened", slog.String("path", cfg.Storage.Path))
	}

	manager := stream.NewManager(stream.ManagerConfig{
		MaxStreams:  cfg.Streaming.MaxStreams,
		IdleTimeout: cfg.Streaming.GetIdleTimeoutDuration(),
	}, logger, appMetrics)

	protocol := stream.NewProtocol(registry, manager, store, stream.Config{
		DefaultSampleRate: uint32(cfg.Streaming.DefaultSampleRate),
		ChunkDuration:     cfg.Streaming.ChunkDuration,
		MaxBufferBytes:    cfg.Streaming.MaxBufferBytes,
		Session: session.Config{
			MinChunkBytes: cfg.Streaming.MinChunkBytes,
			MinFinalBytes: cfg.Streaming.MinFinalBytes,
			TempDir:       cfg.Streaming.TempDir,
		},
	}, logger, appMetrics)

	deps := server.Dependencies{
		Registry: registry,
		Protocol: protocol,
		Manager:  manager,
		Store:    store,
		Metrics:  appMetrics,
	}
	if remote, ok := loader.(*engine.RemoteLoader); ok {
		deps.EngineStats = remote.Client()
	}

	httpServer := server.NewHTTPServer(cfg, logger, deps)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.Server.Address()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests, then end open streams
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	manager.Stop()

	if err := watcher.Stop(); err != nil {
		logger.Error("Error stopping model watcher", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		logger.Error("Error closing transcript store", slog.String("error", err.Error()))
	}

	if remote, ok := loader.(*engine.RemoteLoader); ok {
		stats := remote.Client().GetStats()
		logger.Info("Final engine statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
			slog.Uint64("total_retries", stats.TotalRetries),
		)
	}

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
