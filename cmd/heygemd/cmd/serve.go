package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/surajit20072003/heygemd/internal/avatar"
	"github.com/surajit20072003/heygemd/internal/backend"
	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/database"
	"github.com/surajit20072003/heygemd/internal/database/migrations"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/ffmpeg"
	"github.com/surajit20072003/heygemd/internal/gpu"
	internalhttp "github.com/surajit20072003/heygemd/internal/http"
	"github.com/surajit20072003/heygemd/internal/http/handlers"
	"github.com/surajit20072003/heygemd/internal/maintenance"
	"github.com/surajit20072003/heygemd/internal/media"
	"github.com/surajit20072003/heygemd/internal/pipeline"
	"github.com/surajit20072003/heygemd/internal/progress"
	"github.com/surajit20072003/heygemd/internal/repository"
	"github.com/surajit20072003/heygemd/internal/startup"
	"github.com/surajit20072003/heygemd/internal/tts"
	"github.com/surajit20072003/heygemd/internal/version"
	"github.com/surajit20072003/heygemd/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the heygemd server",
	Long: `Start the heygemd HTTP server and task scheduler.

The server provides:
- REST API for submitting synthesis tasks and tracking their progress
- Avatar catalog and reference media uploads
- Server-sent events stream for task progress
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Like the root logging flags, these override the loaded config only
	// when explicitly set, preserving flag > env > file > default priority.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8383, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (sqlite file path)")
	serveCmd.Flags().String("data-dir", "", "Base directory for staging, outputs, and uploads")
	serveCmd.Flags().Int("gpus", 0, "Number of GPU slots to manage")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	if err := ensureStorageDirs(&cfg.Storage); err != nil {
		return fmt.Errorf("preparing storage directories: %w", err)
	}

	// Database and avatar catalog
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	avatarRepo := repository.NewAvatarRepository(db.DB)
	avatarService := avatar.NewService(avatarRepo).WithLogger(logger)

	if dangling, err := startup.VerifyAvatarMedia(context.Background(), logger, avatarRepo); err == nil && dangling > 0 {
		logger.Warn("avatar catalog has rows with missing media",
			slog.Int("count", dangling))
	}

	// GPU registry and slot staging directories
	registry, err := gpu.NewRegistry(cfg.GPU, cfg.Storage.StagingPath(), logger)
	if err != nil {
		return fmt.Errorf("initializing gpu registry: %w", err)
	}
	for _, ep := range registry.Endpoints() {
		if err := os.MkdirAll(ep.StagingDir, 0o755); err != nil {
			return fmt.Errorf("creating staging dir for gpu %d: %w", ep.ID, err)
		}
	}

	// Recover from a previous run: the task table is in-memory, so leftover
	// staging artifacts have no owner after a restart.
	if _, err := startup.CleanupStaleStaging(logger, registry.Endpoints(), cfg.Maintenance.StagingMaxAge); err != nil {
		logger.Warn("startup staging cleanup incomplete", slog.Any("error", err))
	}
	if _, err := startup.CleanupTempFiles(logger, cfg.Storage.TempPath(), cfg.Maintenance.StagingMaxAge); err != nil {
		logger.Warn("startup temp cleanup incomplete", slog.Any("error", err))
	}

	// Root context cancelled by SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Scheduler
	eng := engine.New(registry, cfg.Maintenance.TaskTableCapacity, logger)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Stop()

	sampler := gpu.NewSampler(registry, cfg.GPU.SamplerInterval, logger)
	sampler.Start(ctx)
	defer sampler.Stop()

	// FFmpeg and media processing
	detector := ffmpeg.NewBinaryDetector()
	if cfg.FFmpeg.BinaryPath != "" || cfg.FFmpeg.ProbePath != "" {
		detector = detector.WithPaths(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	}
	binInfo, err := detector.Detect(context.Background())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("ffmpeg detected",
		slog.String("path", binInfo.FFmpegPath),
		slog.String("version", binInfo.Version),
		slog.Bool("nvenc", binInfo.SupportsNVENC()))

	processor := media.NewProcessor(binInfo, cfg, logger)

	// Backend and TTS clients share one breaker manager so the health
	// endpoint sees every circuit. Retries stay off: the pipeline driver
	// owns retry policy.
	breakers := httpclient.NewCircuitBreakerManager(httpclient.DefaultCircuitBreakerConfig()).WithLogger(logger)

	inferenceHTTP := breakers.ClientFor("inference", backendHTTPConfig(cfg, logger))
	backendClient := backend.NewClient(
		backend.WithHTTPClient(inferenceHTTP.StandardClient()),
		backend.WithUserAgent(version.UserAgent()),
		backend.WithTimeouts(cfg.Backend.SubmitTimeout, cfg.Backend.QueryTimeout),
	)

	ttsHTTP := breakers.ClientFor("tts", ttsHTTPConfig(cfg, logger))
	ttsClient := tts.NewClient(
		tts.WithHTTPClient(ttsHTTP.StandardClient()),
		tts.WithUserAgent(version.UserAgent()),
		tts.WithTimeout(cfg.TTS.Timeout),
		tts.WithMinAudioSize(cfg.TTS.MinAudioSize.Bytes()),
		tts.WithReferenceText(cfg.TTS.ReferenceText),
	)

	// Progress hub and pipeline driver
	hub := progress.NewHub(logger)

	driver := pipeline.New(eng, processor, backendClient, ttsClient, cfg, logger).
		WithProgress(hub)
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline driver: %w", err)
	}
	defer driver.Stop()

	// Background maintenance
	runner := maintenance.NewRunner(eng, registry, cfg.Maintenance).
		WithLogger(logger).
		WithTempDir(cfg.Storage.TempPath()).
		WithTTSUnload(ttsClient, cfg.TTS.IdleUnload)
	if err := runner.Start(); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	defer runner.Stop()

	// HTTP server and handlers
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithCircuitBreakerManager(breakers).
		WithDB(db).
		WithEngine(eng, registry)
	healthHandler.Register(server.API())

	taskHandler := handlers.NewTaskHandler(eng, driver, avatarService, cfg.Pipeline.QueueCapacity, logger)
	taskHandler.Register(server.API())
	taskHandler.RegisterDownload(server.Router())

	queueHandler := handlers.NewQueueHandler(eng, registry, logger)
	queueHandler.Register(server.API())

	avatarHandler := handlers.NewAvatarHandler(avatarService)
	avatarHandler.Register(server.API())

	uploadHandler := handlers.NewUploadHandler(cfg.Storage, logger)
	uploadHandler.Register(server.API())

	eventsHandler := handlers.NewEventsHandler(hub, logger)
	eventsHandler.RegisterSSE(server.Router())

	systemHandler := handlers.NewSystemHandler(detector)
	systemHandler.Register(server.API())

	logger.Info("starting heygemd server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
		slog.Int("gpus", registry.Count()),
	)

	return server.ListenAndServe(ctx)
}

// applyServeFlags overrides loaded config values with flags the user
// explicitly set. Visit only yields changed flags, so env and file
// values survive untouched defaults.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = f.Value.String()
		case "port":
			cfg.Server.Port, _ = strconv.Atoi(f.Value.String())
		case "database":
			cfg.Database.DSN = f.Value.String()
		case "data-dir":
			cfg.Storage.BaseDir = f.Value.String()
		case "gpus":
			// An explicit count discards any per-slot config overrides.
			cfg.GPU.Count, _ = strconv.Atoi(f.Value.String())
			cfg.GPU.Slots = nil
		}
	})
}

// ensureStorageDirs creates the storage tree up front so the first request
// never races directory creation.
func ensureStorageDirs(st *config.StorageConfig) error {
	for _, dir := range []string{
		st.StagingPath(),
		st.OutputPath(),
		st.TempPath(),
		st.UploadPath(),
		st.VoicePath(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// backendHTTPConfig is the transport profile for inference calls: no
// retries (submits are not idempotent) and the submit timeout as the cap.
func backendHTTPConfig(cfg *config.Config, logger *slog.Logger) httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Backend.SubmitTimeout
	hc.RetryAttempts = 0
	hc.CircuitThreshold = cfg.Backend.CircuitThreshold
	hc.CircuitTimeout = cfg.Backend.CircuitTimeout
	hc.UserAgent = version.UserAgent()
	hc.Logger = logger
	return hc
}

// ttsHTTPConfig is the transport profile for synthesis calls: one long
// attempt, no retries, because the driver degrades to reference audio on
// failure rather than retrying a twenty-minute call.
func ttsHTTPConfig(cfg *config.Config, logger *slog.Logger) httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.TTS.Timeout
	hc.RetryAttempts = 0
	hc.UserAgent = version.UserAgent()
	hc.Logger = logger
	return hc
}
