// Assistant Bridge - chat integrations backed by a hosted assistant
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/assistant-bridge/internal/agent"
	"github.com/ashureev/assistant-bridge/internal/api"
	"github.com/ashureev/assistant-bridge/internal/assistant"
	"github.com/ashureev/assistant-bridge/internal/config"
	"github.com/ashureev/assistant-bridge/internal/middleware"
	"github.com/ashureev/assistant-bridge/internal/scheduler"
	"github.com/ashureev/assistant-bridge/internal/store"
	"github.com/ashureev/assistant-bridge/internal/tools"
	"github.com/ashureev/assistant-bridge/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	registry, err := tools.Load(cfg.Assistant.ToolsDir, tools.Builtins(), logger)
	if err != nil {
		slog.Error("Failed to load tools", "dir", cfg.Assistant.ToolsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Tools registered", "tools", registry.Names())

	remote := agent.NewOpenAIService(agent.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}, logger)

	// Synchronize the remote assistant before accepting traffic.
	syncManager := assistant.NewManager(remote, assistant.Paths{
		ToolsDir:       cfg.Assistant.ToolsDir,
		ResourcesDir:   cfg.Assistant.ResourcesDir,
		DefinitionPath: cfg.Assistant.DefinitionPath,
		RecordPath:     cfg.Assistant.RecordPath,
	}, logger)
	loadDefinition := func() (assistant.Definition, error) {
		return assistant.LoadDefinitionWithTools(cfg.Assistant.DefinitionPath, cfg.Assistant.ToolsDir, logger)
	}

	current := assistant.NewCurrent("")
	resync, err := newResync(cfg, syncManager, loadDefinition, current, logger)
	if err != nil {
		slog.Error("Failed to initialize resync scheduler", "error", err)
		os.Exit(1)
	}
	assistantID, err := resync.RunOnce(ctx)
	if err != nil {
		slog.Error("Failed to synchronize assistant", "error", err)
		os.Exit(1)
	}
	slog.Info("Assistant ready", "assistant_id", assistantID)

	// Initialize services.
	orchestrator := agent.NewOrchestrator(remote, registry, agent.Config{
		PollInterval:           cfg.Run.PollInterval,
		MaxPolls:               cfg.Run.MaxPolls,
		UnregisteredToolPolicy: cfg.Run.UnregisteredToolPolicy,
	}, logger)
	service := agent.NewService(repo, remote, orchestrator, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	agentHandler := agent.NewHandler(service, current, conversationLogger, cfg, logger)
	defer agentHandler.Close()
	healthHandler := api.NewHealthHandler(repo, current)

	if !cfg.APIKeyRequired() {
		slog.Warn("CUSTOM_API_KEY not set, /api and /ws are unauthenticated")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.CustomAPIKey))
		agentHandler.RegisterRoutes(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.CustomAPIKey))
		agentHandler.RegisterWebSocket(r)
	})

	// Embedded chat page.
	r.Handle("/*", web.Handler())

	// No WriteTimeout: turns are bounded by TURN_TIMEOUT and WebSockets are long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	// Shutdown waits for HTTP turns; WebSocket sessions are hijacked and must be ended here.
	srv.RegisterOnShutdown(agentHandler.Shutdown)

	if cfg.Assistant.ResyncSchedule != "" {
		resync.Start(ctx)
		slog.Info("Assistant resync scheduled", "schedule", cfg.Assistant.ResyncSchedule)
	}

	if cfg.GRPCHealthPort != "" {
		grpcHealth := api.NewGRPCHealthServer(repo, logger)
		go func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	resync.Stop()

	slog.Info("Server stopped successfully")
}

// newResync builds the scheduler. Without a schedule it is only used for the
// startup sync.
func newResync(cfg *config.Config, syncer scheduler.Syncer, load scheduler.DefinitionLoader, current *assistant.Current, logger *slog.Logger) (*scheduler.Resync, error) {
	schedule := cfg.Assistant.ResyncSchedule
	if schedule == "" {
		schedule = "@daily"
	}
	return scheduler.New(schedule, syncer, load, current, logger)
}
