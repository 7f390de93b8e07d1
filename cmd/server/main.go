// Tutbot - Telegram tutorial question board
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashureev/tutbot/internal/api"
	"github.com/ashureev/tutbot/internal/bot"
	"github.com/ashureev/tutbot/internal/checkpoint"
	"github.com/ashureev/tutbot/internal/config"
	"github.com/ashureev/tutbot/internal/feed"
	"github.com/ashureev/tutbot/internal/health"
	"github.com/ashureev/tutbot/internal/identity"
	"github.com/ashureev/tutbot/internal/middleware"
	"github.com/ashureev/tutbot/internal/store"
	"github.com/ashureev/tutbot/internal/tutorial"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment(), "bot_disabled", cfg.Bot.Disabled)

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

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize services.
	svc := tutorial.NewService(repo)
	hub := feed.NewHub(32)
	svc.Subscribe(hub.Publish)

	// Initialize handlers.
	baseHandler := api.NewHandler(svc, repo)
	chatHandler := api.NewChatHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	feedHandler := feed.NewHandler(hub, svc, cfg.AllowedOrigins())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chats/{chatID}/board", feedHandler.ServeHTTP)

	// WebSocket feeds are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start gRPC health server.
	healthSrv := health.NewServer(repo, 10*time.Second)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err, "port", cfg.GRPCPort)
		os.Exit(1)
	}
	go func() {
		if err := healthSrv.Serve(grpcListener); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	go healthSrv.Watch(ctx)

	// Start checkpoint worker.
	checkpointDone := checkpoint.StartWorker(ctx, svc, cfg.CheckpointInterval)

	// Start bot.
	var botWG sync.WaitGroup
	if cfg.Bot.Disabled {
		slog.Info("Telegram bot disabled (BOT_DISABLED set)")
	} else {
		tg, err := bot.NewTelegram(cfg.Bot.Token, cfg.Bot.Debug)
		if err != nil {
			slog.Error("Failed to connect to Telegram", "error", err)
			os.Exit(1)
		}
		roles := identity.NewCachedRoleChecker(tg, cfg.Bot.AdminCacheTTL)
		dispatcher := bot.NewDispatcher(svc, tg, roles, cfg.Bot.NoticeTTL, cfg.Bot.KeyboardWidth, logger)

		botWG.Add(1)
		go func() {
			defer botWG.Done()
			tg.Poll(ctx, dispatcher, cfg.Bot.PollTimeout)
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

	botWG.Wait()
	<-checkpointDone
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	healthSrv.Stop()

	// Errors are logged by FinalFlush; the store still needs closing.
	_ = checkpoint.FinalFlush(svc, 10*time.Second)

	slog.Info("Server stopped successfully")
}
