// Whiteboard tutor server.
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

	"github.com/ashureev/whiteboard-tutor/internal/api"
	"github.com/ashureev/whiteboard-tutor/internal/config"
	"github.com/ashureev/whiteboard-tutor/internal/metrics"
	"github.com/ashureev/whiteboard-tutor/internal/middleware"
	"github.com/ashureev/whiteboard-tutor/internal/store"
	"github.com/ashureev/whiteboard-tutor/internal/tutor"
	"github.com/ashureev/whiteboard-tutor/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"k8s.io/utils/clock"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.Dev)

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
	slog.Info("Database connected")

	m := metrics.New()

	// The remote planner is optional; without it the local planner answers.
	var remote tutor.Planner
	if cfg.PlannerAddr != "" {
		slog.Info("Attempting to connect to planner service via gRPC", "address", cfg.PlannerAddr)
		plannerCfg := tutor.DefaultGRPCPlannerConfig(cfg.PlannerAddr)
		plannerCfg.RequestTimeout = cfg.PlannerTimeout
		grpcPlanner, err := tutor.NewGRPCPlanner(plannerCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to planner, using local planner", "error", err)
		} else {
			remote = grpcPlanner
		}
	}
	if remote == nil {
		slog.Info("Remote planner disabled (PLANNER_ADDR not set or connection failed)")
	}
	planner := tutor.NewFallbackPlanner(remote, tutor.LocalPlanner{}, m, logger)
	defer func() {
		if closeErr := planner.Close(); closeErr != nil {
			slog.Warn("Failed to close planner", "error", closeErr)
		}
	}()

	// Initialize services.
	sm := tutor.NewSessionManager(logger)
	svc := tutor.NewService(sm, planner,
		tutor.WithRepository(repo),
		tutor.WithMetrics(m),
		tutor.WithLogger(logger),
	)

	// Initialize handlers.
	wsCfg := tutor.DefaultHandlerConfig()
	wsCfg.AllowedOrigin = cfg.AllowedOrigin()
	wsCfg.Dev = cfg.Dev
	wsCfg.InboundRate = cfg.InboundRate
	wsCfg.InboundBurst = cfg.InboundBurst
	wsHandler := tutor.NewWebSocketHandler(svc, wsCfg, m)

	baseHandler := api.NewHandler(svc, repo, api.Options{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SessionTTL:     cfg.SessionTTL,
		Planner:        planner,
		Metrics:        m,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin()}))

	uploadHandler := api.NewUploadHandler(baseHandler)
	api.NewSessionHandler(baseHandler).RegisterRoutes(r)
	uploadHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	// WebSocket endpoint.
	r.Get("/ws/{session_id}", wsHandler.ServeHTTP)

	// Serve embedded whiteboard page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Uploads go away together with the session they belong to.
	ttlWorker := tutor.NewTTLWorker(svc, repo, cfg.SessionTTL, clock.RealClock{}, uploadHandler.PurgeSession)
	ttlWorker.Start(ctx)

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

	// Hijacked WebSocket connections are not closed by Shutdown.
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("Sessions persisted", "count", svc.PersistAll(shutdownCtx))

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
