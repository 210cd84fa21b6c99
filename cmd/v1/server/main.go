package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/auth"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/config"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/health"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/kv"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/middleware"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/ratelimit"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/resolver"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/room"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/store"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/tracing"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/transport"
)

const serviceName = "watchparty-coordinator"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	logger := logging.GetLogger()

	if cfg.DevelopmentMode {
		logger.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (enabled when an OTLP endpoint is configured) ---
	tracingEnabled := cfg.OTLPEndpoint != ""
	if tracingEnabled {
		tp, err := tracing.InitTracer(context.Background(), serviceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracer, continuing without tracing", zap.Error(err))
			tracingEnabled = false
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Error("Tracer shutdown failed", zap.Error(err))
				}
			}()
			logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
		}
	}

	// --- Room state store ---
	// Redis holds all durable room state; without it nothing works.
	kvs, err := kv.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	logger.Info("Redis connected", zap.String("addr", cfg.RedisAddr))

	rooms := store.NewRooms(kvs)
	chat := store.NewChat(kvs, cfg.ChatHistoryLimit)
	identity := store.NewIdentity(kvs)

	// --- Coordinator dependencies ---
	res := resolver.New(cfg.VideoProxyPath, cfg.ResolverProbeTimeout, cfg.ResolverTotalTimeout)
	tokens := auth.NewHostTokens(cfg.HostTokenSecret)

	limiter, err := ratelimit.New(cfg.RateLimitWsIp, cfg.RateLimitMessages, kvs.Client())
	if err != nil {
		logger.Fatal("Invalid rate limit configuration", zap.Error(err))
	}

	svc := room.NewService(rooms, chat, identity, res, tokens, limiter, room.Config{
		SignalingPeerCap: cfg.SignalingPeerCap,
	})

	origins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	hub := transport.NewHub(svc, origins, limiter)
	svc.AttachConns(hub)

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = origins.List()
	router.Use(cors.New(corsConfig))

	// Routing
	router.GET("/ws", hub.ServeWS)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(kvs)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("API server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to run server", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		logger.Error("Error during Hub shutdown", zap.Error(err))
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Close the Redis connection last
	if err := kvs.Close(); err != nil {
		logger.Error("Failed to close Redis connection", zap.Error(err))
	} else {
		logger.Info("Redis connection closed")
	}

	logger.Info("Server exiting")
}
