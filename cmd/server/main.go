package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/config"
	"github.com/Baaaki/roomcast/internal/database"
	"github.com/Baaaki/roomcast/internal/handler"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/internal/telemetry"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "roomcast"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(!cfg.IsProduction()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Moderation audit
	journal, err := audit.OpenJournal(cfg.AuditLogPath)
	if err != nil {
		logger.Log.Fatal("Failed to open audit journal", zap.Error(err))
	}
	defer journal.Close()

	publisher := audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	auditor := audit.NewAuditor(journal, publisher)

	// Fan-out: Redis relays events between nodes; without it this node is alone
	registry := broker.NewRegistry()
	var (
		bus         broker.Bus
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = broker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Failed to connect Redis", zap.Error(err))
		}
		defer redisClient.Close()

		bus, err = broker.NewRedisBus(ctx, redisClient, registry)
		if err != nil {
			logger.Log.Fatal("Failed to start Redis bus", zap.Error(err))
		}
	} else {
		logger.Log.Warn("REDIS_URL not set: single-node event bus, rate limiting disabled")
		bus = broker.NewLocalBus(registry)
	}
	defer bus.Close()

	repos := repository.New(db)

	authService := service.NewAuthService(repos, cfg.JWTSecret, cfg.JWTExpiry, cfg.Environment)
	members := service.NewMembershipService(repos, registry, bus, auditor, cfg.InvitationTTL)
	ledger := service.NewReadLedger(repos, members)
	rooms := service.NewRoomService(repos, members, ledger)
	messages := service.NewMessageService(repos, members, ledger, bus)
	media := service.NewMediaService(repos, cfg.MediaDir, cfg.MaxMediaBytes)

	handlers := handler.NewHandlers(authService, rooms, members, ledger, messages, media)
	handlers.AllowedOrigins = cfg.AllowedOrigins
	handlers.IsProduction = cfg.IsProduction()
	handlers.ServiceName = serviceName
	handlers.WebSocket = handler.NewWebSocketHandler(ctx, registry, members, messages, cfg.AllowedOrigins, cfg.SessionSendBuffer)

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, middleware.RateLimiterConfig{
			MaxRequests: cfg.RateLimitMaxRequests,
			Window:      cfg.RateLimitWindow,
		})
	}
	handlers.RateLimiter = limiter
	handlers.Admin = handler.NewAdminHandler(journal, limiter)

	router := handler.NewRouter(handlers)
	router.MaxMultipartMemory = cfg.MaxMediaBytes

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("audit_publisher", audit.PublisherMode(publisher)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("HTTP shutdown failed", zap.Error(err))
	}
	// sessions saw ctx cancel and are closing with 1001
	handlers.WebSocket.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Log.Warn("Tracer shutdown failed", zap.Error(err))
	}
	logger.Log.Info("Server stopped")
}
