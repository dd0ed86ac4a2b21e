package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-core/internal/auth"
	"messaging-core/internal/config"
	"messaging-core/internal/db"
	"messaging-core/internal/handlers"
	"messaging-core/internal/middleware"
	"messaging-core/internal/observability"
	"messaging-core/internal/permissions"
	"messaging-core/internal/presence"
	"messaging-core/internal/rabbitmq"
	"messaging-core/internal/repositories"
	"messaging-core/internal/retention"
	"messaging-core/internal/service"
	"messaging-core/internal/telemetry"
	"messaging-core/internal/ws"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	database, err := db.Connect(cfg.DBDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}
	defer database.Close()

	var eventPublisher observability.Publisher
	if cfg.AMQPURL != "" {
		pub, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Warn().Err(err).Msg("event publisher disabled")
		} else {
			eventPublisher = pub
			defer pub.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer auditPublisher.Close()
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", "messaging-core", cfg.Environment, log)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	settingsRepo := repositories.NewSettingsRepo(database)

	engine := permissions.NewEngine(settingsRepo)
	hub := ws.NewHub(log)
	registry := presence.NewRegistry()

	scheduler := retention.NewScheduler(messageRepo, chatRepo, hub, log, retention.Options{
		RequestTimeout: cfg.RequestTimeout,
		SweepInterval:  cfg.ReaperInterval,
		BatchSize:      cfg.ReaperBatchSize,
		MaxBatches:     cfg.ReaperMaxBatches,
	})
	if err := scheduler.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("retention timer recovery failed")
	}
	scheduler.Start()

	svc := service.NewMessaging(chatRepo, messageRepo, settingsRepo, engine, scheduler, hub, registry, log, cfg.RequestTimeout)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	gateway := ws.NewGateway(hub, registry, svc, verifier, eventPublisher, log)
	chatHandler := handlers.NewChatHandler(svc, auditEmitter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	router.GET("/ws", gateway.Handle)

	authMiddleware := middleware.AuthMiddleware(verifier)
	api := router.Group("/", authMiddleware)
	{
		api.GET("/chats", chatHandler.ListChats)
		api.POST("/chats/start", chatHandler.StartChat)
		api.POST("/chats/group", chatHandler.CreateGroup)
		api.POST("/chats/:chat_id/participants", chatHandler.AddParticipants)
		api.DELETE("/chats/:chat_id/me", chatHandler.LeaveChat)
		api.PUT("/chats/:chat_id/mute", chatHandler.MuteChat)
		api.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)
		api.POST("/chats/:chat_id/messages", chatHandler.PostChatMessage)
		api.POST("/chats/:chat_id/messages/read", chatHandler.MarkMessagesRead)
		api.POST("/chats/:chat_id/messages/:message_id/read", chatHandler.MarkMessageRead)
		api.PUT("/chats/:chat_id/messages/:message_id", chatHandler.EditMessage)
		api.DELETE("/chats/:chat_id/messages/:message_id", chatHandler.DeleteMessage)
		api.POST("/chats/:chat_id/schedule-deletion", chatHandler.ScheduleChatDeletion)
		api.POST("/messages/:message_id/forward", chatHandler.ForwardMessage)
		api.GET("/friends/online", chatHandler.OnlineFriends)
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown failed")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "messaging-core").
		Logger()
	if cfg.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return log
}
