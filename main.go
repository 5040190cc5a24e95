package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/handlers"
	"chat-relay/internal/media"
	"chat-relay/internal/observability"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracing(context.Background(), "chat-relay", cfg.OTLPEndpoint, cfg.Env)
		if err != nil {
			log.Printf("tracing disabled: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.chat-relay", "chat-relay", cfg.Env)

	if eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPublisher)
		defer eventsPublisher.Close()
	}

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	authService := auth.NewService(userRepo)

	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		log.Fatalf("failed to init media store: %v", err)
	}

	hub := ws.NewHub()
	syncer := ws.NewSyncer(messageRepo)
	sessionHandler := ws.NewSessionHandler(hub, authService, messageRepo, mediaStore, syncer, auditEmitter, cfg.MaxFrameBytes)

	monitor := ws.NewMonitor(hub, cfg.HeartbeatPushInterval, cfg.SweepInterval, cfg.HeartbeatTimeout)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor.Run(monitorCtx)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-relay"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws", sessionHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterHealthRoutes(router, database)
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.Debug)

	addr := ":" + cfg.Port
	if cfg.TLSEnabled() {
		log.Printf("listening on %s (wss)", addr)
		if err := router.RunTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	log.Printf("listening on %s (ws, no tls configured)", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
