package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"comm_core/internal/auth"
	"comm_core/internal/broker"
	"comm_core/internal/config"
	"comm_core/internal/delivery"
	"comm_core/internal/httpapi"
	"comm_core/internal/otp"
	"comm_core/internal/presence"
	"comm_core/internal/push"
	"comm_core/internal/repository"
	"comm_core/internal/router"
	"comm_core/internal/signaling"
	"comm_core/internal/ws"
	"comm_core/pkg/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Error("failed to open database", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer rdb.Close()

	users := repository.NewUserRepository(db)
	chats := repository.NewChatRepository(db)
	calls := repository.NewCallRepository(db)
	otpStore := otp.NewStore(rdb, cfg.Auth.OTPTTL)

	authManager, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Error("failed to build auth manager", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The broker is optional: without it offline notifications are dropped
	// and the event archive stays off.
	var pushPublisher delivery.PushPublisher
	var eventSink delivery.EventSink
	if cfg.Broker.AMQPURL != "" {
		mq, err := broker.NewClient(cfg.Broker.AMQPURL, cfg.Broker.StreamURI)
		if err != nil {
			log.Error("failed to connect to broker", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer mq.Close()
		pushPublisher = mq

		if mq.StreamEnv != nil {
			sink, err := broker.NewStreamSink(mq, cfg.Broker.StreamName)
			if err != nil {
				log.Error("failed to open event stream", slog.String("err", err.Error()))
				os.Exit(1)
			}
			defer sink.Close()
			eventSink = sink
		}

		pushWorker := push.NewWorker(mq, push.LogNotifier{Log: log}, log)
		go pushWorker.Start(ctx)
	}

	registry := presence.NewRegistry()
	rooms := router.NewRooms()
	coordinator := delivery.NewCoordinator(chats, rooms, registry, pushPublisher, eventSink, log)
	relay := signaling.NewRelay(registry, log)

	hub := ws.NewHub(registry, rooms, coordinator, relay, log)
	go hub.Run()

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		log.Error("failed to create upload dir", slog.String("err", err.Error()))
		os.Exit(1)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), logger.Middleware(log))

	server := httpapi.NewServer(users, chats, calls, otpStore, authManager, coordinator, hub, cfg.Upload.Dir)
	server.Routes(engine)

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	log.Info("server starting", slog.String("addr", addr), slog.String("env", cfg.App.Env))
	if err := engine.Run(addr); err != nil {
		log.Error("server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
