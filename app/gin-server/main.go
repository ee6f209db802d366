package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yoockh/callguard/config"
	"github.com/yoockh/callguard/internal/api/handlers"
	"github.com/yoockh/callguard/internal/api/middleware"
	"github.com/yoockh/callguard/internal/api/routes"
	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/bridge"
	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/dispatch"
	"github.com/yoockh/callguard/internal/gateway"
	"github.com/yoockh/callguard/internal/logger"
	mongorepo "github.com/yoockh/callguard/internal/repositories/mongo"
	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	l := logger.New(cfg.LogLevel, cfg.Environment)

	// Init MongoDB
	if err := config.InitMongo(cfg.Mongo); err != nil {
		l.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(cfg.Mongo.DB); err != nil {
		l.Fatalf("MongoDB index error: %v", err)
	}
	l.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(cfg.Postgres); err != nil {
		l.Fatalf("PostgreSQL init error: %v", err)
	}
	l.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(cfg.Redis); err != nil {
		l.Fatalf("Redis init error: %v", err)
	}
	l.Info("Redis connected")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := auth.NewVerifier(cfg.Auth)
	gw := gateway.New(verifier, cache.NewRedisCache(config.RedisClient), gateway.Options{
		SessionPolicy:     cfg.Gateway.SessionPolicy,
		SendBuffer:        cfg.Gateway.SendBuffer,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		LevelTTL:          cfg.Gateway.LevelTTL,
	}, l)

	jobs := mongorepo.NewJobRepo(config.MongoClient.Database(cfg.Mongo.DB))
	dispatcher := dispatch.NewDispatcher(config.RedisClient, jobs, cfg.Dispatcher.Stream, cfg.Dispatcher.JobTTL, l)
	audit := pgrepo.NewAuditRepo(config.PostgresDB)

	sub := bridge.NewSubscriber(config.RedisClient, cfg.Gateway.AlertChannel, gw, l)
	go func() { _ = sub.Run(ctx) }()
	go gw.RunHeartbeat(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(l))
	routes.RegisterRoutes(r, routes.Deps{
		Verifier: verifier,
		Jobs:     handlers.NewJobHandler(dispatcher),
		Alerts:   handlers.NewAlertHandler(audit, gw),
		WS:       handlers.NewWSHandler(gw, dispatcher, l),
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalf("http server error: %v", err)
		}
	}()
	l.WithField("port", cfg.Server.Port).Info("gateway listening")

	<-ctx.Done()
	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	gw.Shutdown()
	_ = config.RedisClient.Close()
	_ = config.MongoClient.Disconnect(shutdownCtx)
}
