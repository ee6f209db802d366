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
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/config"
	"github.com/yoockh/callguard/internal/api/routes"
	"github.com/yoockh/callguard/internal/bridge"
	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/dispatch"
	"github.com/yoockh/callguard/internal/logger"
	"github.com/yoockh/callguard/internal/providers/llm"
	"github.com/yoockh/callguard/internal/providers/scoring"
	"github.com/yoockh/callguard/internal/providers/sms"
	"github.com/yoockh/callguard/internal/providers/stt"
	mongorepo "github.com/yoockh/callguard/internal/repositories/mongo"
	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
	"github.com/yoockh/callguard/internal/services"
	"github.com/yoockh/callguard/internal/stability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	l := logger.New(cfg.LogLevel, cfg.Environment)

	if cfg.Scoring.Endpoint == "" {
		l.Fatal("scoring.endpoint is required for the worker")
	}

	if err := config.InitMongo(cfg.Mongo); err != nil {
		l.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.InitPostgres(cfg.Postgres); err != nil {
		l.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.InitRedis(cfg.Redis); err != nil {
		l.Fatalf("Redis init error: %v", err)
	}
	if err := config.InitRabbitMQ(cfg.RabbitMQ); err != nil {
		l.Fatalf("RabbitMQ init error: %v", err)
	}
	defer config.CloseRabbitMQ()
	l.Info("storage and broker connections ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv := cache.NewRedisCache(config.RedisClient)

	var sender services.SMSSender = sms.LogSender{Logger: l}
	if config.RabbitChannel != nil {
		sender = sms.NewRabbitSender(config.RabbitChannel, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, l)
	}

	notifier := services.NewNotificationService(
		pgrepo.NewAuditRepo(config.PostgresDB),
		pgrepo.NewUserRepo(config.PostgresDB),
		bridge.NewPublisher(config.RedisClient, cfg.Gateway.AlertChannel),
		sender,
		services.DefaultPolicy,
		l,
	)

	filter := stability.NewFilter(
		stability.NewRedisStore(config.RedisClient, cfg.Stability.TTL),
		stability.Rule{
			Size:    cfg.Stability.WindowSize,
			AlarmAt: cfg.Stability.AlarmThreshold,
			SafeAt:  cfg.Stability.SafeThreshold,
		},
		l,
	)

	calls := pgrepo.NewCallRepo(config.PostgresDB)
	detections := pgrepo.NewDetectionRepo(config.PostgresDB)
	ruleRepo := pgrepo.NewRiskRuleRepo(config.PostgresDB)
	rules := scoring.NewRuleMatcher(ruleRepo, kv, time.Minute)

	var hints []string
	if active, err := ruleRepo.ListActive(ctx); err != nil {
		l.WithError(err).Warn("risk rules unavailable for speech hints")
	} else {
		for _, r := range active {
			hints = append(hints, r.Keyword)
		}
	}

	classifier, transcriber := optionalProviders(ctx, cfg.Scoring, hints, l)
	if classifier != nil {
		defer classifier.Close()
	}
	if transcriber != nil {
		defer transcriber.Close()
	}

	newScorer := func() (scoring.Scorer, error) {
		return &scoring.Router{
			Model: scoring.NewHTTPScorer(scoring.HTTPConfig{
				Endpoint:  cfg.Scoring.Endpoint,
				Timeout:   cfg.Scoring.Timeout,
				RateLimit: cfg.Scoring.RateLimit,
				Burst:     cfg.Scoring.Burst,
			}),
			Classifier: classifier,
			Rules:      rules,
			STT:        transcriber,
			Language:   cfg.Scoring.Language,
			Logger:     l,
		}, nil
	}

	pool := &dispatch.WorkerPool{
		Redis: config.RedisClient,
		Jobs:  mongorepo.NewJobRepo(config.MongoClient.Database(cfg.Mongo.DB)),
		Pipeline: &dispatch.Pipeline{
			Calls:      calls,
			Detections: detections,
			Filter:     filter,
			Notifier:   notifier,
			Logger:     l,
		},
		NewScorer:         newScorer,
		NumWorkers:        cfg.Dispatcher.NumWorkers,
		JobTimeLimit:      cfg.Dispatcher.JobTimeLimit,
		MaxTasksPerWorker: cfg.Dispatcher.MaxTasksPerWorker,
		Logger:            l,
		Stream:            cfg.Dispatcher.Stream,
		Group:             cfg.Dispatcher.Group,
	}
	if err := pool.Start(ctx); err != nil {
		l.Fatalf("worker pool start error: %v", err)
	}
	l.WithField("workers", cfg.Dispatcher.NumWorkers).Info("worker pool started")

	retention := &services.RetentionService{
		Audit:      pgrepo.NewAuditRepo(config.PostgresDB),
		Detections: detections,
		Horizon:    time.Duration(cfg.Retention.Days) * 24 * time.Hour,
		Interval:   cfg.Retention.Interval,
		Logger:     l,
	}
	go retention.Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterWorkerRoutes(r)
	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Server.WorkerPort), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Error("metrics server stopped")
		}
	}()

	<-ctx.Done()
	l.Info("draining workers")
	pool.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = config.RedisClient.Close()
	_ = config.MongoClient.Disconnect(shutdownCtx)
}

// optionalProviders builds the Gemini text classifier and the speech
// transcriber when configured. Either may be nil. The transcriber is biased
// toward the rule keywords active at boot.
func optionalProviders(ctx context.Context, s config.ScoringSettings, hints []string, l *logrus.Logger) (llm.Classifier, stt.Transcriber) {
	var classifier llm.Classifier
	if s.GCPProject != "" {
		g, err := llm.NewVertexGemini(ctx, s.GCPProject, s.GCPLocation, s.GeminiModel)
		if err != nil {
			l.WithError(err).Warn("gemini classifier disabled")
		} else {
			classifier = g
		}
	}

	var transcriber stt.Transcriber
	if s.STTEnabled {
		g, err := stt.NewGoogleSpeech(ctx, s.SampleRate)
		if err != nil {
			l.WithError(err).Warn("speech transcription disabled")
		} else {
			g.Hints = hints
			transcriber = g
		}
	}
	return classifier, transcriber
}
