package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-marks-engine/api/swagger"
	"github.com/noah-isme/sma-marks-engine/internal/handler"
	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/repository"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	"github.com/noah-isme/sma-marks-engine/pkg/cache"
	"github.com/noah-isme/sma-marks-engine/pkg/config"
	"github.com/noah-isme/sma-marks-engine/pkg/database"
	"github.com/noah-isme/sma-marks-engine/pkg/events"
	"github.com/noah-isme/sma-marks-engine/pkg/jobs"
	"github.com/noah-isme/sma-marks-engine/pkg/logger"
	"github.com/noah-isme/sma-marks-engine/pkg/tracing"
)

// @title SMA Marks Engine
// @version 1.0.0
// @description Internal marks workflow, grading and outcome attainment
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type eventSink interface {
	Publish(ctx context.Context, msg events.Message) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("marks engine stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logr.Warn("flush traces", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sink, err := newEventSink(cfg.Events, logr)
	if err != nil {
		return err
	}
	defer sink.Close()

	metrics := service.NewMetricsService()

	auditQueue := jobs.NewQueue("audit-events", jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.MaxRetries,
		Logger:     logr,
		Observer:   metrics,
	})
	auditQueue.Register(service.JobPublishAudit, service.AuditEventHandler(sink))

	freezeQueue := jobs.NewQueue("marks-freeze", jobs.QueueConfig{
		Workers:  cfg.Workflow.FreezeWorkers,
		Logger:   logr,
		Observer: metrics,
	})

	examRepo := repository.NewExamRepository(db)
	assignmentRepo := repository.NewSubjectAssignmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var cacheRepo service.CacheRepository
	var locker service.RecordLocker = cache.NewLocalLocker()
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
		locker = cache.NewRedisLocker(redisClient, "marks:lock:", cfg.Workflow.LockTTL)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Attainment.CacheTTL, logr)

	attainmentSvc, err := service.NewAttainmentService(
		repository.NewAttainmentRepository(db, examRepo),
		cacheSvc,
		metrics,
		service.AttainmentConfig{
			Thresholds: service.DefaultThresholds(cfg.Attainment.L1, cfg.Attainment.L2, cfg.Attainment.L3, cfg.Attainment.MinFraction),
			Workers:    cfg.Attainment.Workers,
		},
		logr,
	)
	if err != nil {
		return err
	}

	audit := service.NewAuditRecorder(auditRepo, service.NewQueuedAuditPublisher(auditQueue), logr)
	workflow := service.NewMarksWorkflowService(
		repository.NewMarksRecordRepository(db),
		examRepo,
		assignmentRepo,
		assignmentRepo,
		audit,
		validator.New(),
		logr,
		service.WithRecordLocker(locker),
		service.WithAttainmentInvalidator(attainmentSvc),
		service.WithFreezeQueue(freezeQueue),
		service.WithWorkflowMetrics(metrics),
		service.WithWorkflowConfig(service.MarksWorkflowConfig{
			EditWindow:       cfg.Workflow.EditWindow,
			DefaultStrategy:  models.CalculationStrategyName(cfg.Calculation.DefaultStrategy),
			DefaultPrecision: cfg.Calculation.DefaultPrecision,
		}),
	)
	freezeQueue.Register(service.JobFreezeRecords, workflow.FreezeJobHandler())

	grades := service.NewGradeService(repository.NewGradeRepository(db), logr)
	auth := service.NewAuthService(cfg.JWT, logr)

	auditQueue.Start(ctx)
	defer auditQueue.Stop()
	freezeQueue.Start(ctx)
	defer freezeQueue.Stop()

	router := newRouter(cfg, logr, routerDeps{
		auth:       auth,
		metrics:    metrics,
		marks:      handler.NewMarksHandler(workflow),
		grades:     handler.NewGradeHandler(grades),
		attainment: handler.NewAttainmentHandler(attainmentSvc),
		health:     handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newEventSink(cfg config.EventsConfig, logr *zap.Logger) (eventSink, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange, logr)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func readinessChecks(db *sqlx.DB, client *redis.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}
	if client != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}
