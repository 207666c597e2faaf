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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/staff-transfer-api/api/swagger"
	"github.com/noah-isme/staff-transfer-api/internal/handler"
	"github.com/noah-isme/staff-transfer-api/internal/middleware"
	"github.com/noah-isme/staff-transfer-api/internal/models"
	"github.com/noah-isme/staff-transfer-api/internal/repository"
	"github.com/noah-isme/staff-transfer-api/internal/service"
	"github.com/noah-isme/staff-transfer-api/pkg/cache"
	"github.com/noah-isme/staff-transfer-api/pkg/config"
	"github.com/noah-isme/staff-transfer-api/pkg/database"
	"github.com/noah-isme/staff-transfer-api/pkg/jobs"
	"github.com/noah-isme/staff-transfer-api/pkg/logger"
	"github.com/noah-isme/staff-transfer-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/staff-transfer-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/staff-transfer-api/pkg/middleware/requestid"
	"github.com/noah-isme/staff-transfer-api/pkg/telemetry"
)

// @title Staff Transfer API
// @version 1.0.0
// @description Employee transfer requests with receiving office, zonal and district approval
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		logr.Fatal("failed to init tracing", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	transferRepo := repository.NewTransferRepository(db)
	officeRepo := repository.NewOfficeRepository(db)
	employeeRepo := repository.NewEmployeeRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	checks := map[string]handler.Pinger{"postgres": db}
	var (
		cacheSvc *service.CacheService
		locker   service.TransferLocker = service.NewLocalTransferLocker()
	)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisPinger{client: redisClient}
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Transfers.DirectoryCacheTTL, logr, true)
		locker = service.NewRedisTransferLocker(repository.NewLockRepository(redisClient), cfg.Transfers.LockTTL, logr)
	}

	sinks := []service.TransferEventSink{service.NewAuditEventSink(auditRepo)}
	if cfg.Events.RabbitMQURL != "" {
		publisher, err := messaging.DialPublisher(cfg.Events.RabbitMQURL, cfg.Events.RabbitMQExchange, logr)
		if err != nil {
			logr.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer publisher.Close() //nolint:errcheck
		sinks = append(sinks, service.NewMessagingEventSink(publisher))
	}
	events := service.NewTransferEventDispatcher(jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
	}, metrics, logr, sinks...)
	events.Start(ctx)

	directory := service.NewOfficeDirectory(officeRepo, cacheSvc, cfg.Transfers.DirectoryCacheTTL, logr)
	authorizer := service.NewTransferAuthorizer(directory, cfg.Transfers.ApprovalScope)
	transferSvc := service.NewTransferService(transferRepo, authorizer, validator.New(), logr,
		service.WithTransferEffect(service.NewEmployeeOfficeApplier(employeeRepo, logr)),
		service.WithTransferEvents(events),
		service.WithTransferLocker(locker),
		service.WithTransferMetrics(metrics),
	)
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	transferHandler := handler.NewTransferHandler(transferSvc)
	api := r.Group(cfg.APIPrefix, middleware.JWT(tokens))
	transfers := api.Group("/transfers")
	transfers.POST("", middleware.RequireRoles(models.RoleOfficeAdmin), transferHandler.Create)
	transfers.POST("/respond", middleware.RequireRoles(models.RoleOfficeAdmin), transferHandler.Respond)
	transfers.POST("/approve", middleware.RequireRoles(models.RoleZonalAuthority, models.RoleDistrictAuthority), transferHandler.Approve)
	transfers.GET("", transferHandler.List)
	transfers.GET("/:id", transferHandler.Get)
	transfers.POST("/:id/reconcile", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleDistrictAuthority), transferHandler.Reconcile)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown failed", zap.Error(err))
	}
	events.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown failed", zap.Error(err))
	}
}
