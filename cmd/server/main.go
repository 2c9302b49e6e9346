package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	appaudit "github.com/tradeledger/backend/internal/application/audit"
	appevent "github.com/tradeledger/backend/internal/application/event"
	appledger "github.com/tradeledger/backend/internal/application/ledger"
	apprecon "github.com/tradeledger/backend/internal/application/reconciliation"
	apptrading "github.com/tradeledger/backend/internal/application/trading"
	"github.com/tradeledger/backend/internal/domain/trading"
	"github.com/tradeledger/backend/internal/infrastructure/auth"
	"github.com/tradeledger/backend/internal/infrastructure/cache"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/event"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/infrastructure/messaging"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/projection"
	"github.com/tradeledger/backend/internal/infrastructure/scheduler"
	"github.com/tradeledger/backend/internal/infrastructure/storage"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	"github.com/tradeledger/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/tradeledger/backend/docs"
)

//	@title			Trade Ledger API
//	@version		1.0
//	@description	Double-entry ledger, order escrow, settlement and reconciliation for a trading venue
//	@termsOfService	http://swagger.io/terms/

//	@contact.name	API Support
//	@contact.url	https://github.com/tradeledger/backend

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Fields: map[string]string{"service": cfg.App.Name, "env": cfg.App.Env},
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx := context.Background()
	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}

	// Telemetry: logs bridge first so everything after it reaches the collector
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize OTEL logs", zap.Error(err))
	}
	if logsProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    serviceName,
			LoggerProvider: logsProvider,
			Level:          logger.ParseLevel(cfg.Log.Level),
		})
		log = telemetry.NewBridgedLogger(log.Core(), otelCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log.Info("Starting trade ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.PyroscopeURL,
		ApplicationName:   serviceName,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		log.Warn("Continuous profiling unavailable", zap.Error(err))
	}
	if profiler != nil && profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if profiler != nil {
			if err := profiler.Stop(); err != nil {
				log.Error("Error stopping profiler", zap.Error(err))
			}
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
		if err := logsProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down logs provider", zap.Error(err))
		}
	}()

	// Database
	db, err := persistence.NewDatabaseWithZap(&cfg.Database, log, cfg.Log.Level, cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
			LogFullSQL:         cfg.Telemetry.DBLogFullSQL,
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
			DBName:             cfg.Database.DBName,
		}, log); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	meter := meterProvider.Meter("trade-ledger")
	if meterProvider.IsEnabled() {
		dbMetrics, err := telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
			PoolStatsInterval:  15 * time.Second,
		}, log)
		if err != nil {
			log.Fatal("Failed to create database metrics", zap.Error(err))
		}
		if err := db.DB.Use(dbMetrics); err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		}
		if sqlDB, err := db.DB.DB(); err == nil {
			dbMetrics.WatchPool(ctx, sqlDB)
		}
		defer dbMetrics.Stop()
	}

	ledgerMetrics, err := telemetry.NewLedgerMetrics(telemetry.LedgerMetricsConfig{
		Meter:         meter,
		Logger:        log,
		StateProvider: telemetry.NewGormLedgerStateProvider(db.DB),
	})
	if err != nil {
		log.Fatal("Failed to create ledger metrics", zap.Error(err))
	}
	ledgerMetrics.StartPeriodicCollection(ctx, 30*time.Second)
	defer ledgerMetrics.Stop()

	// Cache: balance snapshots and event dedupe
	cacheFactory := cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.Redis.AllowFallback),
	)
	defer func() {
		if err := cacheFactory.Close(); err != nil {
			log.Error("Error closing cache", zap.Error(err))
		}
	}()
	snapshots, err := cacheFactory.SnapshotStore(ctx, cfg.Ledger.SnapshotTTL)
	if err != nil {
		log.Fatal("Failed to create snapshot store", zap.Error(err))
	}
	processedEvents, err := cacheFactory.ProcessedEventStore(ctx)
	if err != nil {
		log.Fatal("Failed to create processed-event store", zap.Error(err))
	}

	// Transaction scope with serializable retries; events are written to the outbox
	eventSerializer := event.NewLedgerEventSerializer()
	scope := persistence.NewGormExecutor(db.DB,
		persistence.WithExecutorConfig(persistence.ExecutorConfig{
			MaxRetries: cfg.Ledger.MaxRetries,
			BaseDelay:  cfg.Ledger.BaseDelay,
			MaxJitter:  cfg.Ledger.MaxJitter,
		}),
		persistence.WithExecutorLogger(log),
		persistence.WithRetryObserver(ledgerMetrics.RecordRetry),
		persistence.WithEventSerializer(eventSerializer),
	)

	// Event bus and read-side projection
	eventBus := event.NewInMemoryEventBus(log)
	sources := apprecon.NewSourceRegistry()

	if redisClient, err := cacheFactory.Client(ctx); err == nil {
		balances := projection.NewRedisProjection(redisClient, log)
		eventBus.Subscribe(
			event.NewIdempotentHandler(balances, processedEvents, log, event.WithDedupeTTL(cfg.Event.DedupeTTL)),
			balances.EventTypes()...,
		)
		sources.Register(balances)
		log.Info("Balance projection subscribed", zap.Strings("event_types", balances.EventTypes()))
	} else {
		log.Warn("Balance projection disabled, Redis unavailable", zap.Error(err))
	}

	// Object storage: partner statements in, reconciliation reports out
	var archiver apprecon.ReportArchiver
	if cfg.Storage.Enabled {
		objectStore, err := storage.NewS3Store(&cfg.Storage,
			storage.WithLogger(log),
			storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to create object storage", zap.Error(err))
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare storage bucket", zap.Error(err))
		}
		sources.Register(storage.NewPartnerStatementSource(objectStore, cfg.Storage.StatementPrefix, log))
		if cfg.Reconciliation.ArchiveReports {
			archiver = storage.NewReportArchiver(objectStore, cfg.Storage.ReportPrefix, cfg.Storage.PresignExpiration, log)
		}
		log.Info("Object storage ready", zap.String("bucket", cfg.Storage.Bucket))
	}

	// Application services
	accountService := appledger.NewAccountService(scope, log)
	balanceService := appledger.NewBalanceService(scope, snapshots, appledger.BalanceServiceConfig{
		SnapshotMaxAge: cfg.Ledger.SnapshotMaxAge,
	}, log)
	queryService := appledger.NewQueryService(scope, log)
	postingService := appledger.NewPostingService(scope, snapshots, eventBus, ledgerMetrics, log)
	orderService := apptrading.NewOrderService(scope, postingService, apptrading.Config{
		Fees:           trading.FeeSchedule{RateBps: cfg.Ledger.FeeRateBps},
		SettlementType: trading.SettlementType(cfg.Ledger.SettlementType),
	}, log)
	settlementService := apptrading.NewSettlementService(scope, postingService, ledgerMetrics, apptrading.SettlementConfig{
		BatchSize: cfg.Scheduler.BatchSize,
	}, log)
	orderService.SetSettler(settlementService)

	engineOpts := []apprecon.EngineOption{
		apprecon.WithAlerter(apprecon.NewLogAlerter(log)),
		apprecon.WithMetrics(ledgerMetrics),
	}
	if archiver != nil {
		engineOpts = append(engineOpts, apprecon.WithReportArchiver(archiver))
	}
	reconEngine := apprecon.NewEngine(scope, postingService, sources, apprecon.EngineConfig{
		AutoCorrectThreshold: cfg.Reconciliation.AutoCorrectThreshold,
		PageSize:             cfg.Reconciliation.PageSize,
		SettlementGrace:      cfg.Reconciliation.SettlementGrace,
	}, log, engineOpts...)
	auditService := appaudit.NewService(scope, log)
	outboxRepo := event.NewGormOutboxRepository(db.DB)
	outboxService := appevent.NewOutboxService(outboxRepo, log)

	log.Info("Reconciliation sources registered", zap.Strings("sources", sources.Names()))

	// Start event bus
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Outbox relay: bus delivery plus the optional Kafka feed
	var forwarders []event.Forwarder
	if cfg.Kafka.Enabled {
		kafka, err := messaging.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to connect to Kafka", zap.Error(err))
		}
		defer func() {
			if err := kafka.Close(); err != nil {
				log.Error("Error closing Kafka producer", zap.Error(err))
			}
		}()
		forwarders = append(forwarders, kafka)
	}

	if cfg.Event.ProcessorEnabled {
		outboxConfig := event.OutboxProcessorConfig{
			BatchSize:        cfg.Event.BatchSize,
			PollInterval:     cfg.Event.PollInterval,
			CleanupEnabled:   cfg.Event.CleanupEnabled,
			CleanupRetention: cfg.Event.CleanupRetention,
			CleanupInterval:  time.Hour,
		}
		outboxProcessor := event.NewOutboxProcessor(
			outboxRepo, eventBus, eventSerializer, outboxConfig, log, forwarders...,
		)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", outboxConfig.BatchSize),
			zap.Duration("poll_interval", outboxConfig.PollInterval),
			zap.Int("forwarders", len(forwarders)),
		)
	}

	// Background jobs: reconciliation windows, settlement sweeps, order expiry
	if cfg.Scheduler.Enabled {
		jobSources := cfg.Reconciliation.Sources
		if len(jobSources) == 0 {
			jobSources = sources.Names()
		}
		executor := scheduler.NewLedgerJobExecutor(reconEngine, settlementService, orderService, scheduler.ExecutorConfig{
			Sources:   jobSources,
			BatchSize: cfg.Scheduler.BatchSize,
		}, log)
		jobScheduler, err := scheduler.NewScheduler(scheduler.Config{
			MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
			QueueSize:         scheduler.DefaultConfig().QueueSize,
			JobTimeout:        cfg.Scheduler.JobTimeout,
			RetryAttempts:     cfg.Scheduler.RetryAttempts,
			RetryDelay:        cfg.Scheduler.RetryDelay,
		}, executor, log)
		if err != nil {
			log.Fatal("Invalid scheduler configuration", zap.Error(err))
		}
		if err := jobScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		defer func() {
			if err := jobScheduler.Stop(context.Background()); err != nil {
				log.Error("Error stopping scheduler", zap.Error(err))
			}
		}()

		triggerConfig := scheduler.TriggerConfig{
			SettlementInterval:  cfg.Scheduler.SettlementInterval,
			OrderExpiryInterval: cfg.Scheduler.OrderExpiryInterval,
			CheckInterval:       cfg.Reconciliation.CheckInterval,
		}
		if cfg.Reconciliation.Enabled {
			triggerConfig.BalanceInterval = cfg.Reconciliation.BalanceInterval
			triggerConfig.TradeInterval = cfg.Reconciliation.TradeInterval
		}
		trigger := scheduler.NewCronTrigger(triggerConfig, jobScheduler, cfg.Scheduler.RetryAttempts, log)
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start job trigger", zap.Error(err))
		}
		defer trigger.Stop()

		log.Info("Scheduler started",
			zap.Int("max_concurrent_jobs", cfg.Scheduler.MaxConcurrentJobs),
			zap.Duration("job_timeout", cfg.Scheduler.JobTimeout),
			zap.Strings("reconciliation_sources", jobSources),
		)
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	if err := middleware.SetupValidator(); err != nil {
		log.Fatal("Failed to register validators", zap.Error(err))
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Global middleware, outermost first
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: serviceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.HTTP.WriteTimeout > 0 {
		engine.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", handler.NewHealthHandler(db).Health)

	jwtService := auth.NewJWTService(cfg.JWT)
	jwtMiddleware := middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		Logger:     log,
	})

	if cfg.Swagger.Enabled {
		engine.GET("/swagger/*any",
			middleware.SwaggerProtection(cfg.Swagger, jwtMiddleware),
			ginSwagger.WrapHandler(swaggerFiles.Handler),
		)
	}

	// Versioned API: authentication, span enrichment, profiling labels, metrics, rate limiting
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(
		jwtMiddleware,
		middleware.TracingAttributeInjector(),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{Enabled: profiler != nil && profiler.IsEnabled()}),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: meterProvider,
			Enabled:       meterProvider.IsEnabled(),
		}),
	)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	r.Register(router.LedgerRoutes(router.LedgerHandlers{
		Accounts:        handler.NewAccountHandler(accountService, balanceService, queryService),
		Transactions:    handler.NewTransactionHandler(postingService, queryService),
		Orders:          handler.NewOrderHandler(orderService),
		Settlements:     handler.NewSettlementHandler(settlementService),
		Reconciliations: handler.NewReconciliationHandler(reconEngine),
		Audit:           handler.NewAuditHandler(auditService),
		Outbox:          handler.NewOutboxHandler(outboxService),
	})...).Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
