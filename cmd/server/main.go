package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	securityapp "github.com/lexcore/backend/internal/application/security"
	"github.com/lexcore/backend/internal/infrastructure/cache"
	"github.com/lexcore/backend/internal/infrastructure/config"
	"github.com/lexcore/backend/internal/infrastructure/event"
	"github.com/lexcore/backend/internal/infrastructure/kms"
	"github.com/lexcore/backend/internal/infrastructure/lock"
	"github.com/lexcore/backend/internal/infrastructure/logger"
	"github.com/lexcore/backend/internal/infrastructure/persistence"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting lexcore backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	ctx := context.Background()

	// OTLP log bridge: when enabled, zap records are teed to the collector
	// alongside traces and metrics
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		if err := loggerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	if loggerProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: loggerProvider,
		})
		log = telemetry.NewBridgedLogger(log.Core(), otelCore)
	}

	// Continuous profiling; span-profile correlation comes from the wrapped
	// tracer provider below
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.PyroscopeAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
		ProfileMutexCount: true,
		ProfileBlockCount: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()

	// Telemetry: tracer and meter providers export over OTLP gRPC when enabled
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)

	// Initialize database connection
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Database metrics (pool stats, query durations)
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DefaultDBMetricsConfig(), log)
	if err != nil {
		log.Warn("Failed to register database metrics", zap.Error(err))
	} else if dbMetrics != nil {
		defer dbMetrics.Stop()
	}

	// Redis client shared by the cache store, idempotency store and rotation lock
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()

	// Cache store: Redis when reachable, in-memory fallback otherwise. The
	// manager is fail-open either way, lookups degrade to loader calls.
	var cacheStore cache.Store
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, using in-memory cache store. "+
			"Peer invalidation is disabled in this mode.", zap.Error(err))
		cacheStore = cache.NewMemoryStore()
	} else {
		cacheStore = cache.NewRedisStoreWithClient(redisClient, cache.WithRedisLogger(log))
	}
	cancelPing()
	defer func() {
		if err := cacheStore.Close(); err != nil {
			log.Error("Error closing cache store", zap.Error(err))
		}
	}()

	keyBuilder := cache.NewKeyBuilder(cfg.Cache.KeyPrefix)

	// Idempotency store for exactly-once-ish invalidation handling
	idempotencyFactory := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log))
	idempotencyStore, err := idempotencyFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Invalidation coordinator: applies change events locally and fans them
	// out to peer instances over pub/sub
	coordinator := cache.NewCoordinator(cacheStore, keyBuilder, idempotencyStore,
		cache.WithCoordinatorLogger(log),
		cache.WithInvalidationChannel(cfg.Cache.PubSubChannel),
	)
	coordinator.RegisterCascade("client", "matter")
	if err := coordinator.Start(ctx); err != nil {
		log.Fatal("Failed to start invalidation coordinator", zap.Error(err))
	}
	defer func() {
		if err := coordinator.Stop(); err != nil {
			log.Error("Error stopping invalidation coordinator", zap.Error(err))
		}
	}()

	// Postgres NOTIFY listener: out-of-band writes (migrations, manual SQL)
	// still reach the coordinator through the table triggers
	changeListener := cache.NewChangeListener(cfg.Database.DSN(), coordinator,
		cache.WithListenerLogger(log),
	)
	if err := changeListener.Start(ctx); err != nil {
		log.Warn("Failed to start change listener, trigger-based invalidation disabled", zap.Error(err))
	} else {
		defer func() {
			if err := changeListener.Stop(); err != nil {
				log.Error("Error stopping change listener", zap.Error(err))
			}
		}()
	}

	// Row-level security bridge and repositories
	bridge := rls.NewBridge()

	// Event serializer, registry and transactional outbox
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)
	outboxPublisher := event.NewOutboxPublisher(eventSerializer)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	clientRepo := persistence.NewGormClientRepository(db.DB, bridge, outboxPublisher)
	keyRepo := persistence.NewGormKeyRepository(db.DB)
	progressRepo := persistence.NewGormRotationProgressRepository(db.DB)
	auditRepo := persistence.NewGormAuditRepository(db.DB)

	// Event bus with the coordinator subscribed: every committed mutation's
	// change event becomes a cache invalidation
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(coordinator)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	if cfg.Event.ProcessorEnabled {
		processorConfig := event.OutboxProcessorConfig{
			BatchSize:        cfg.Event.BatchSize,
			PollInterval:     cfg.Event.PollInterval,
			CleanupEnabled:   cfg.Event.CleanupEnabled,
			CleanupRetention: cfg.Event.CleanupRetention,
			CleanupInterval:  time.Hour,
		}
		outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, processorConfig, log)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", processorConfig.BatchSize),
			zap.Duration("poll_interval", processorConfig.PollInterval),
		)
	}

	// Key management: Vault transit in production, HKDF-derived local keys
	// for development
	var keyManager kms.KeyManager
	switch cfg.KMS.Provider {
	case "vault":
		keyManager, err = kms.NewVaultKeyManager(kms.VaultConfig{
			Address:    cfg.KMS.Address,
			Token:      cfg.KMS.Token,
			TransitKey: cfg.KMS.TransitKey,
		})
		if err != nil {
			log.Fatal("Failed to create Vault key manager", zap.Error(err))
		}
	default:
		keyManager, err = kms.NewLocalKeyManager([]byte(cfg.KMS.LocalSeed))
		if err != nil {
			log.Fatal("Failed to create local key manager", zap.Error(err))
		}
	}

	// Request-path services (application/legal) are built by the serving
	// layer that embeds this core; the daemon only runs the background
	// machinery: invalidation, outbox delivery and key rotation.
	rotationLock := lock.NewRedisRotationLock(redisClient, lock.WithLockLogger(log))
	rotationService := securityapp.NewKeyRotationService(
		keyRepo, progressRepo, auditRepo, clientRepo, keyManager, rotationLock,
		securityapp.RotationConfig{
			BatchSize:    cfg.Rotation.BatchSize,
			LockTTL:      cfg.Rotation.LockTTL,
			KeyRetention: cfg.Rotation.RetentionWindow,
		}, log)

	// Resume any rotation runs a previous instance left unfinished, then keep
	// sweeping in the background
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go func() {
		if resumed, err := rotationService.ResumeStalled(workerCtx); err != nil {
			log.Error("Rotation resume sweep failed", zap.Error(err))
		} else if resumed > 0 {
			log.Info("Resumed stalled rotation runs", zap.Int("count", resumed))
		}

		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := rotationService.ResumeStalled(workerCtx); err != nil {
					log.Error("Rotation resume sweep failed", zap.Error(err))
				}
			}
		}
	}()

	// Business metrics with periodic gauge collection
	businessMetrics, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:            meterProvider.Meter("lexcore/practice"),
		Logger:           log,
		PracticeProvider: telemetry.NewGormPracticeMetricsProvider(db.DB),
	})
	if err != nil {
		log.Fatal("Failed to create business metrics", zap.Error(err))
	}
	businessMetrics.StartPeriodicCollection(ctx, &keyTenantProvider{keys: db.DB}, 5*time.Minute)
	defer businessMetrics.Stop()

	log.Info("All components started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")
}

// keyTenantProvider enumerates tenants for periodic metrics collection.
// Every provisioned tenant has at least one encryption key, so the keys
// table doubles as the tenant roster.
type keyTenantProvider struct {
	keys *gorm.DB
}

func (p *keyTenantProvider) GetActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var tenantIDs []uuid.UUID
	err := p.keys.WithContext(ctx).
		Table("encryption_keys").
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIDs).Error
	return tenantIDs, err
}
