// Package main - точка входа движка уведомлений.
//
// Один процесс обслуживает весь конвейер:
//   - принимает события-триггеры (task.triggered, goal.milestone_reached,
//     system.alert) из шины и по HTTP;
//   - создаёт уведомления с учётом настроек пользователя;
//   - доставляет их в каналы (websocket, SSE, email, SMS) с повторами;
//   - отдаёт входящие уведомления и настройки по HTTP API;
//   - по расписанию отправляет отложенные, истекает и чистит старые уведомления.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/config"
	"github.com/alem-hub/notification-engine/internal/application/command"
	"github.com/alem-hub/notification-engine/internal/application/eventhandler"
	"github.com/alem-hub/notification-engine/internal/application/query"
	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/channel"
	"github.com/alem-hub/notification-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/notification-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/notification-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/notification-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/alem-hub/notification-engine/internal/interface/http"
	"github.com/alem-hub/notification-engine/internal/interface/http/handlers"
	"github.com/alem-hub/notification-engine/pkg/circuitbreaker"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/ratelimit"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// version проставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus - общая часть in-memory и Redis шины.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// closer выполняет шаг остановки; шаги выполняются в обратном порядке.
type closer func(ctx context.Context)

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	opts := logger.DefaultOptions()
	opts.Level = cfg.Observability.LogLevel
	opts.Format = cfg.Observability.LogFormat
	log := logger.New(opts).With(
		zap.String("app", cfg.App.Name),
		zap.String("instance", cfg.App.InstanceID),
	)
	defer func() { _ = log.Sync() }()

	log.Info("starting notification engine",
		zap.String("env", string(cfg.App.Environment)),
		zap.String("version", cfg.App.Version),
		zap.String("timezone", cfg.Location().String()),
	)

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](shutdownCtx)
		}
		log.Info("shutdown completed")
	}()

	clock := timeutil.SystemClock{}
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deliveryMetrics := metrics.NewDeliveryMetrics(registry)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ (PostgreSQL или in-memory для разработки)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		notifications notification.NotificationRepository
		preferences   notification.PreferenceRepository
		recipients    notification.RecipientResolver
	)
	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, postgres.Config{
			URL:               cfg.Database.URL,
			MaxConns:          cfg.Database.MaxConns,
			MinConns:          cfg.Database.MinConns,
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, func(context.Context) {
			log.Info("closing database connection...")
			conn.Close()
		})

		if cfg.Database.Migrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		notifications = postgres.NewNotificationRepository(conn)
		preferences = postgres.NewPreferenceRepository(conn, clock)
		recipients = postgres.NewRecipientRepository(conn)
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
	} else {
		log.Warn("database.url is empty, using in-memory repositories")
		notifications = memory.NewNotificationRepository()
		preferences = memory.NewPreferenceRepository(clock)
		recipients = memory.NewRecipientDirectory()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (кеш настроек, счётчики лимитов, блокировки задач)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisClient *goredis.Client
		counter     *redis.DeliveryCounter
		locker      scheduler.Locker
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisClient, err = redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func(context.Context) {
			log.Info("closing redis connection...")
			_ = redisClient.Close()
		})

		cache := redis.NewCache(redisClient)
		counter = redis.NewDeliveryCounter(redisClient)
		locker = cache
		preferences = redis.NewPreferenceCache(preferences, cache, cfg.Preferences.CacheTTL, log)
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	} else {
		log.Warn("redis disabled: no preference cache, rate-limit counter or job locks")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	if cfg.Triggers.BusWorkers > 0 {
		busConfig.WorkerPoolSize = cfg.Triggers.BusWorkers
	}

	var bus eventBus
	if redisClient != nil && cfg.Features.IsEnabled(config.FeatureEventsRedisBus, "") {
		bus, err = messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         redisClient,
			ChannelName:    cfg.Redis.EventChannel,
			InstanceID:     cfg.App.InstanceID,
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig)
	}
	closers = append(closers, func(context.Context) {
		log.Info("closing event bus...")
		_ = bus.Close()
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. КАНАЛЫ ДОСТАВКИ
	// ─────────────────────────────────────────────────────────────────────────
	hub := channel.NewHub(log)
	sse := channel.NewSSEBroker(log)
	sse.SetKeepAlive(cfg.HTTP.SSEKeepAlive)

	senders, err := buildSenders(ctx, cfg, hub, sse, clock, deliveryMetrics, log)
	if err != nil {
		return err
	}
	log.Info("delivery channels ready", zap.Strings("channels", channelNames(senders.Channels())))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. DEAD LETTERS
	// ─────────────────────────────────────────────────────────────────────────
	deadLetters, closeSinks, err := buildDeadLetterSink(cfg, redisClient, log)
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) { closeSinks() })

	// ─────────────────────────────────────────────────────────────────────────
	// 9. DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	dispatcherDeps := messaging.DispatcherDeps{
		Repository: notifications,
		Senders:    senders,
		Recipients: recipients,
		DeadLetter: deadLetters,
		Publisher:  bus,
		Metrics:    deliveryMetrics,
		Logger:     log,
		Clock:      clock,
	}
	if counter != nil {
		dispatcherDeps.Counter = counter
	}
	dispatcher := messaging.NewDeliveryDispatcher(messaging.DispatcherConfig{
		MaxRetries:           cfg.Dispatcher.MaxRetries,
		RetryDelayBase:       cfg.Dispatcher.RetryDelayBase,
		MaxRetryDelay:        cfg.Dispatcher.MaxRetryDelay,
		ChannelTimeout:       cfg.Dispatcher.ChannelTimeout,
		FailWhenAllExhausted: cfg.Dispatcher.FailWhenAllExhausted,
		WorkerPoolSize:       cfg.Dispatcher.WorkerPoolSize,
	}, dispatcherDeps)
	closers = append(closers, func(context.Context) {
		log.Info("waiting for in-flight deliveries...")
		dispatcher.Stop()
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. COMMANDS, QUERIES, TRIGGERS
	// ─────────────────────────────────────────────────────────────────────────
	createDeps := command.CreateAndSendDeps{
		Notifications: notifications,
		Preferences:   preferences,
		Dispatcher:    dispatcher,
		Gate:          cfg.Features,
		Publisher:     bus,
		Clock:         clock,
		Logger:        log,
	}
	if counter != nil {
		createDeps.Counter = counter
	}
	createAndSend := command.NewCreateAndSendNotificationHandler(createDeps)

	triggers := eventhandler.NewOnTriggerHandler(createAndSend, clock, log, eventhandler.TriggerConfig{
		ReminderTTL:    cfg.Triggers.ReminderTTL,
		MilestoneTTL:   cfg.Triggers.MilestoneTTL,
		HandlerTimeout: cfg.Triggers.HandlerTimeout,
	})
	if err := triggers.Register(bus); err != nil {
		return fmt.Errorf("failed to subscribe trigger handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched, err := buildScheduler(cfg, notifications, dispatcher, bus, locker, clock, deliveryMetrics, log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		closers = append(closers, func(context.Context) {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpserver.DefaultConfig()
	serverConfig.Addr = cfg.HTTP.Addr
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins

	deps := httpserver.Dependencies{
		ListNotifications: query.NewListNotificationsHandler(notifications),
		GetUnreadCount:    query.NewGetUnreadCountHandler(notifications),
		GetPreferences:    query.NewGetPreferencesHandler(preferences),
		MarkRead:          command.NewMarkNotificationReadHandler(notifications, bus, clock, log),
		Dismiss:           command.NewDismissNotificationHandler(notifications, bus, clock, log),
		UpdatePreferences: command.NewUpdatePreferencesHandler(preferences, clock, log),
		Triggers:          bus,
		Hub:               hub,
		SSE:               sse,
		HealthChecker:     health,
		Logger:            log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}
	server := httpserver.NewServer(serverConfig, deps)
	serverErr := server.StartAsync()

	// Стримы закрываем до Shutdown, иначе он ждёт их до таймаута.
	closers = append(closers, func(ctx context.Context) {
		hub.CloseAll()
		sse.CloseAll()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http server shutdown", zap.Error(err))
		}
	})

	log.Info("notification engine is running", zap.String("addr", cfg.HTTP.Addr))

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal", zap.Duration("timeout", cfg.App.ShutdownTimeout))
		return nil
	case err, ok := <-serverErr:
		if ok && err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// buildSenders регистрирует отправщики всех каналов, включённых флагами.
// Каждый отправщик обёрнут в circuit breaker.
func buildSenders(
	ctx context.Context,
	cfg *config.Config,
	hub *channel.Hub,
	sse *channel.SSEBroker,
	clock timeutil.Clock,
	m *metrics.DeliveryMetrics,
	log *zap.Logger,
) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	enabled := func(feature string) bool { return cfg.Features.IsEnabled(feature, "") }

	if enabled(config.FeatureChannelInApp) {
		registry.Register(channel.WithBreaker(channel.NewInAppSender(hub, clock), m, log))
	}
	if enabled(config.FeatureChannelDesktop) {
		registry.Register(channel.WithBreaker(channel.NewDesktopSender(hub, clock), m, log))
	}
	if enabled(config.FeatureChannelSystem) {
		registry.Register(channel.WithBreaker(channel.NewSystemSender(hub, clock), m, log))
	}
	if enabled(config.FeatureChannelSSE) {
		registry.Register(channel.WithBreaker(channel.NewSSESender(sse, clock), m, log))
	}

	overrides := breakerOverrides(cfg.Dispatcher.Breaker)
	if enabled(config.FeatureChannelEmail) {
		client, err := channel.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES client: %w", err)
		}
		sender := channel.NewEmailSender(client, channel.EmailConfig{
			FromAddress:      cfg.AWS.SESFromAddress,
			ConfigurationSet: cfg.AWS.SESConfigurationSet,
		}, clock, log)
		registry.Register(channel.WithBreaker(throttled(sender, cfg.AWS.SESMaxSendRate), m, log, overrides...))
	}
	if enabled(config.FeatureChannelSMS) {
		client, err := channel.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS client: %w", err)
		}
		sender := channel.NewSMSSender(client, channel.SMSConfig{SenderID: cfg.AWS.SNSSenderID}, clock, log)
		registry.Register(channel.WithBreaker(throttled(sender, cfg.AWS.SNSMaxSendRate), m, log, overrides...))
	}
	return registry, nil
}

// throttled ограничивает частоту вызовов провайдера его квотой.
func throttled(sender notification.ChannelSender, perSecond float64) notification.ChannelSender {
	if perSecond <= 0 {
		return sender
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return channel.WithThrottle(sender, ratelimit.New(ratelimit.Config{
		RatePerSecond: perSecond,
		Burst:         burst,
		WaitTimeout:   ratelimit.DefaultConfig().WaitTimeout,
	}))
}

// breakerOverrides переносит настройки провайдерского breaker из конфига.
func breakerOverrides(cfg config.BreakerConfig) []circuitbreaker.Option {
	var opts []circuitbreaker.Option
	if cfg.FailureThreshold > 0 {
		opts = append(opts, circuitbreaker.WithFailureThreshold(cfg.FailureThreshold))
	}
	if cfg.SuccessThreshold > 0 {
		opts = append(opts, circuitbreaker.WithSuccessThreshold(cfg.SuccessThreshold))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, circuitbreaker.WithTimeout(cfg.Timeout))
	}
	return opts
}

// buildDeadLetterSink собирает хранилища dead letters. In-memory очередь есть
// всегда; Redis и Kafka подключаются флагами.
func buildDeadLetterSink(cfg *config.Config, client *goredis.Client, log *zap.Logger) (notification.DeadLetterSink, func(), error) {
	sinks := []notification.DeadLetterSink{messaging.NewDeadLetterQueue(cfg.Dispatcher.DeadLetterQueueSize)}
	closeFn := func() {}

	if client != nil && cfg.Features.IsEnabled(config.FeatureDeadLetterRedis, "") {
		sinks = append(sinks, messaging.NewRedisDeadLetterSink(client, cfg.Redis.DeadLetterKey, cfg.Redis.DeadLetterMaxLen))
	}
	if cfg.Features.IsEnabled(config.FeatureDeadLetterKafka, "") {
		kafka, err := messaging.NewKafkaDeadLetterSink(messaging.KafkaSinkConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.DeadLetterTopic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka dead-letter producer: %w", err)
		}
		sinks = append(sinks, kafka)
		closeFn = func() {
			if err := kafka.Close(); err != nil {
				log.Warn("kafka producer close", zap.Error(err))
			}
		}
	}
	return messaging.NewMultiSink(log, sinks...), closeFn, nil
}

// buildScheduler регистрирует фоновые задачи движка.
func buildScheduler(
	cfg *config.Config,
	repo notification.NotificationRepository,
	dispatcher jobs.Dispatcher,
	publisher shared.EventPublisher,
	locker scheduler.Locker,
	clock timeutil.Clock,
	m *metrics.DeliveryMetrics,
	log *zap.Logger,
) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.Location()
	schedCfg.Locker = locker
	schedCfg.Recorder = m
	if cfg.Scheduler.TickInterval > 0 {
		schedCfg.TickInterval = cfg.Scheduler.TickInterval
	}
	if cfg.Scheduler.LockTTL > 0 {
		schedCfg.LockTTL = cfg.Scheduler.LockTTL
	}
	sched := scheduler.NewScheduler(schedCfg)

	dispatchPending := jobs.NewDispatchPendingJob(repo, dispatcher, clock, log, jobs.DispatchPendingConfig{
		BatchSize: cfg.Scheduler.DispatchPendingBatch,
		MinAge:    cfg.Scheduler.DispatchPendingMinAge,
	})
	if err := sched.Register(dispatchPending, scheduler.NewIntervalSchedule(cfg.Scheduler.DispatchPendingInterval)); err != nil {
		return nil, err
	}

	expire := jobs.NewExpireNotificationsJob(repo, publisher, clock, log, 0)
	if err := sched.Register(expire, scheduler.NewIntervalSchedule(cfg.Scheduler.ExpireInterval)); err != nil {
		return nil, err
	}

	purgeSchedule, err := scheduler.ParseCronExpression(cfg.Scheduler.PurgeCron)
	if err != nil {
		return nil, fmt.Errorf("scheduler.purge_cron: %w", err)
	}
	purge := jobs.NewPurgeNotificationsJob(repo, clock, log, cfg.Scheduler.RetentionDays)
	if err := sched.Register(purge, purgeSchedule); err != nil {
		return nil, err
	}

	return sched, nil
}

func channelNames(channels []notification.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.String()
	}
	return out
}
