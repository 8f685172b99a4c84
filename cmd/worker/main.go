// Package main - точка входа ranking worker.
//
// Worker отвечает за:
// - Ночной пересчёт рейтингов райдеров и клубов по всем дисциплинам
// - Ежемесячное заполнение истории снапшотов
// - REST API для чтения рейтингов и административных действий
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gravityseries/ranking-hub/config"
	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/application/query"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/postgres"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/redis"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/scheduler"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/scheduler/jobs"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/service"
	httpapi "github.com/gravityseries/ranking-hub/internal/interface/http"
	"github.com/gravityseries/ranking-hub/internal/interface/http/handlers"
	"github.com/gravityseries/ranking-hub/pkg/circuitbreaker"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ И ЧАСОВОЙ ПОЯС
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    logger.ParseFormat(cfg.Observability.LogFormat),
		Output:    os.Stdout,
		AddSource: cfg.IsDevelopment(),
		Service:   cfg.App.Name,
	})

	if err := timeutil.SetLocation(cfg.App.Timezone); err != nil {
		return err
	}

	log.Info("starting ranking worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"disciplines", cfg.Ranking.Disciplines,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ТРАССИРОВКА И МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:  cfg.App.Name,
		Enabled:      cfg.Observability.TracingEnabled,
		Environment:  string(cfg.App.Environment),
		OTLPEndpoint: cfg.Observability.TracingEndpoint,
		SamplingRate: cfg.Observability.TracingSampleRate,
		InsecureMode: cfg.Observability.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics()
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	poolOpts := postgres.DefaultPoolOptions()
	poolOpts.MaxConns = int32(cfg.Database.MaxConns)
	poolOpts.MinConns = int32(cfg.Database.MinConns)
	poolOpts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolOpts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, poolOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.MigrateOnStart {
		log.Info("checking database migrations...")
		applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. РЕПОЗИТОРИИ
	// ─────────────────────────────────────────────────────────────────────────
	resultRepo := postgres.NewResultRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)
	calculationRepo := postgres.NewCalculationRepository(dbConn)
	settingsRepo := postgres.NewSettingsRepository(dbConn)

	names, err := service.NewCachedNameDirectory(postgres.NewDirectoryRepository(dbConn), cfg.Ranking.NameCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create name cache: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REDIS (опционально): блокировки и кеш страниц
	// ─────────────────────────────────────────────────────────────────────────
	var (
		locker    ranking.Locker = command.NewLocalLocker()
		pageCache ranking.PageCache
		redisPing handlers.Pinger
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisCache.Close()

		locker = redis.NewLocker(redisCache, cfg.Ranking.LockTTL, log)
		if cfg.Features.IsEnabled(config.FeaturePageCache) {
			breaker := circuitbreaker.New("ranking_page_cache",
				circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
					log.Warn("circuit breaker state changed",
						"breaker", name, "from", from.String(), "to", to.String())
				}),
			)
			pageCache = redis.NewRankingCache(redisCache, cfg.Ranking.PageCacheTTL, redis.WithBreaker(breaker))
		}
		redisPing = redisCache
		log.Info("Redis connection established")
	} else {
		log.Warn("Redis disabled, using in-process locks without page cache")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДВИЖОК И ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	settings := service.NewSettingsStore(settingsRepo, log, m)

	engineOpts := []command.EngineOption{command.WithLogger(log), command.WithMetrics(m)}
	if pageCache != nil {
		engineOpts = append(engineOpts, command.WithPageCache(pageCache))
	}
	engine := command.NewEngine(resultRepo, snapshotRepo, settings, engineOpts...)

	backfillHandler := command.NewBackfillHistoryHandler(engine, resultRepo, snapshotRepo, locker, m, log,
		command.BackfillHistoryConfig{Months: cfg.Ranking.BackfillMonths})

	var runBackfill *command.BackfillHistoryHandler
	if cfg.Ranking.BackfillAfterRecalculation {
		runBackfill = backfillHandler
	}
	recalcHandler := command.NewRecalculateRankingsHandler(engine, runBackfill, calculationRepo, locker, m, log,
		command.RecalculateRankingsConfig{
			Disciplines: cfg.Ranking.Disciplines,
			Concurrency: cfg.Ranking.Concurrency,
		})

	settingsHandler := command.NewUpdateSettingsHandler(settings, log)

	rankingHandler := query.NewGetRankingHandler(snapshotRepo, engine, locker, pageCache, names, m, log)
	lastCalcHandler := query.NewGetLastCalculationHandler(calculationRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = setupScheduler(cfg, recalcHandler, backfillHandler, m, log)
		if err != nil {
			return fmt.Errorf("failed to set up scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started", "jobs", len(sched.ListJobs()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var server *httpapi.Server
	var serverErr <-chan error

	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("database", handlers.NewPingCheck(dbConn))
		if redisPing != nil {
			health.AddCheck("redis", handlers.NewPingCheck(redisPing))
		}
		health.AddInformationalCheck("last_calculation", handlers.NewCalculationAgeCheck(
			lastCalculationTime(calculationRepo), cfg.Ranking.MaxCalculationAge, time.Now))

		deps := httpapi.Dependencies{
			Rankings:        rankingHandler,
			LastCalculation: lastCalcHandler,
			Recalculator:    recalcHandler,
			Backfiller:      backfillHandler,
			SettingsUpdater: settingsHandler,
			SettingsReader:  settings,
			HealthChecker:   health,
			Logger:          log,
		}
		if cfg.Features.IsEnabled(config.FeatureHistoryAPI) {
			deps.History = query.NewGetHistoryHandler(snapshotRepo, names, log)
		}
		if cfg.Features.IsEnabled(config.FeatureBreakdownAPI) {
			deps.Breakdown = query.NewGetBreakdownHandler(engine)
		}
		if cfg.Observability.MetricsEnabled {
			deps.Gatherer = registry
		}

		httpCfg := httpapi.DefaultConfig()
		httpCfg.Host = cfg.HTTP.Host
		httpCfg.Port = cfg.HTTP.Port
		httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
		httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
		httpCfg.AdminAPIKeys = cfg.HTTP.AdminAPIKeys
		httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled
		httpCfg.ServiceName = cfg.App.Name
		httpCfg.Version = cfg.App.Version

		server = httpapi.NewServer(httpCfg, deps)
		serverErr = server.StartAsync()
		log.Info("HTTP API listening", "address", server.Address())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("ranking worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", logger.Err(err))
			runErr = err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown incomplete", logger.Err(err))
		}
	}
	if sched != nil {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupScheduler регистрирует задачи пересчёта и заполнения истории.
func setupScheduler(
	cfg *config.Config,
	recalc *command.RecalculateRankingsHandler,
	backfill *command.BackfillHistoryHandler,
	m *metrics.Metrics,
	log *slog.Logger,
) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Logger = log
	schedCfg.Metrics = m
	schedCfg.Timezone = cfg.App.Location
	schedCfg.TickInterval = cfg.Scheduler.TickInterval
	sched := scheduler.New(schedCfg)

	recalcSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.RecalculationSchedule)
	if err != nil {
		return nil, err
	}
	var recalcOpts []scheduler.RegisterOption
	if cfg.Scheduler.RecalculateOnStart {
		recalcOpts = append(recalcOpts, scheduler.RunOnStart())
	}
	recalcJob := jobs.NewRecalculateRankingsJob(recalc, log, jobs.RecalculateRankingsConfig{
		Disciplines: cfg.Ranking.Disciplines,
		Backfill:    cfg.Ranking.BackfillAfterRecalculation,
		Timeout:     cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(recalcJob, recalcSchedule, recalcOpts...); err != nil {
		return nil, err
	}

	if cfg.Scheduler.BackfillSchedule == "" || !cfg.Features.IsEnabled(config.FeatureBackfillJob) {
		return sched, nil
	}

	backfillSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.BackfillSchedule)
	if err != nil {
		return nil, err
	}
	var backfillOpts []scheduler.RegisterOption
	if cfg.Scheduler.BackfillOnStart {
		backfillOpts = append(backfillOpts, scheduler.RunOnStart())
	}
	backfillJob := jobs.NewBackfillHistoryJob(backfill, log, jobs.BackfillHistoryConfig{
		Disciplines: cfg.Ranking.Disciplines,
		Months:      cfg.Ranking.BackfillMonths,
		Timeout:     cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(backfillJob, backfillSchedule, backfillOpts...); err != nil {
		return nil, err
	}
	return sched, nil
}

// lastCalculationTime адаптирует репозиторий к проверке возраста рейтинга.
func lastCalculationTime(repo ranking.CalculationRepository) func(ctx context.Context) (time.Time, bool, error) {
	return func(ctx context.Context) (time.Time, bool, error) {
		record, err := repo.GetLastCalculation(ctx)
		if errors.Is(err, ranking.ErrNoCalculation) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, err
		}
		return record.CalculatedAt, true, nil
	}
}
