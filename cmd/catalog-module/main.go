// Точка входа Catalog Module — модуль каталога моделей Modelhub.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// собирает двухуровневый кэш (Redis + локальный LRU), warmer и движок
// инкрементальной синхронизации, запускает фоновые задачи (периодическая
// синхронизация, sweep кэша, topologymetrics), HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/api/handlers"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/api/middleware"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/config"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/database"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/fingerprint"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/provider"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/repository"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/server"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Catalog Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Распределённый кэш (Redis).
	// Недоступность Redis не фатальна: сервис деградирует на локальный уровень.
	redisStore := cache.NewRedisStore(
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		cfg.RedisOpTimeout, cfg.RedisKeyPrefix,
		logger,
	)
	defer redisStore.Close()

	// 6. Локальный fallback-кэш с периодическим sweep-ом
	localStore, err := cache.NewLocalStore[[]byte](cfg.CacheLocalMaxSize, logger)
	if err != nil {
		logger.Error("Ошибка создания локального кэша", slog.String("error", err.Error()))
		os.Exit(1)
	}
	localStore.StartSweeper(ctx, cfg.CacheSweepInterval)
	defer localStore.StopSweeper()

	// 7. Двухуровневый кэш
	tieredCache := cache.NewTieredCache(
		redisStore, localStore,
		cfg.CacheFreshTTL, cfg.CacheStaleTTL,
		logger,
	)

	// 8. Repositories
	catalogRepo := repository.NewCatalogRepository(pool)
	syncRunRepo := repository.NewSyncRunRepository(pool)

	// 9. Change Detector с дополнительными исключениями из конфигурации
	detector := fingerprint.NewDetector(cfg.FingerprintExclude)

	// 10. Координатор rebuild-ов и warmer
	coordinator := service.NewRebuildCoordinator()
	warmer := service.NewCacheWarmer(
		coordinator,
		cfg.WarmWorkers, cfg.WarmQueueDepth,
		cfg.WarmMinInterval, cfg.WarmTimeout,
		logger,
	)
	warmer.Start(ctx)
	defer warmer.Stop()

	// 11. Fetch-клиенты upstream-провайдеров
	fetchers := make(map[string]service.SourceFetcher, len(cfg.Sources))
	for _, src := range cfg.Sources {
		fetchers[src.Slug] = provider.NewHTTPFetcher(
			src.Slug, src.URL, src.Token,
			cfg.SyncFetchTimeout,
			logger,
		)
	}
	if len(fetchers) == 0 {
		logger.Warn("CM_SOURCES не задана: синхронизация неактивна, каталог обслуживается из БД")
	}

	// 12. Движок инкрементальной синхронизации
	syncEngine := service.NewSyncEngine(
		fetchers,
		catalogRepo, syncRunRepo,
		detector,
		tieredCache, coordinator,
		cfg.SyncFetchTimeout,
		logger,
	)

	// 13. Сервис чтения каталога
	catalogSvc := service.NewCatalogService(
		catalogRepo,
		tieredCache, warmer, coordinator,
		cfg.CacheFreshTTL, cfg.CacheStaleTTL,
		logger,
	)

	// 14. Оркестратор с периодическим тикером
	orchestrator := service.NewSyncOrchestrator(
		syncEngine,
		tieredCache, catalogSvc,
		cfg.SyncInterval, cfg.SyncParallelism,
		logger,
	)
	if len(fetchers) > 0 {
		orchestrator.Start(ctx)
		defer orchestrator.Stop()

		// Начальная синхронизация в фоне: HTTP-сервер не ждёт upstream API,
		// каталог обслуживается из БД до завершения первого batch-а
		go func() {
			logger.Info("Начальная синхронизация источников...")
			result := orchestrator.RunBatch(ctx, nil, false)
			logger.Info("Начальная синхронизация завершена",
				slog.Int("fetched", result.TotalFetched),
				slog.Int("written", result.TotalWritten),
				slog.Int("failed", result.Failed),
			)
		}()
	}

	// 15. Прогрев агрегатных коллекций при старте
	catalogSvc.WarmAggregates(ctx)

	// 16. Readiness checkers (PostgreSQL — fail, Redis — degraded)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, redisStore)

	// 17. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		catalogSvc,
		syncEngine,
		orchestrator,
		warmer,
		tieredCache,
		syncRunRepo,
		logger,
	)

	// 18. topologymetrics — мониторинг зависимостей (PostgreSQL)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"catalog-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseDSN(),
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 19. HTTP-сервер с middleware (метрики, логирование запросов)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 20. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Catalog Module остановлен")
}
