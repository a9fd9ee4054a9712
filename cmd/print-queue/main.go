// Точка входа Print Queue — сервис общей очереди печати.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт хранилище файлов заданий и consumer-токен, собирает сервисный
// слой и API handlers, запускает фоновые задачи (sweep, topologymetrics)
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/VT-CRO/Workcell-Queue/internal/api/handlers"
	"github.com/VT-CRO/Workcell-Queue/internal/api/middleware"
	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/database"
	"github.com/VT-CRO/Workcell-Queue/internal/repository"
	"github.com/VT-CRO/Workcell-Queue/internal/server"
	"github.com/VT-CRO/Workcell-Queue/internal/service"
	"github.com/VT-CRO/Workcell-Queue/internal/storage/statefile"
	"github.com/VT-CRO/Workcell-Queue/internal/storage/uploadstore"
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
	logger.Info("Print Queue запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("machine", cfg.MachineName),
		slog.String("config_version", cfg.ConfigVersion),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("PQ_DEPHEALTH_GROUP") == "" {
		logger.Warn("PQ_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
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

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище backing-файлов и рабочие директории персонализации
	store, err := uploadstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища файлов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Error("Ошибка создания директории",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// 6. Consumer-токен: генерируется при первом старте, далее стабилен
	consumerToken, err := statefile.LoadOrCreateToken(cfg.ConsumerTokenFile)
	if err != nil {
		logger.Error("Ошибка загрузки consumer-токена",
			slog.String("path", cfg.ConsumerTokenFile),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Consumer-токен загружен", slog.String("path", cfg.ConsumerTokenFile))

	// 7. Repositories
	queueRepo := repository.NewQueueRepository()
	profileRepo := repository.NewProfileRepository()

	// 8. Services
	queueSvc := service.NewQueueService(cfg, pool, queueRepo, profileRepo, store, logger)
	profileSvc := service.NewProfileService(pool, profileRepo, logger)
	personalizeSvc := service.NewPersonalizeService(cfg, pool, profileRepo, logger)
	sweepSvc := service.NewSweepService(cfg, pool, queueRepo, store, logger)

	// 9. Мониторинг зависимостей (topologymetrics)
	dephealthSvc, err := service.NewDephealthService(
		"print-queue",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания dephealth-сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. JWT middleware (JWKS Identity Provider)
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthOptions{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		Issuer:          cfg.JWTIssuer,
		AdminGroups:     cfg.AdminGroups,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. API handlers
	h := server.Handlers{
		Health:   handlers.NewHealthHandler(cfg.DataDir, database.NewReadinessChecker(pool)),
		Queue:    handlers.NewQueueHandler(cfg, queueSvc, profileSvc, logger),
		Profile:  handlers.NewProfileHandler(cfg, profileSvc, logger),
		Device:   handlers.NewDeviceHandler(cfg, queueSvc, profileSvc, personalizeSvc, logger),
		Consumer: handlers.NewConsumerHandler(queueSvc, consumerToken, logger),
	}

	// 12. Фоновые задачи
	sweepSvc.Start(ctx)
	defer sweepSvc.Stop()

	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dephealthSvc.Stop()

	// 13. HTTP-сервер (блокируется до сигнала завершения)
	srv := server.New(cfg, logger, h, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Print Queue остановлен")
}
