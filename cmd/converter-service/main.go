// Точка входа сервиса конвертации SVG → PDF.
// Загружает конфигурацию, открывает хранилище записей (PostgreSQL или SQLite),
// применяет миграции, собирает конвейер приёма и конвертации, сервисы чтения
// и объединения PDF, запускает sweeper зависших конвертаций, topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/svgconv/internal/api/handlers"
	"github.com/bigkaa/svgconv/internal/api/middleware"
	"github.com/bigkaa/svgconv/internal/config"
	"github.com/bigkaa/svgconv/internal/converter"
	"github.com/bigkaa/svgconv/internal/database"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/repository/sqlitestore"
	"github.com/bigkaa/svgconv/internal/server"
	"github.com/bigkaa/svgconv/internal/service"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
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
	logger.Info("Сервис конвертации запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.DBDriver),
	)

	ctx := context.Background()

	// 3. Хранилище записей: миграции, подключение, репозитории
	var (
		files      repository.FileRepository
		merged     repository.MergedFileRepository
		dbChecker  handlers.ReadinessChecker
		pgDB       *sql.DB
		dephealths *service.DephealthService
	)

	switch cfg.DBDriver {
	case config.DriverSQLite:
		if err := database.MigrateSQLite(cfg.SQLitePath, logger); err != nil {
			logger.Error("Ошибка миграций SQLite", slog.String("error", err.Error()))
			os.Exit(1)
		}
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("Ошибка открытия SQLite", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		files = sqlitestore.NewFileRepository(db)
		merged = sqlitestore.NewMergedFileRepository(db)
		dbChecker = database.NewSQLiteReadinessChecker(db)

	default:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		files = repository.NewFileRepository(pool)
		merged = repository.NewMergedFileRepository(pool)
		dbChecker = database.NewReadinessChecker(pool)
	}

	// 4. Каталог артефактов
	store, err := filestore.New(cfg.DataDir, placement.Dirs...)
	if err != nil {
		logger.Error("Ошибка инициализации каталога данных",
			slog.String("data_dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 5. Конвертер — внешняя команда (по умолчанию rsvg-convert)
	conv := converter.NewCommandConverter(converter.CommandConfig{
		Command:   cfg.ConverterCommand,
		Args:      cfg.ConverterArgs,
		MaxOutput: cfg.ConverterMaxOutput,
		Sanitize:  cfg.SanitizeSVG,
	}, logger)
	logger.Info("Конвертер настроен",
		slog.String("command", cfg.ConverterCommand),
		slog.Any("args", cfg.ConverterArgs),
		slog.Bool("sanitize", cfg.SanitizeSVG),
	)

	// 6. Сервисы
	ingestSvc := service.NewIngestService(files, store, conv, service.IngestConfig{
		MaxFileSize:       cfg.MaxFileSize,
		ConversionTimeout: cfg.ConversionTimeout,
		Workers:           cfg.ConversionWorkers,
	}, logger)
	cacheSvc := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	querySvc := service.NewQueryService(files, store, cacheSvc, cfg.MaxPerPage, logger)
	mergeSvc := service.NewMergeService(files, merged, store, cfg.MaxPerPage, logger)

	// 7. Фоновые задачи: sweeper зависших конвертаций
	sweeperSvc := service.NewSweeperService(files, cfg.SweeperInterval, cfg.SweeperGrace, logger)
	sweeperSvc.Start(ctx)

	// 7.1 topologymetrics — только для PostgreSQL
	if pgDB != nil {
		dephealths, err = service.NewDephealthService(
			"svg-converter",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseURL("postgres"),
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealths = nil
		} else if startErr := dephealths.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealths = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 8. Handlers
	healthHandler := handlers.NewHealthHandler(dbChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, ingestSvc, querySvc, mergeSvc, cfg.MaxFileSize, logger)

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// 10. Остановка фоновых задач: сначала конвейер (дожидается текущих
	// конвертаций, очередь переводится в failed), затем остальные
	logger.Info("Останавливаем фоновые задачи...")
	ingestSvc.Stop()
	sweeperSvc.Stop()
	if dephealths != nil {
		dephealths.Stop()
	}

	logger.Info("Сервис конвертации остановлен")
}
