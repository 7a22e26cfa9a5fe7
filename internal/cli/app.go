package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/svgconv/internal/config"
	"github.com/bigkaa/svgconv/internal/converter"
	"github.com/bigkaa/svgconv/internal/database"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/repository/sqlitestore"
	"github.com/bigkaa/svgconv/internal/service"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
)

// app — сервисный слой, собранный из конфигурации CV_*.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	files  repository.FileRepository
	merged repository.MergedFileRepository
	store  *filestore.FileStore

	closers []func()
}

// openApp загружает конфигурацию, применяет миграции и открывает хранилища.
// Логи пишутся в stderr: в stdout идёт только результат команды.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "ошибка загрузки конфигурации", err)
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = cfg.LogLevel
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a := &app{cfg: cfg, logger: logger}

	switch cfg.DBDriver {
	case config.DriverSQLite:
		if err := database.MigrateSQLite(cfg.SQLitePath, logger); err != nil {
			return nil, WrapExitError(ExitCommandError, "ошибка миграций SQLite", err)
		}
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "ошибка открытия SQLite", err)
		}
		a.closers = append(a.closers, func() { db.Close() })
		a.files = sqlitestore.NewFileRepository(db)
		a.merged = sqlitestore.NewMergedFileRepository(db)
	default:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, WrapExitError(ExitCommandError, "ошибка миграций PostgreSQL", err)
		}
		var pool *pgxpool.Pool
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "ошибка подключения к PostgreSQL", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.files = repository.NewFileRepository(pool)
		a.merged = repository.NewMergedFileRepository(pool)
	}

	a.store, err = filestore.New(cfg.DataDir, placement.Dirs...)
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "ошибка инициализации каталога данных", err)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// ingestService создаёт конвейер приёма. conv == nil — внешняя команда из конфигурации.
func (a *app) ingestService(conv converter.Converter) *service.IngestService {
	if conv == nil {
		conv = converter.NewCommandConverter(converter.CommandConfig{
			Command:   a.cfg.ConverterCommand,
			Args:      a.cfg.ConverterArgs,
			MaxOutput: a.cfg.ConverterMaxOutput,
			Sanitize:  a.cfg.SanitizeSVG,
		}, a.logger)
	}
	return service.NewIngestService(a.files, a.store, conv, service.IngestConfig{
		MaxFileSize:       a.cfg.MaxFileSize,
		ConversionTimeout: a.cfg.ConversionTimeout,
		Workers:           1,
	}, a.logger)
}

func (a *app) queryService() *service.QueryService {
	return service.NewQueryService(a.files, a.store, nil, a.cfg.MaxPerPage, a.logger)
}

func (a *app) mergeService() *service.MergeService {
	return service.NewMergeService(a.files, a.merged, a.store, a.cfg.MaxPerPage, a.logger)
}

// withApp открывает app на время выполнения fn.
func withApp(ctx context.Context, opts *RootOptions, stderr io.Writer, fn func(*app) error) error {
	a, err := openApp(ctx, opts, stderr)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
