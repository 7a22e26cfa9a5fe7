// Пакет sqlitestore — реализация хранилища записей на SQLite (mattn/go-sqlite3).
//
// Интерфейсы, ошибки и матрица переходов — общие с PostgreSQL-реализацией
// из пакета repository. Инварианты (уникальность идентификатора, согласованность
// status и derived_path) заданы ограничениями схемы, как и в PostgreSQL.
//
// Все временные метки пишутся в UTC, чтобы строковое сравнение DATETIME
// совпадало с хронологическим.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/svgconv/internal/domain/lifecycle"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
)

const fileColumns = `id, order_number, line_number, original_filename, source_path, derived_path,
	status, failure_reason, file_size, checksum, created_at, converted_at, updated_at`

// now возвращает текущее время в UTC. Переменная для подмены в тестах.
var now = func() time.Time { return time.Now().UTC() }

// fileRepo — реализация repository.FileRepository для SQLite.
type fileRepo struct {
	db *sql.DB
}

// NewFileRepository создаёт репозиторий файлов поверх SQLite.
func NewFileRepository(db *sql.DB) repository.FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO files (order_number, line_number, original_filename, source_path,
			status, file_size, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderNumber, f.LineNumber, f.OriginalFilename, f.SourcePath,
		string(model.StatusUploaded), f.FileSize, f.Checksum, ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %d/%d уже зарегистрирован", repository.ErrConflict, f.OrderNumber, f.LineNumber)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка получения id записи: %w", err)
	}

	f.ID = id
	f.Status = model.StatusUploaded
	f.DerivedPath = nil
	f.FailureReason = nil
	f.ConvertedAt = nil
	f.CreatedAt = ts
	f.UpdatedAt = ts
	return nil
}

func (r *fileRepo) MarkConverting(ctx context.Context, id int64) error {
	return r.transition(ctx, id, model.StatusConverting,
		`UPDATE files SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
}

func (r *fileRepo) MarkConverted(ctx context.Context, id int64, derivedPath string, convertedAt time.Time) error {
	return r.transition(ctx, id, model.StatusConverted,
		`UPDATE files SET status = ?, updated_at = ?, derived_path = ?, converted_at = ?, failure_reason = NULL
		 WHERE id = ? AND status = ?`,
		derivedPath, convertedAt.UTC())
}

func (r *fileRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.transition(ctx, id, model.StatusFailed,
		`UPDATE files SET status = ?, updated_at = ?, failure_reason = ? WHERE id = ? AND status = ?`,
		reason)
}

// transition выполняет условный UPDATE перехода в статус to.
// Порядок параметров: целевой статус, updated_at, extra..., id, исходный статус.
func (r *fileRepo) transition(ctx context.Context, id int64, to model.FileStatus, query string, extra ...any) error {
	from, err := lifecycle.SourceFor(to)
	if err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalidTransition, err)
	}

	args := append([]any{string(to), now()}, extra...)
	args = append(args, id, string(from))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка перехода %s → %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка перехода %s → %s: %w", from, to, err)
	}
	if n == 1 {
		return nil
	}
	return r.classify(ctx, id, to)
}

func (r *fileRepo) classify(ctx context.Context, id int64, to model.FileStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM files WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("ошибка чтения статуса файла: %w", err)
	}
	return repository.TransitionFailure(model.FileStatus(current), to)
}

func (r *fileRepo) GetByIdentity(ctx context.Context, orderNumber, lineNumber int) (*model.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+fileColumns+` FROM files WHERE order_number = ? AND line_number = ?`,
		orderNumber, lineNumber)
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
}

func (r *fileRepo) getOne(ctx context.Context, query string, args ...any) (*model.FileRecord, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByOrder(ctx context.Context, orderNumber int) ([]*model.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE order_number = ? ORDER BY line_number ASC`,
		orderNumber)
}

func (r *fileRepo) List(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	files, err := r.list(ctx, `SELECT `+fileColumns+` FROM files
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

func (r *fileRepo) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Stats(ctx context.Context) (*model.FileStats, error) {
	query := `
		SELECT count(*),
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'converting' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'converted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(file_size), 0)
		FROM files`

	s := &model.FileStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.TotalFiles, &s.Uploaded, &s.Converting, &s.Converted, &s.Failed, &s.TotalSize,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

func (r *fileRepo) FailStuckConverting(ctx context.Context, olderThan time.Time, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET status = 'failed', failure_reason = ?, updated_at = ?
		WHERE status = 'converting' AND updated_at < ?`,
		reason, now(), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода зависших конвертаций в failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода зависших конвертаций в failed: %w", err)
	}
	return int(n), nil
}

func (r *fileRepo) IsPathReferenced(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM files WHERE source_path = ?1 OR derived_path = ?1)
			OR EXISTS (SELECT 1 FROM merged_files WHERE path = ?1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ссылок на путь: %w", err)
	}
	return exists, nil
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var status string
	err := row.Scan(
		&f.ID, &f.OrderNumber, &f.LineNumber, &f.OriginalFilename, &f.SourcePath, &f.DerivedPath,
		&status, &f.FailureReason, &f.FileSize, &f.Checksum, &f.CreatedAt, &f.ConvertedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	return f, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности SQLite.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
