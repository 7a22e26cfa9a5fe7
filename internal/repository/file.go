package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/svgconv/internal/domain/lifecycle"
	"github.com/bigkaa/svgconv/internal/domain/model"
)

// FileRepository — интерфейс хранилища записей файлов (таблица files).
//
// Переходы статусов — одиночные условные UPDATE, без удержания блокировок
// между вызовами. Уникальность (order_number, line_number) обеспечивает
// уникальный индекс, а не предварительная проверка.
type FileRepository interface {
	// Create вставляет запись со статусом uploaded. ErrConflict — идентификатор занят.
	Create(ctx context.Context, f *model.FileRecord) error
	// MarkConverting: uploaded → converting.
	MarkConverting(ctx context.Context, id int64) error
	// MarkConverted: converting → converted, derived_path и converted_at одним UPDATE.
	MarkConverted(ctx context.Context, id int64, derivedPath string, convertedAt time.Time) error
	// MarkFailed: converting → failed с причиной.
	MarkFailed(ctx context.Context, id int64, reason string) error
	// GetByIdentity возвращает запись по паре (order_number, line_number).
	GetByIdentity(ctx context.Context, orderNumber, lineNumber int) (*model.FileRecord, error)
	// GetByID возвращает запись по суррогатному ключу.
	GetByID(ctx context.Context, id int64) (*model.FileRecord, error)
	// ListByOrder возвращает записи заказа по возрастанию line_number.
	ListByOrder(ctx context.Context, orderNumber int) ([]*model.FileRecord, error)
	// List возвращает страницу записей (created_at DESC, id DESC) и общее количество.
	List(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error)
	// Stats возвращает агрегированную статистику.
	Stats(ctx context.Context) (*model.FileStats, error)
	// FailStuckConverting переводит в failed записи, находящиеся в converting
	// без изменений дольше olderThan. Возвращает число обновлённых записей.
	FailStuckConverting(ctx context.Context, olderThan time.Time, reason string) (int, error)
	// IsPathReferenced проверяет, ссылается ли какая-либо запись на путь артефакта.
	IsPathReferenced(ctx context.Context, path string) (bool, error)
}

// fileColumns — колонки files в порядке сканирования scanFile.
const fileColumns = `id, order_number, line_number, original_filename, source_path, derived_path,
	status, failure_reason, file_size, checksum, created_at, converted_at, updated_at`

// fileRepo — реализация FileRepository для PostgreSQL.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (order_number, line_number, original_filename, source_path,
			status, file_size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.OrderNumber, f.LineNumber, f.OriginalFilename, f.SourcePath,
		string(model.StatusUploaded), f.FileSize, f.Checksum,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %d/%d уже зарегистрирован", ErrConflict, f.OrderNumber, f.LineNumber)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}

	f.Status = model.StatusUploaded
	f.DerivedPath = nil
	f.FailureReason = nil
	f.ConvertedAt = nil
	return nil
}

func (r *fileRepo) MarkConverting(ctx context.Context, id int64) error {
	return r.transition(ctx, id, model.StatusConverting,
		`UPDATE files SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`)
}

func (r *fileRepo) MarkConverted(ctx context.Context, id int64, derivedPath string, convertedAt time.Time) error {
	return r.transition(ctx, id, model.StatusConverted,
		`UPDATE files SET status = $3, derived_path = $4, converted_at = $5,
			failure_reason = NULL, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		derivedPath, convertedAt)
}

func (r *fileRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.transition(ctx, id, model.StatusFailed,
		`UPDATE files SET status = $3, failure_reason = $4, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		reason)
}

// transition выполняет условный UPDATE перехода в статус to.
// Исходный статус берётся из матрицы lifecycle. Параметры запроса:
// $1 — id, $2 — исходный статус, $3 — целевой, далее extra.
func (r *fileRepo) transition(ctx context.Context, id int64, to model.FileStatus, query string, extra ...any) error {
	from, err := lifecycle.SourceFor(to)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	args := append([]any{id, string(from), string(to)}, extra...)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка перехода %s → %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.classify(ctx, id, to)
}

// classify определяет причину несработавшего перехода: нет записи или неверный статус.
func (r *fileRepo) classify(ctx context.Context, id int64, to model.FileStatus) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM files WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка чтения статуса файла: %w", err)
	}
	return TransitionFailure(model.FileStatus(current), to)
}

func (r *fileRepo) GetByIdentity(ctx context.Context, orderNumber, lineNumber int) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE order_number = $1 AND line_number = $2`
	return r.getOne(ctx, query, orderNumber, lineNumber)
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *fileRepo) getOne(ctx context.Context, query string, args ...any) (*model.FileRecord, error) {
	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByOrder(ctx context.Context, orderNumber int) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE order_number = $1 ORDER BY line_number ASC`
	return r.list(ctx, query, orderNumber)
}

func (r *fileRepo) List(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	query := `SELECT ` + fileColumns + ` FROM files
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	files, err := r.list(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

func (r *fileRepo) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
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
			count(*) FILTER (WHERE status = 'uploaded'),
			count(*) FILTER (WHERE status = 'converting'),
			count(*) FILTER (WHERE status = 'converted'),
			count(*) FILTER (WHERE status = 'failed'),
			COALESCE(sum(file_size), 0)
		FROM files`

	s := &model.FileStats{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.TotalFiles, &s.Uploaded, &s.Converting, &s.Converted, &s.Failed, &s.TotalSize,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

func (r *fileRepo) FailStuckConverting(ctx context.Context, olderThan time.Time, reason string) (int, error) {
	query := `
		UPDATE files SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE status = 'converting' AND updated_at < $1`

	tag, err := r.db.Exec(ctx, query, olderThan, reason)
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода зависших конвертаций в failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *fileRepo) IsPathReferenced(ctx context.Context, path string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM files WHERE source_path = $1 OR derived_path = $1)
			OR EXISTS (SELECT 1 FROM merged_files WHERE path = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, path).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки ссылок на путь: %w", err)
	}
	return exists, nil
}

// scanFile сканирует одну строку files (порядок fileColumns).
func scanFile(row pgx.Row) (*model.FileRecord, error) {
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
