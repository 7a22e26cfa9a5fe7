package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/svgconv/internal/domain/model"
)

// MergedFileRepository — интерфейс хранилища объединённых PDF (таблица merged_files).
type MergedFileRepository interface {
	// Create вставляет версию и назначает ей следующий sequence_number заказа.
	Create(ctx context.Context, m *model.MergedFile) error
	// ListByOrder возвращает версии заказа по возрастанию sequence_number.
	ListByOrder(ctx context.Context, orderNumber int) ([]*model.MergedFile, error)
	// Get возвращает версию по номеру заказа и sequence_number.
	Get(ctx context.Context, orderNumber, sequence int) (*model.MergedFile, error)
	// Latest возвращает версию заказа с наибольшим sequence_number.
	Latest(ctx context.Context, orderNumber int) (*model.MergedFile, error)
	// List возвращает страницу версий всех заказов (created_at DESC, id DESC) и общее количество.
	List(ctx context.Context, limit, offset int) ([]*model.MergedFile, int, error)
}

const mergedColumns = `id, order_number, sequence_number, path, file_size, line_numbers, file_count, created_at`

// mergedRepo — реализация MergedFileRepository для PostgreSQL.
type mergedRepo struct {
	db DBTX
}

// NewMergedFileRepository создаёт репозиторий объединённых PDF.
func NewMergedFileRepository(db DBTX) MergedFileRepository {
	return &mergedRepo{db: db}
}

// Create выделяет sequence_number как MAX+1 в том же INSERT.
// При гонке двух вставок уникальный индекс (order_number, sequence_number)
// отклоняет одну из них, и она повторяется.
func (r *mergedRepo) Create(ctx context.Context, m *model.MergedFile) error {
	query := `
		INSERT INTO merged_files (order_number, sequence_number, path, file_size, line_numbers, file_count)
		SELECT $1::integer, COALESCE(MAX(sequence_number), 0) + 1, $2::text, $3::bigint, $4::text, $5::integer
		FROM merged_files WHERE order_number = $1::integer
		RETURNING id, sequence_number, created_at`

	lines := EncodeLineNumbers(m.LineNumbers)
	for attempt := 1; ; attempt++ {
		err := r.db.QueryRow(ctx, query,
			m.OrderNumber, m.Path, m.FileSize, lines, m.FileCount,
		).Scan(&m.ID, &m.SequenceNumber, &m.CreatedAt)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("ошибка создания объединённого файла: %w", err)
		}
		if attempt >= MaxSequenceRetries {
			return fmt.Errorf("%w: не удалось выделить номер версии для заказа %d", ErrConflict, m.OrderNumber)
		}
	}
}

func (r *mergedRepo) ListByOrder(ctx context.Context, orderNumber int) ([]*model.MergedFile, error) {
	query := `SELECT ` + mergedColumns + ` FROM merged_files
		WHERE order_number = $1 ORDER BY sequence_number ASC`
	return r.list(ctx, query, orderNumber)
}

func (r *mergedRepo) List(ctx context.Context, limit, offset int) ([]*model.MergedFile, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM merged_files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта объединённых файлов: %w", err)
	}

	query := `SELECT ` + mergedColumns + ` FROM merged_files
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	list, err := r.list(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *mergedRepo) list(ctx context.Context, query string, args ...any) ([]*model.MergedFile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объединённых файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.MergedFile, 0)
	for rows.Next() {
		m, err := scanMerged(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования объединённого файла: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *mergedRepo) Get(ctx context.Context, orderNumber, sequence int) (*model.MergedFile, error) {
	query := `SELECT ` + mergedColumns + ` FROM merged_files
		WHERE order_number = $1 AND sequence_number = $2`
	return r.get(ctx, query, orderNumber, sequence)
}

func (r *mergedRepo) Latest(ctx context.Context, orderNumber int) (*model.MergedFile, error) {
	query := `SELECT ` + mergedColumns + ` FROM merged_files
		WHERE order_number = $1 ORDER BY sequence_number DESC LIMIT 1`
	return r.get(ctx, query, orderNumber)
}

func (r *mergedRepo) get(ctx context.Context, query string, args ...any) (*model.MergedFile, error) {
	m, err := scanMerged(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объединённого файла: %w", err)
	}
	return m, nil
}

func scanMerged(row pgx.Row) (*model.MergedFile, error) {
	m := &model.MergedFile{}
	var lines string
	if err := row.Scan(&m.ID, &m.OrderNumber, &m.SequenceNumber, &m.Path,
		&m.FileSize, &lines, &m.FileCount, &m.CreatedAt); err != nil {
		return nil, err
	}
	decoded, err := DecodeLineNumbers(lines)
	if err != nil {
		return nil, err
	}
	m.LineNumbers = decoded
	return m, nil
}
