package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
)

const mergedColumns = `id, order_number, sequence_number, path, file_size, line_numbers, file_count, created_at`

type mergedRepo struct {
	db *sql.DB
}

// NewMergedFileRepository создаёт репозиторий объединённых PDF поверх SQLite.
func NewMergedFileRepository(db *sql.DB) repository.MergedFileRepository {
	return &mergedRepo{db: db}
}

func (r *mergedRepo) Create(ctx context.Context, m *model.MergedFile) error {
	lines := repository.EncodeLineNumbers(m.LineNumbers)
	for attempt := 1; ; attempt++ {
		ts := now()
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO merged_files (order_number, sequence_number, path, file_size, line_numbers, file_count, created_at)
			SELECT ?1, COALESCE(MAX(sequence_number), 0) + 1, ?2, ?3, ?4, ?5, ?6
			FROM merged_files WHERE order_number = ?1
			RETURNING id, sequence_number`,
			m.OrderNumber, m.Path, m.FileSize, lines, m.FileCount, ts,
		).Scan(&m.ID, &m.SequenceNumber)
		if err == nil {
			m.CreatedAt = ts
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("ошибка создания объединённого файла: %w", err)
		}
		if attempt >= repository.MaxSequenceRetries {
			return fmt.Errorf("%w: не удалось выделить номер версии для заказа %d", repository.ErrConflict, m.OrderNumber)
		}
	}
}

func (r *mergedRepo) ListByOrder(ctx context.Context, orderNumber int) ([]*model.MergedFile, error) {
	return r.list(ctx, `SELECT `+mergedColumns+` FROM merged_files
		WHERE order_number = ? ORDER BY sequence_number ASC`, orderNumber)
}

func (r *mergedRepo) List(ctx context.Context, limit, offset int) ([]*model.MergedFile, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM merged_files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта объединённых файлов: %w", err)
	}

	list, err := r.list(ctx, `SELECT `+mergedColumns+` FROM merged_files
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *mergedRepo) list(ctx context.Context, query string, args ...any) ([]*model.MergedFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	return r.get(ctx, `SELECT `+mergedColumns+` FROM merged_files
		WHERE order_number = ? AND sequence_number = ?`, orderNumber, sequence)
}

func (r *mergedRepo) Latest(ctx context.Context, orderNumber int) (*model.MergedFile, error) {
	return r.get(ctx, `SELECT `+mergedColumns+` FROM merged_files
		WHERE order_number = ? ORDER BY sequence_number DESC LIMIT 1`, orderNumber)
}

func (r *mergedRepo) get(ctx context.Context, query string, args ...any) (*model.MergedFile, error) {
	m, err := scanMerged(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объединённого файла: %w", err)
	}
	return m, nil
}

func scanMerged(row rowScanner) (*model.MergedFile, error) {
	m := &model.MergedFile{}
	var lines string
	if err := row.Scan(&m.ID, &m.OrderNumber, &m.SequenceNumber, &m.Path,
		&m.FileSize, &lines, &m.FileCount, &m.CreatedAt); err != nil {
		return nil, err
	}
	decoded, err := repository.DecodeLineNumbers(lines)
	if err != nil {
		return nil, err
	}
	m.LineNumbers = decoded
	return m, nil
}
