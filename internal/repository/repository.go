// Пакет repository — слой доступа к хранилищу записей.
// Реализация для PostgreSQL — чистый SQL через pgx, без ORM.
// Реализация для SQLite — подпакет sqlitestore, с теми же интерфейсами и ошибками.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/svgconv/internal/domain/lifecycle"
	"github.com/bigkaa/svgconv/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidTransition — запись существует, но её статус не допускает переход.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MaxSequenceRetries — число попыток выделить sequence_number при конкурентной вставке.
const MaxSequenceRetries = 5

// TransitionFailure классифицирует несработавший условный UPDATE,
// когда запись существует и имеет статус current.
// Результат всегда оборачивает ErrInvalidTransition.
func TransitionFailure(current, to model.FileStatus) error {
	if err := lifecycle.Check(current, to); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	// Переход допустим, но статус изменился между UPDATE и чтением
	return fmt.Errorf("%w: статус %s изменён конкурентно", ErrInvalidTransition, current)
}

// EncodeLineNumbers сериализует номера строк для колонки line_numbers ("1,2,3").
func EncodeLineNumbers(lines []int) string {
	parts := make([]string, len(lines))
	for i, n := range lines {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// DecodeLineNumbers разбирает значение колонки line_numbers.
func DecodeLineNumbers(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	lines := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("некорректный номер строки %q: %w", p, err)
		}
		lines = append(lines, n)
	}
	return lines, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
