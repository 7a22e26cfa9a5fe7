// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
)

var (
	// ErrValidation — ошибка валидации входных данных (идентификатор, имя, содержимое).
	ErrValidation = errors.New("ошибка валидации")
	// ErrFileTooLarge — исходный файл превышает допустимый размер.
	ErrFileTooLarge = errors.New("файл превышает допустимый размер")
	// ErrDuplicateIdentity — запись с такой парой (order_number, line_number) уже существует.
	ErrDuplicateIdentity = errors.New("файл с таким номером заказа и строки уже существует")
	// ErrInvalidTransition — статус записи не допускает запрошенный переход.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrConversion — внешний конвертер завершился ошибкой или не уложился во время.
	ErrConversion = errors.New("ошибка конвертации")
	// ErrInfrastructure — хранилище записей или файловая система недоступны.
	ErrInfrastructure = errors.New("ошибка инфраструктуры")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
)

// ConversionError — конвертация не удалась, запись переведена в failed.
// Record — состояние записи после перехода.
type ConversionError struct {
	Record *model.FileRecord
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConversion.Error(), e.Reason)
}

// Unwrap позволяет сопоставлять ошибку и с ErrConversion, и с причиной.
func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversion, e.Err}
}

// mapStoreError переводит ошибки репозитория в ошибки сервисного слоя.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
	case errors.Is(err, repository.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	default:
		return fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
}

// validationError оборачивает ошибку identity в ErrValidation,
// сохраняя *identity.ValidationError доступной для errors.As.
func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
