// Пакет converter — адаптеры внешней функции конвертации SVG → PDF.
//
// Конвертер считается недоверенным по времени и памяти: вызывающий код
// ограничивает его контекстом, а CommandConverter дополнительно
// ограничивает размер вывода.
package converter

import (
	"context"
	"errors"
	"fmt"
)

// Converter — функция конвертации исходного SVG в PDF.
type Converter interface {
	Convert(ctx context.Context, svg []byte) ([]byte, error)
}

// Func — адаптер обычной функции к интерфейсу Converter.
type Func func(ctx context.Context, svg []byte) ([]byte, error)

// Convert вызывает f(ctx, svg).
func (f Func) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	return f(ctx, svg)
}

// Sentinel-ошибки конвертации.
var (
	// ErrTimeout — конвертация не уложилась в отведённое время.
	ErrTimeout = errors.New("превышено время конвертации")
	// ErrOutputTooLarge — вывод конвертера превысил лимит.
	ErrOutputTooLarge = errors.New("вывод конвертера превысил лимит")
	// ErrInvalidOutput — конвертер вернул пустой результат или не PDF.
	ErrInvalidOutput = errors.New("конвертер вернул некорректный результат")
)

// Error — ошибка внешнего конвертера.
type Error struct {
	// Reason — краткое описание для записи в failure_reason
	Reason string
	// Stderr — хвост stderr внешней команды (может быть пустым)
	Stderr string
	// Err — исходная ошибка
	Err error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Stderr)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}
