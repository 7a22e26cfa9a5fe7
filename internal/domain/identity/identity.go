// Пакет identity — валидация и нормализация идентификатора файла:
// пары (order_number, line_number) и имени загружаемого файла.
// Все функции чистые: без I/O и без побочных эффектов.
package identity

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Допустимые диапазоны идентификатора.
const (
	MinOrderNumber = 100000
	MaxOrderNumber = 999999
	MinLineNumber  = 1
	MaxLineNumber  = 999
)

// SourceExtension — единственное распознаваемое расширение исходного документа.
const SourceExtension = ".svg"

// maxStemLength — ограничение длины безопасного имени на диске (в рунах).
const maxStemLength = 50

// Коды ошибок валидации.
const (
	CodeInvalidOrderNumber = "INVALID_ORDER_NUMBER"
	CodeInvalidLineNumber  = "INVALID_LINE_NUMBER"
	CodeInvalidFilename    = "INVALID_FILENAME"
)

// Sentinel-ошибки для errors.Is.
var (
	ErrInvalidOrderNumber = errors.New("некорректный номер заказа")
	ErrInvalidLineNumber  = errors.New("некорректный номер строки")
	ErrInvalidFilename    = errors.New("некорректное имя файла")
)

// ValidationError — ошибка валидации идентификатора.
type ValidationError struct {
	Code    string
	Message string
	err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает sentinel-ошибку (ErrInvalidOrderNumber и т.д.).
func (e *ValidationError) Unwrap() error {
	return e.err
}

// Identity — нормализованный идентификатор файла.
type Identity struct {
	// OrderNumber — номер заказа
	OrderNumber int
	// LineNumber — номер строки заказа
	LineNumber int
	// Filename — санитизированное оригинальное имя (NFC, без управляющих символов)
	Filename string
	// Stem — безопасная для файловой системы основа имени (без расширения)
	Stem string
}

// Validate проверяет номер заказа, номер строки и имя файла.
// Порядок проверок: order_number → line_number → filename.
func Validate(orderNumber, lineNumber int, filename string) (Identity, error) {
	if err := ValidateRange(orderNumber, lineNumber); err != nil {
		return Identity{}, err
	}

	clean, err := SanitizeFilename(filename)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		OrderNumber: orderNumber,
		LineNumber:  lineNumber,
		Filename:    clean,
		Stem:        safeStem(strings.TrimSuffix(clean, filepath.Ext(clean))),
	}, nil
}

// ValidateRange проверяет только пару (order_number, line_number).
// Используется read-путями, где имени файла нет.
func ValidateRange(orderNumber, lineNumber int) error {
	if err := ValidateOrderNumber(orderNumber); err != nil {
		return err
	}
	if lineNumber < MinLineNumber || lineNumber > MaxLineNumber {
		return &ValidationError{
			Code:    CodeInvalidLineNumber,
			Message: fmt.Sprintf("line_number должен быть в диапазоне %d–%d, получено %d", MinLineNumber, MaxLineNumber, lineNumber),
			err:     ErrInvalidLineNumber,
		}
	}
	return nil
}

// ValidateOrderNumber проверяет номер заказа (6 цифр).
func ValidateOrderNumber(orderNumber int) error {
	if orderNumber < MinOrderNumber || orderNumber > MaxOrderNumber {
		return &ValidationError{
			Code:    CodeInvalidOrderNumber,
			Message: fmt.Sprintf("order_number должен быть 6-значным числом (%d–%d), получено %d", MinOrderNumber, MaxOrderNumber, orderNumber),
			err:     ErrInvalidOrderNumber,
		}
	}
	return nil
}

// SanitizeFilename нормализует имя файла и проверяет его допустимость.
//
// Нормализация: NFC, удаление управляющих символов, обрезка пробелов.
// Отклоняются: пустые имена, разделители пути и "..", имена без
// расширения .svg или без основы перед расширением.
func SanitizeFilename(filename string) (string, error) {
	name := norm.NFC.String(filename)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" {
		return "", filenameError("имя файла пустое")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", filenameError(fmt.Sprintf("имя файла %q содержит разделители пути или '..'", name))
	}

	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, SourceExtension) {
		return "", filenameError(fmt.Sprintf("имя файла %q должно иметь расширение %s", name, SourceExtension))
	}
	if strings.TrimSpace(strings.TrimSuffix(name, ext)) == "" {
		return "", filenameError(fmt.Sprintf("имя файла %q не содержит основы перед расширением", name))
	}

	return name, nil
}

func filenameError(msg string) error {
	return &ValidationError{Code: CodeInvalidFilename, Message: msg, err: ErrInvalidFilename}
}

// safeStem оставляет только буквы, цифры, дефис и подчёркивание.
// Пробелы и точки заменяются подчёркиванием. Пустой результат — "file".
func safeStem(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxStemLength {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		default:
			continue
		}
		n++
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
