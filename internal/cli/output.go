package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/svgconv/internal/service"
)

// Коды завершения.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // отказ операции: валидация, дубликат, не найдено, ошибка конвертации
	ExitCommandError = 2 // ошибка окружения: конфигурация, хранилище, файловая система
)

// ExitError — ошибка с кодом завершения процесса.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError создаёт ExitError без вложенной ошибки.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError оборачивает ошибку с кодом завершения.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode возвращает код завершения для ошибки.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// serviceExit переводит ошибку сервисного слоя в ExitError.
// Инфраструктурные ошибки — ExitCommandError, остальные — ExitFailure.
func serviceExit(message string, err error) error {
	if errors.Is(err, service.ErrInfrastructure) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// output печатает результат команды в выбранном формате.
// text — функция текстового вывода; для json/yaml печатается data.
func output(w io.Writer, format string, data any, text func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		return writeYAML(w, data)
	default:
		text(w)
		return nil
	}
}

// writeYAML печатает data в YAML с именами полей из json-тегов.
// JSON — подмножество YAML: разбираем его в yaml.Node (порядок ключей
// сохраняется) и сбрасываем flow-стиль, чтобы получить блочный вывод.
func writeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return err
	}
	resetStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func resetStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	// Строки оставляем в кавычках, только если без них значение изменит тип
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style = 0
	}
	for _, c := range n.Content {
		resetStyle(c)
	}
}
