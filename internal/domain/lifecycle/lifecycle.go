// Пакет lifecycle — конечный автомат статусов записи файла.
//
//	uploaded → converting → converted (конечный)
//	                      ↘ failed    (конечный)
//
// Обратных переходов нет, converting пропустить нельзя.
// Автомат не хранит состояние: текущий статус живёт в хранилище,
// пакет лишь описывает матрицу переходов, общую для всех backend'ов.
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/svgconv/internal/domain/model"
)

// CodeInvalidTransition — машиночитаемый код недопустимого перехода.
const CodeInvalidTransition = "INVALID_TRANSITION"

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.FileStatus]map[model.FileStatus]bool{
	model.StatusUploaded:   {model.StatusConverting: true},
	model.StatusConverting: {model.StatusConverted: true, model.StatusFailed: true},
	model.StatusConverted:  {},
	model.StatusFailed:     {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.FileStatus) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// SourceFor возвращает единственный статус, из которого допустим переход в target.
// Для uploaded (начальный статус) и неизвестных статусов возвращает ошибку.
func SourceFor(target model.FileStatus) (model.FileStatus, error) {
	for from, targets := range validTransitions {
		if targets[target] {
			return from, nil
		}
	}
	return "", &TransitionError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("в статус %q нельзя перейти ни из какого статуса", target),
	}
}

// Check возвращает *TransitionError, если переход from → to недопустим.
func Check(from, to model.FileStatus) error {
	if !to.IsValid() {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ParseStatus преобразует строку в model.FileStatus.
func ParseStatus(s string) (model.FileStatus, error) {
	st := model.FileStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: uploaded, converting, converted, failed", s)
	}
	return st, nil
}
