package lifecycle

import (
	"errors"
	"testing"

	"github.com/bigkaa/svgconv/internal/domain/model"
)

// TestCanTransition проверяет полную матрицу переходов.
func TestCanTransition(t *testing.T) {
	all := []model.FileStatus{
		model.StatusUploaded, model.StatusConverting,
		model.StatusConverted, model.StatusFailed,
	}
	allowed := map[[2]model.FileStatus]bool{
		{model.StatusUploaded, model.StatusConverting}:  true,
		{model.StatusConverting, model.StatusConverted}: true,
		{model.StatusConverting, model.StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]model.FileStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, хотели %v", from, to, got, want)
			}
		}
	}
}

// TestCheck_TerminalStatuses проверяет, что из конечных статусов выхода нет.
func TestCheck_TerminalStatuses(t *testing.T) {
	for _, from := range []model.FileStatus{model.StatusConverted, model.StatusFailed} {
		for _, to := range []model.FileStatus{model.StatusUploaded, model.StatusConverting, model.StatusConverted, model.StatusFailed} {
			err := Check(from, to)
			if err == nil {
				t.Errorf("%s → %s должен вернуть ошибку", from, to)
				continue
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("ожидался *TransitionError, получен %T", err)
			}
			if te.Code != CodeInvalidTransition {
				t.Errorf("ожидался код %s, получен %q", CodeInvalidTransition, te.Code)
			}
		}
	}
}

// TestCheck_NoSkipConverting проверяет, что uploaded → converted запрещён.
func TestCheck_NoSkipConverting(t *testing.T) {
	if err := Check(model.StatusUploaded, model.StatusConverted); err == nil {
		t.Error("uploaded → converted не должен быть допустим")
	}
	if err := Check(model.StatusUploaded, model.StatusFailed); err == nil {
		t.Error("uploaded → failed не должен быть допустим")
	}
}

func TestCheck_InvalidTarget(t *testing.T) {
	if err := Check(model.StatusUploaded, model.FileStatus("deleted")); err == nil {
		t.Error("ожидалась ошибка для неизвестного статуса")
	}
}

func TestSourceFor(t *testing.T) {
	tests := []struct {
		target  model.FileStatus
		want    model.FileStatus
		wantErr bool
	}{
		{model.StatusConverting, model.StatusUploaded, false},
		{model.StatusConverted, model.StatusConverting, false},
		{model.StatusFailed, model.StatusConverting, false},
		{model.StatusUploaded, "", true},
	}

	for _, tt := range tests {
		got, err := SourceFor(tt.target)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SourceFor(%s): ожидалась ошибка", tt.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("SourceFor(%s): неожиданная ошибка: %v", tt.target, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SourceFor(%s) = %s, хотели %s", tt.target, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("converted"); err != nil {
		t.Errorf("ParseStatus(converted): неожиданная ошибка: %v", err)
	}
	if _, err := ParseStatus("error"); err == nil {
		t.Error("ParseStatus(error): ожидалась ошибка")
	}
}
