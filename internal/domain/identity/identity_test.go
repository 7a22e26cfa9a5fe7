package identity

import (
	"errors"
	"strings"
	"testing"
)

// TestValidate_Ranges проверяет границы диапазонов order_number и line_number.
func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		order   int
		line    int
		wantErr error
	}{
		{"минимальные значения", 100000, 1, nil},
		{"максимальные значения", 999999, 999, nil},
		{"order ниже диапазона", 99999, 1, ErrInvalidOrderNumber},
		{"order выше диапазона", 1000000, 1, ErrInvalidOrderNumber},
		{"line ноль", 123456, 0, ErrInvalidLineNumber},
		{"line выше диапазона", 100000, 1000, ErrInvalidLineNumber},
		{"order проверяется первым", 0, 0, ErrInvalidOrderNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.order, tt.line, "drawing.svg")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ожидалась %v, получена %v", tt.wantErr, err)
			}
		})
	}
}

// TestValidate_Filename проверяет отклонение некорректных имён.
func TestValidate_Filename(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"drawing.png",
		"drawing",
		".svg",
		"../etc/passwd.svg",
		"dir/drawing.svg",
		`dir\drawing.svg`,
		"a..svg",
	}
	for _, name := range bad {
		_, err := Validate(123456, 1, name)
		if !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("Validate(%q): ожидалась ErrInvalidFilename, получена %v", name, err)
		}
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Code != CodeInvalidFilename {
			t.Errorf("Validate(%q): код %q, хотели %q", name, ve.Code, CodeInvalidFilename)
		}
	}
}

// TestValidate_Normalization проверяет санитизацию и безопасную основу имени.
func TestValidate_Normalization(t *testing.T) {
	id, err := Validate(123456, 7, "  Чертёж детали\x00 v2.SVG ")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if id.Filename != "Чертёж детали v2.SVG" {
		t.Errorf("Filename = %q", id.Filename)
	}
	if id.Stem != "Чертёж_детали_v2" {
		t.Errorf("Stem = %q", id.Stem)
	}
	if id.OrderNumber != 123456 || id.LineNumber != 7 {
		t.Errorf("идентификатор изменён: %+v", id)
	}
}

func TestValidate_NFC(t *testing.T) {
	// "й" в разложенной форме: и + combining breve
	decomposed := "\u0438\u0306.svg"
	id, err := Validate(123456, 1, decomposed)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if id.Filename != "\u0439.svg" {
		t.Errorf("ожидалась NFC-форма, получено %q", id.Filename)
	}
}

func TestValidate_StemLength(t *testing.T) {
	long := strings.Repeat("a", 200) + ".svg"
	id, err := Validate(123456, 1, long)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len([]rune(id.Stem)) != maxStemLength {
		t.Errorf("длина Stem = %d, хотели %d", len([]rune(id.Stem)), maxStemLength)
	}
}

func TestValidate_StemFallback(t *testing.T) {
	id, err := Validate(123456, 1, "###.svg")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if id.Stem != "file" {
		t.Errorf("Stem = %q, хотели file", id.Stem)
	}
}
