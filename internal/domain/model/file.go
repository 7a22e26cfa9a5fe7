// Пакет model — доменные модели сервиса конвертации SVG → PDF.
// FileRecord — маппинг таблицы files, единственной таблицы ядра.
package model

import "time"

// FileStatus — статус записи файла в жизненном цикле конвертации.
type FileStatus string

const (
	// StatusUploaded — исходный SVG записан на диск, конвертация не начиналась
	StatusUploaded FileStatus = "uploaded"
	// StatusConverting — конвертация выполняется
	StatusConverting FileStatus = "converting"
	// StatusConverted — PDF записан, derived_path заполнен (конечный статус)
	StatusConverted FileStatus = "converted"
	// StatusFailed — конвертация завершилась ошибкой (конечный статус)
	StatusFailed FileStatus = "failed"
)

// IsTerminal возвращает true для конечных статусов (converted, failed).
func (s FileStatus) IsTerminal() bool {
	return s == StatusConverted || s == StatusFailed
}

// IsValid проверяет, что статус входит в допустимый набор.
func (s FileStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusConverting, StatusConverted, StatusFailed:
		return true
	default:
		return false
	}
}

// FileRecord — запись файла, адресуемая парой (order_number, line_number).
type FileRecord struct {
	// ID — суррогатный ключ, назначается хранилищем
	ID int64 `json:"id"`
	// OrderNumber — номер заказа (100000–999999)
	OrderNumber int `json:"order_number"`
	// LineNumber — номер строки заказа (1–999)
	LineNumber int `json:"line_number"`
	// OriginalFilename — имя файла при загрузке (после санитизации)
	OriginalFilename string `json:"original_filename"`
	// SourcePath — путь исходного SVG относительно каталога данных
	SourcePath string `json:"source_path"`
	// DerivedPath — путь PDF относительно каталога данных.
	// nil, пока статус не converted.
	DerivedPath *string `json:"derived_path,omitempty"`
	// Status — текущий статус жизненного цикла
	Status FileStatus `json:"status"`
	// FailureReason — причина ошибки конвертации (только для failed)
	FailureReason *string `json:"failure_reason,omitempty"`
	// FileSize — размер исходного SVG в байтах
	FileSize int64 `json:"file_size"`
	// Checksum — SHA-256 исходного SVG
	Checksum string `json:"checksum"`
	// CreatedAt — время создания записи
	CreatedAt time.Time `json:"created_at"`
	// ConvertedAt — время успешной конвертации, nil до converted
	ConvertedAt *time.Time `json:"converted_at,omitempty"`
	// UpdatedAt — время последнего изменения записи
	UpdatedAt time.Time `json:"updated_at"`
}

// PDFAvailable возвращает true, если производный PDF доступен для скачивания.
func (f *FileRecord) PDFAvailable() bool {
	return f.Status == StatusConverted && f.DerivedPath != nil
}

// FileStats — агрегированная статистика по таблице files.
type FileStats struct {
	TotalFiles int   `json:"total_files"`
	Uploaded   int   `json:"uploaded"`
	Converting int   `json:"converting"`
	Converted  int   `json:"converted"`
	Failed     int   `json:"failed"`
	TotalSize  int64 `json:"total_size"`
}

// LineInfo — краткая информация о строке заказа для сводки.
type LineInfo struct {
	LineNumber int        `json:"line_number"`
	Filename   string     `json:"filename"`
	Status     FileStatus `json:"status"`
}

// OrderSummary — сводка по заказу: какие строки уже имеют PDF, какие нет.
type OrderSummary struct {
	OrderNumber    int        `json:"order_number"`
	TotalFiles     int        `json:"total_files"`
	Available      []LineInfo `json:"available_pdfs"`
	Missing        []LineInfo `json:"missing_pdfs"`
	AllLineNumbers []int      `json:"all_line_numbers"`
}
