package model

import "time"

// MergedFile — объединённый PDF всех (или выбранных) строк заказа.
// Для одного заказа может существовать несколько версий (SequenceNumber 1, 2, …).
type MergedFile struct {
	ID             int64     `json:"id"`
	OrderNumber    int       `json:"order_number"`
	SequenceNumber int       `json:"sequence_number"`
	Path           string    `json:"-"`
	FileSize       int64     `json:"file_size"`
	LineNumbers    []int     `json:"line_numbers"`
	FileCount      int       `json:"file_count"`
	CreatedAt      time.Time `json:"created_at"`
}
