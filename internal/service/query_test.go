package service

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/bigkaa/svgconv/internal/domain/identity"
	"github.com/bigkaa/svgconv/internal/domain/model"
)

// Строки, загруженные в порядке 3, 1, 2, возвращаются как 1, 2, 3.
func TestQuery_ListByOrderSorted(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.ingestService(t, fakePDF(), IngestConfig{})
	ctx := context.Background()

	for _, line := range []int{3, 1, 2} {
		if _, err := svc.Ingest(ctx, params(123456, line, testSVG)); err != nil {
			t.Fatalf("Ingest(%d) ошибка: %v", line, err)
		}
	}

	recs, err := env.queryService(nil).ListByOrder(ctx, 123456)
	if err != nil {
		t.Fatalf("ListByOrder() ошибка: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("хотели 3 записи, получили %d", len(recs))
	}
	for i, rec := range recs {
		if rec.LineNumber != i+1 {
			t.Errorf("позиция %d: хотели строку %d, получили %d", i, i+1, rec.LineNumber)
		}
	}
}

func TestQuery_ListPagination(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.ingestService(t, fakePDF(), IngestConfig{})
	ctx := context.Background()

	for line := 1; line <= 5; line++ {
		if _, err := svc.Ingest(ctx, params(123456, line, testSVG)); err != nil {
			t.Fatalf("Ingest(%d) ошибка: %v", line, err)
		}
	}
	q := NewQueryService(env.files, env.store, nil, 3, env.logger)

	tests := []struct {
		name                 string
		page, perPage        int
		wantPage, wantPer    int
		wantItems, wantPages int
	}{
		{"первая страница", 1, 2, 1, 2, 2, 3},
		{"последняя неполная", 3, 2, 3, 2, 1, 3},
		{"page 0 → 1", 0, 2, 1, 2, 2, 3},
		{"per_page 0 → 1", 1, 0, 1, 1, 1, 5},
		{"per_page выше лимита", 1, 1000, 1, 3, 3, 2},
		{"за пределами", 10, 2, 10, 2, 0, 3},
		{"page = MaxInt", math.MaxInt, 2, math.MaxInt / 2, 2, 0, 3},
		{"page = MaxInt, per_page 1", math.MaxInt, 1, math.MaxInt, 1, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := q.List(ctx, tt.page, tt.perPage)
			if err != nil {
				t.Fatalf("List() ошибка: %v", err)
			}
			if p.Page != tt.wantPage || p.PerPage != tt.wantPer {
				t.Errorf("page/per_page: хотели %d/%d, получили %d/%d", tt.wantPage, tt.wantPer, p.Page, p.PerPage)
			}
			if len(p.Items) != tt.wantItems {
				t.Errorf("элементов: хотели %d, получили %d", tt.wantItems, len(p.Items))
			}
			if p.Total != 5 || p.Pages != tt.wantPages {
				t.Errorf("total/pages: хотели 5/%d, получили %d/%d", tt.wantPages, p.Total, p.Pages)
			}
		})
	}

	// Новые первыми
	p, _ := q.List(ctx, 1, 3)
	if p.Items[0].LineNumber != 5 {
		t.Errorf("первой должна быть последняя загрузка, получили строку %d", p.Items[0].LineNumber)
	}
}

func TestQuery_GetErrors(t *testing.T) {
	env := setupTestEnv(t)
	q := env.queryService(nil)
	ctx := context.Background()

	if _, err := q.Get(ctx, 12345, 1); !errors.Is(err, identity.ErrInvalidOrderNumber) || !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ошибка валидации номера заказа, получена %v", err)
	}
	if _, err := q.Get(ctx, 123456, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получена %v", err)
	}
	if _, err := q.GetByID(ctx, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получена %v", err)
	}
	if _, err := q.GetByID(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получена %v", err)
	}
}

func TestQuery_OrderSummary(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	ok := env.ingestService(t, fakePDF(), IngestConfig{})
	bad := env.ingestService(t, failing(), IngestConfig{})
	if _, err := ok.Ingest(ctx, params(123456, 2, testSVG)); err != nil {
		t.Fatalf("Ingest() ошибка: %v", err)
	}
	_, _ = bad.Ingest(ctx, params(123456, 1, testSVG))
	if _, err := ok.Ingest(ctx, params(123456, 3, testSVG)); err != nil {
		t.Fatalf("Ingest() ошибка: %v", err)
	}

	s, err := env.queryService(nil).OrderSummary(ctx, 123456)
	if err != nil {
		t.Fatalf("OrderSummary() ошибка: %v", err)
	}
	if s.TotalFiles != 3 {
		t.Errorf("TotalFiles: хотели 3, получили %d", s.TotalFiles)
	}
	if len(s.Available) != 2 || s.Available[0].LineNumber != 2 || s.Available[1].LineNumber != 3 {
		t.Errorf("Available: %+v", s.Available)
	}
	if len(s.Missing) != 1 || s.Missing[0].LineNumber != 1 || s.Missing[0].Status != model.StatusFailed {
		t.Errorf("Missing: %+v", s.Missing)
	}
	if len(s.AllLineNumbers) != 3 || s.AllLineNumbers[0] != 1 {
		t.Errorf("AllLineNumbers: %v", s.AllLineNumbers)
	}

	empty, err := env.queryService(nil).OrderSummary(ctx, 654321)
	if err != nil || empty.TotalFiles != 0 || empty.Available == nil {
		t.Errorf("пустая сводка: %+v, %v", empty, err)
	}
}

func TestQuery_OpenArtifact(t *testing.T) {
	env := setupTestEnv(t)
	svc := env.ingestService(t, fakePDF(), IngestConfig{})
	ctx := context.Background()

	p := params(123456, 1, testSVG)
	p.Filename = "Чертёж 1.svg"
	if _, err := svc.Ingest(ctx, p); err != nil {
		t.Fatalf("Ingest() ошибка: %v", err)
	}
	q := env.queryService(nil)

	svg, err := q.OpenArtifact(ctx, 123456, 1, ArtifactSVG)
	if err != nil {
		t.Fatalf("OpenArtifact(svg) ошибка: %v", err)
	}
	defer svg.File.Close()
	if svg.Name != "Чертёж 1.svg" || svg.ContentType != "image/svg+xml" {
		t.Errorf("svg: имя %q, тип %q", svg.Name, svg.ContentType)
	}
	data, _ := io.ReadAll(svg.File)
	if string(data) != testSVG {
		t.Errorf("содержимое svg: %q", data)
	}

	pdf, err := q.OpenArtifact(ctx, 123456, 1, ArtifactPDF)
	if err != nil {
		t.Fatalf("OpenArtifact(pdf) ошибка: %v", err)
	}
	defer pdf.File.Close()
	if pdf.Name != "Чертёж 1.pdf" || pdf.ContentType != "application/pdf" || pdf.Size == 0 {
		t.Errorf("pdf: имя %q, тип %q, размер %d", pdf.Name, pdf.ContentType, pdf.Size)
	}

	if _, err := q.OpenArtifact(ctx, 123456, 1, "png"); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный тип: ожидалась ErrValidation, получена %v", err)
	}
}

func TestQuery_CachesTerminalRecords(t *testing.T) {
	env := setupTestEnv(t)
	release := make(chan struct{})
	svc := env.ingestService(t, blockingPDF(release), IngestConfig{})
	ctx := context.Background()
	cache := NewCacheService(10, time.Minute)
	q := env.queryService(cache)

	if _, err := svc.Submit(ctx, params(123456, 1, testSVG)); err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}
	if _, err := q.Get(ctx, 123456, 1); err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if cache.Len() != 0 {
		t.Error("незавершённая запись не должна кэшироваться")
	}

	close(release)
	waitStatus(t, env.files, 123456, 1, model.StatusConverted)
	rec, err := q.Get(ctx, 123456, 1)
	if err != nil || rec.Status != model.StatusConverted {
		t.Fatalf("Get() = %+v, %v", rec, err)
	}
	if cache.Len() != 1 {
		t.Errorf("converted запись должна попасть в кэш, Len = %d", cache.Len())
	}
	cached, ok := cache.Get(123456, 1)
	if !ok || cached.ID != rec.ID {
		t.Errorf("кэш вернул %+v, %v", cached, ok)
	}
}

func TestClampPage_NoOverflow(t *testing.T) {
	for _, perPage := range []int{1, 2, 3, 7, 100} {
		page, per := clampPage(math.MaxInt, perPage, 100)
		if offset := (page - 1) * per; offset < 0 {
			t.Errorf("per_page=%d: отрицательное смещение %d", perPage, offset)
		}
	}
}
