// query.go — read-only проекции над хранилищем записей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bigkaa/svgconv/internal/domain/identity"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
)

// DefaultPerPage — размер страницы по умолчанию.
const DefaultPerPage = 50

// ArtifactKind — тип скачиваемого артефакта.
type ArtifactKind string

const (
	// ArtifactSVG — исходный SVG
	ArtifactSVG ArtifactKind = "svg"
	// ArtifactPDF — сконвертированный PDF
	ArtifactPDF ArtifactKind = "pdf"
)

// Page — страница списка записей.
type Page struct {
	Items   []*model.FileRecord `json:"files"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	Pages   int                 `json:"pages"`
}

// Artifact — открытый файл артефакта для отдачи клиенту.
// Вызывающий код обязан закрыть File.
type Artifact struct {
	File        *os.File
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// QueryService — чтение записей, сводок и артефактов.
type QueryService struct {
	files      repository.FileRepository
	store      *filestore.FileStore
	cache      *CacheService
	maxPerPage int
	logger     *slog.Logger
}

// NewQueryService создаёт сервис чтения. cache может быть nil.
func NewQueryService(
	files repository.FileRepository,
	store *filestore.FileStore,
	cache *CacheService,
	maxPerPage int,
	logger *slog.Logger,
) *QueryService {
	if maxPerPage < 1 {
		maxPerPage = DefaultPerPage
	}
	return &QueryService{
		files:      files,
		store:      store,
		cache:      cache,
		maxPerPage: maxPerPage,
		logger:     logger.With(slog.String("component", "query")),
	}
}

// Get возвращает запись по паре (order_number, line_number).
func (s *QueryService) Get(ctx context.Context, orderNumber, lineNumber int) (*model.FileRecord, error) {
	if err := identity.ValidateRange(orderNumber, lineNumber); err != nil {
		return nil, validationError(err)
	}
	if rec, ok := s.cache.Get(orderNumber, lineNumber); ok {
		return rec, nil
	}

	rec, err := s.files.GetByIdentity(ctx, orderNumber, lineNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	s.cache.Set(rec)
	return rec, nil
}

// GetByID возвращает запись по суррогатному ключу.
func (s *QueryService) GetByID(ctx context.Context, id int64) (*model.FileRecord, error) {
	if id < 1 {
		return nil, fmt.Errorf("%w: id должен быть положительным, получено %d", ErrValidation, id)
	}
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return rec, nil
}

// ListByOrder возвращает записи заказа по возрастанию line_number.
func (s *QueryService) ListByOrder(ctx context.Context, orderNumber int) ([]*model.FileRecord, error) {
	if err := identity.ValidateOrderNumber(orderNumber); err != nil {
		return nil, validationError(err)
	}
	recs, err := s.files.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if recs == nil {
		recs = []*model.FileRecord{}
	}
	return recs, nil
}

// List возвращает страницу всех записей, новые первыми.
// Некорректные page и perPage приводятся к допустимым границам.
func (s *QueryService) List(ctx context.Context, page, perPage int) (*Page, error) {
	page, perPage = clampPage(page, perPage, s.maxPerPage)

	recs, total, err := s.files.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if recs == nil {
		recs = []*model.FileRecord{}
	}
	return &Page{
		Items:   recs,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

// clampPage приводит page и perPage к допустимым границам.
// Смещение (page-1)*perPage не переполняет int.
func clampPage(page, perPage, maxPerPage int) (int, int) {
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / perPage; page > maxPage {
		page = maxPage
	}
	return page, perPage
}

// pageCount — число страниц для total записей.
func pageCount(total, perPage int) int {
	return (total + perPage - 1) / perPage
}

// Stats возвращает агрегированную статистику.
func (s *QueryService) Stats(ctx context.Context) (*model.FileStats, error) {
	stats, err := s.files.Stats(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return stats, nil
}

// OrderSummary возвращает сводку заказа: строки с готовым PDF и остальные.
// Заказ без записей — пустая сводка, не ошибка.
func (s *QueryService) OrderSummary(ctx context.Context, orderNumber int) (*model.OrderSummary, error) {
	recs, err := s.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	summary := &model.OrderSummary{
		OrderNumber:    orderNumber,
		TotalFiles:     len(recs),
		Available:      []model.LineInfo{},
		Missing:        []model.LineInfo{},
		AllLineNumbers: make([]int, 0, len(recs)),
	}
	for _, rec := range recs {
		info := model.LineInfo{
			LineNumber: rec.LineNumber,
			Filename:   rec.OriginalFilename,
			Status:     rec.Status,
		}
		if rec.PDFAvailable() {
			summary.Available = append(summary.Available, info)
		} else {
			summary.Missing = append(summary.Missing, info)
		}
		summary.AllLineNumbers = append(summary.AllLineNumbers, rec.LineNumber)
	}
	sort.Ints(summary.AllLineNumbers)
	return summary, nil
}

// OpenArtifact открывает исходный SVG или PDF строки заказа.
// PDF доступен только для записей в статусе converted.
func (s *QueryService) OpenArtifact(ctx context.Context, orderNumber, lineNumber int, kind ArtifactKind) (*Artifact, error) {
	if kind != ArtifactSVG && kind != ArtifactPDF {
		return nil, fmt.Errorf("%w: неизвестный тип файла %q, допустимые: svg, pdf", ErrValidation, kind)
	}

	rec, err := s.Get(ctx, orderNumber, lineNumber)
	if err != nil {
		return nil, err
	}

	storagePath := rec.SourcePath
	name := rec.OriginalFilename
	contentType := "image/svg+xml"
	if kind == ArtifactPDF {
		if !rec.PDFAvailable() {
			return nil, fmt.Errorf("%w: PDF для %d/%d недоступен (статус %s)", ErrNotFound, orderNumber, lineNumber, rec.Status)
		}
		storagePath = *rec.DerivedPath
		name = strings.TrimSuffix(rec.OriginalFilename, path.Ext(rec.OriginalFilename)) + ".pdf"
		contentType = "application/pdf"
	}

	return s.open(storagePath, name, contentType)
}

// open открывает файл хранилища и собирает Artifact.
func (s *QueryService) open(storagePath, name, contentType string) (*Artifact, error) {
	f, err := s.store.ReadFile(storagePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			s.logger.Warn("Файл записи отсутствует на диске",
				slog.String("path", storagePath),
			)
			return nil, fmt.Errorf("%w: файл отсутствует на диске", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return &Artifact{
		File:        f,
		Name:        name,
		ContentType: contentType,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}
