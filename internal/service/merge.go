// merge.go — объединение PDF строк заказа в один документ (pdfcpu).
//
// Объединяются только строки в статусе converted: все по возрастанию
// line_number либо явно заданный список в заданном порядке. Каждое
// объединение создаёт новую версию (sequence_number 1, 2, …), старые
// версии не изменяются.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/svgconv/internal/domain/identity"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
)

var mergeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cv_merge_total",
	Help: "Общее количество объединений PDF по результату",
}, []string{"result"})

func init() {
	// pdfcpu не должен создавать каталог конфигурации в $HOME
	api.DisableConfigDir()
}

// MergeService — объединение PDF заказа.
type MergeService struct {
	files      repository.FileRepository
	merged     repository.MergedFileRepository
	store      *filestore.FileStore
	maxPerPage int
	logger     *slog.Logger
}

// MergedPage — страница списка объединённых PDF всех заказов.
type MergedPage struct {
	Items   []*model.MergedFile `json:"merged_files"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	Pages   int                 `json:"pages"`
}

// NewMergeService создаёт сервис объединения.
func NewMergeService(
	files repository.FileRepository,
	merged repository.MergedFileRepository,
	store *filestore.FileStore,
	maxPerPage int,
	logger *slog.Logger,
) *MergeService {
	if maxPerPage < 1 {
		maxPerPage = DefaultPerPage
	}
	return &MergeService{
		files:      files,
		merged:     merged,
		store:      store,
		maxPerPage: maxPerPage,
		logger:     logger.With(slog.String("component", "merge")),
	}
}

// MergeOrder объединяет PDF заказа. lines — номера строк в нужном порядке;
// пустой список — все доступные строки по возрастанию.
func (s *MergeService) MergeOrder(ctx context.Context, orderNumber int, lines []int) (*model.MergedFile, error) {
	m, err := s.mergeOrder(ctx, orderNumber, lines)
	switch {
	case err == nil:
		mergeTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		mergeTotal.WithLabelValues("rejected").Inc()
	default:
		mergeTotal.WithLabelValues("error").Inc()
	}
	return m, err
}

func (s *MergeService) mergeOrder(ctx context.Context, orderNumber int, lines []int) (*model.MergedFile, error) {
	if err := identity.ValidateOrderNumber(orderNumber); err != nil {
		return nil, validationError(err)
	}

	recs, err := s.files.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: файлы заказа %d не найдены", ErrNotFound, orderNumber)
	}

	selected, err := selectLines(recs, lines)
	if err != nil {
		return nil, err
	}

	inFiles := make([]string, len(selected))
	lineNumbers := make([]int, len(selected))
	var invalid []string
	for i, rec := range selected {
		inFiles[i] = s.store.FullPath(*rec.DerivedPath)
		lineNumbers[i] = rec.LineNumber
		if pages, err := api.PageCountFile(inFiles[i]); err != nil || pages == 0 {
			invalid = append(invalid, fmt.Sprint(rec.LineNumber))
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: повреждённые или отсутствующие PDF для строк: %s",
			ErrInfrastructure, strings.Join(invalid, ", "))
	}

	outPath := placement.MergedPath(orderNumber, uuid.New().String()[:8])
	st, err := s.stage(inFiles, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка объединения PDF: %w", ErrInfrastructure, err)
	}
	if err := s.store.Commit(st, false); err != nil {
		s.store.Discard(st)
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	m := &model.MergedFile{
		OrderNumber: orderNumber,
		Path:        outPath,
		FileSize:    st.Size,
		LineNumbers: lineNumbers,
		FileCount:   len(lineNumbers),
	}
	if err := s.merged.Create(ctx, m); err != nil {
		if delErr := s.store.DeleteFile(outPath); delErr != nil {
			s.logger.Warn("Ошибка удаления объединённого PDF без записи",
				slog.String("path", outPath),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, mapStoreError(err)
	}

	s.logger.Info("PDF заказа объединены",
		slog.Int("order_number", orderNumber),
		slog.Int("sequence_number", m.SequenceNumber),
		slog.Int("file_count", m.FileCount),
		slog.Int64("size", m.FileSize),
	)
	return m, nil
}

// stage записывает результат во временный файл.
// Один PDF копируется как есть, несколько — объединяются pdfcpu.
func (s *MergeService) stage(inFiles []string, outPath string) (*filestore.Staged, error) {
	if len(inFiles) == 1 {
		return s.store.StageWith(outPath, func(tmpPath string) error {
			return copyFile(inFiles[0], tmpPath)
		})
	}
	return s.store.StageWith(outPath, func(tmpPath string) error {
		return api.MergeCreateFile(inFiles, tmpPath, false, nil)
	})
}

// selectLines выбирает строки с готовым PDF. recs отсортированы по line_number.
func selectLines(recs []*model.FileRecord, lines []int) ([]*model.FileRecord, error) {
	available := make(map[int]*model.FileRecord, len(recs))
	ordered := make([]*model.FileRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.PDFAvailable() {
			available[rec.LineNumber] = rec
			ordered = append(ordered, rec)
		}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: нет PDF для объединения", ErrValidation)
	}
	if len(lines) == 0 {
		return ordered, nil
	}

	selected := make([]*model.FileRecord, 0, len(lines))
	for _, line := range lines {
		rec, ok := available[line]
		if !ok {
			return nil, fmt.Errorf("%w: строка %d не найдена или PDF недоступен", ErrValidation, line)
		}
		selected = append(selected, rec)
	}
	return selected, nil
}

// ListMerged возвращает версии объединённого PDF заказа.
func (s *MergeService) ListMerged(ctx context.Context, orderNumber int) ([]*model.MergedFile, error) {
	if err := identity.ValidateOrderNumber(orderNumber); err != nil {
		return nil, validationError(err)
	}
	list, err := s.merged.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if list == nil {
		list = []*model.MergedFile{}
	}
	return list, nil
}

// GetMerged возвращает версию объединённого PDF.
func (s *MergeService) GetMerged(ctx context.Context, orderNumber, sequence int) (*model.MergedFile, error) {
	if err := identity.ValidateOrderNumber(orderNumber); err != nil {
		return nil, validationError(err)
	}
	if sequence < 1 {
		return nil, fmt.Errorf("%w: номер версии должен быть положительным, получено %d", ErrValidation, sequence)
	}
	m, err := s.merged.Get(ctx, orderNumber, sequence)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return m, nil
}

// LatestMerged возвращает последнюю версию объединённого PDF заказа.
func (s *MergeService) LatestMerged(ctx context.Context, orderNumber int) (*model.MergedFile, error) {
	if err := identity.ValidateOrderNumber(orderNumber); err != nil {
		return nil, validationError(err)
	}
	m, err := s.merged.Latest(ctx, orderNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return m, nil
}

// ListAllMerged возвращает страницу версий всех заказов, новые первыми.
func (s *MergeService) ListAllMerged(ctx context.Context, page, perPage int) (*MergedPage, error) {
	page, perPage = clampPage(page, perPage, s.maxPerPage)

	list, total, err := s.merged.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if list == nil {
		list = []*model.MergedFile{}
	}
	return &MergedPage{
		Items:   list,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

// OpenMerged открывает объединённый PDF для скачивания.
func (s *MergeService) OpenMerged(ctx context.Context, orderNumber, sequence int) (*Artifact, error) {
	m, err := s.GetMerged(ctx, orderNumber, sequence)
	if err != nil {
		return nil, err
	}
	return s.open(m)
}

// OpenLatestMerged открывает последнюю версию объединённого PDF заказа.
func (s *MergeService) OpenLatestMerged(ctx context.Context, orderNumber int) (*Artifact, error) {
	m, err := s.LatestMerged(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return s.open(m)
}

func (s *MergeService) open(m *model.MergedFile) (*Artifact, error) {
	f, err := s.store.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
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
		Name:        fmt.Sprintf("merged_%d_v%d.pdf", m.OrderNumber, m.SequenceNumber),
		ContentType: "application/pdf",
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}
