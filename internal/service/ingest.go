// ingest.go — конвейер приёма и конвертации SVG → PDF.
//
// Порядок шагов:
//  1. Валидация идентификатора, имени и размера
//  2. Запись SVG во временный файл и публикация без перезаписи (link)
//  3. Создание записи (uploaded) — уникальный индекс решает гонку дубликатов
//  4. uploaded → converting
//  5. Конвертация с таймаутом, запись PDF (temp + rename), converting → converted
//     либо converting → failed с причиной
//
// Блокировки хранилища между шагами не удерживаются. Конвертация
// не повторяется; повторяется только перевод в failed записи, которая
// не дошла до converting.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/svgconv/internal/converter"
	"github.com/bigkaa/svgconv/internal/domain/identity"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
)

// Результаты приёма для метрики cv_ingest_total.
const (
	resultConverted = "converted"
	resultFailed    = "failed"
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// maxReasonLength — ограничение длины failure_reason (в рунах).
const maxReasonLength = 1000

const (
	reasonStopped     = "конвертация прервана остановкой сервиса"
	reasonCancelled   = "конвертация отменена до запуска"
	reasonSourceWrite = "ошибка записи исходного файла"
	reasonDerivedSave = "ошибка записи PDF"
	reasonStoreFailed = "ошибка хранилища перед конвертацией"
)

// Повторы перевода в failed записи, не дошедшей до конвертации.
// Такую запись в uploaded не увидит sweeper, поэтому хранилище опрашивается
// с нарастающей паузой.
const storeRetries = 5

var storeRetryDelay = 200 * time.Millisecond

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_ingest_total",
		Help: "Общее количество запросов на приём файлов по результату",
	}, []string{"result"})

	conversionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cv_conversion_duration_seconds",
		Help:    "Длительность вызова внешнего конвертера в секундах",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// IngestParams — входные данные приёма файла.
type IngestParams struct {
	OrderNumber int
	LineNumber  int
	Filename    string
	// Content — содержимое SVG; читается не более MaxFileSize+1 байт
	Content io.Reader
}

// IngestConfig — параметры конвейера.
type IngestConfig struct {
	// MaxFileSize — максимальный размер исходного SVG в байтах
	MaxFileSize int64
	// ConversionTimeout — ограничение времени одной конвертации
	ConversionTimeout time.Duration
	// Workers — максимальное число одновременных конвертаций
	Workers int
}

// IngestService — конвейер приёма и конвертации.
type IngestService struct {
	files  repository.FileRepository
	store  *filestore.FileStore
	conv   converter.Converter
	cfg    IngestConfig
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex // защищает stopped и wg.Add
	stopped  bool
	wg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// job — принятый файл, ожидающий конвертации.
type job struct {
	id   identity.Identity
	rec  *model.FileRecord
	data []byte
}

// NewIngestService создаёт конвейер конвертации.
func NewIngestService(
	files repository.FileRepository,
	store *filestore.FileStore,
	conv converter.Converter,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &IngestService{
		files:    files,
		store:    store,
		conv:     conv,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger.With(slog.String("component", "ingest")),
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}
}

// Ingest принимает файл и конвертирует его синхронно.
//
// Возвращает запись в конечном статусе converted. При ошибке конвертера
// запись переводится в failed и возвращается *ConversionError.
func (s *IngestService) Ingest(ctx context.Context, p IngestParams) (*model.FileRecord, error) {
	j, err := s.accept(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.failRecord(j.rec, reasonCancelled)
		ingestTotal.WithLabelValues(resultError).Inc()
		return nil, fmt.Errorf("%w: ожидание слота конвертации: %w", ErrInfrastructure, err)
	}
	defer s.sem.Release(1)

	return s.convert(j)
}

// Submit принимает файл синхронно (шаги 1–3) и возвращает запись в статусе
// uploaded. Конвертация продолжается в фоне, не более Workers одновременно.
func (s *IngestService) Submit(ctx context.Context, p IngestParams) (*model.FileRecord, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: сервис конвертации остановлен", ErrInfrastructure)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	j, err := s.accept(ctx, p)
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	snapshot := *j.rec
	ingestTotal.WithLabelValues(resultAccepted).Inc()
	go s.background(j)
	return &snapshot, nil
}

// Stop прекращает приём фоновых задач и ждёт завершения выполняющихся.
// Задачи, не успевшие начать конвертацию, переводятся в failed.
func (s *IngestService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.bgCancel()
	s.wg.Wait()
	s.logger.Info("Конвейер конвертации остановлен")
}

// background выполняет конвертацию принятого через Submit файла.
func (s *IngestService) background(j *job) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.bgCtx, 1); err != nil {
		s.failRecord(j.rec, reasonStopped)
		return
	}
	defer s.sem.Release(1)

	// Acquire может успеть при уже отменённом контексте
	if s.bgCtx.Err() != nil {
		s.failRecord(j.rec, reasonStopped)
		return
	}

	if _, err := s.convert(j); err != nil {
		s.logger.Warn("Фоновая конвертация завершилась ошибкой",
			slog.Int("order_number", j.id.OrderNumber),
			slog.Int("line_number", j.id.LineNumber),
			slog.String("error", err.Error()),
		)
	}
}

// accept выполняет шаги 1–3: валидация, публикация SVG, создание записи.
func (s *IngestService) accept(ctx context.Context, p IngestParams) (*job, error) {
	id, err := identity.Validate(p.OrderNumber, p.LineNumber, p.Filename)
	if err != nil {
		ingestTotal.WithLabelValues(resultInvalid).Inc()
		return nil, validationError(err)
	}

	data, err := s.readContent(p.Content)
	if err != nil {
		ingestTotal.WithLabelValues(resultInvalid).Inc()
		return nil, err
	}

	srcPath := placement.PathFor(id, placement.RoleSource)
	st, err := s.store.Stage(bytes.NewReader(data), srcPath)
	if err != nil {
		ingestTotal.WithLabelValues(resultError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	// Финальное имя может быть занято сиротой от прерванной загрузки
	// или файлом конкурента. Чужой файл не перезаписывается, пока
	// запись не создана.
	occupied := false
	if err := s.store.Commit(st, false); err != nil {
		if !errors.Is(err, filestore.ErrExists) {
			s.store.Discard(st)
			ingestTotal.WithLabelValues(resultError).Inc()
			return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
		}
		occupied = true
	}

	rec := &model.FileRecord{
		OrderNumber:      id.OrderNumber,
		LineNumber:       id.LineNumber,
		OriginalFilename: id.Filename,
		SourcePath:       srcPath,
		FileSize:         st.Size,
		Checksum:         st.Checksum,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		// Удаляется только собственный temp файл, финальный путь не трогаем
		s.store.Discard(st)
		if errors.Is(err, repository.ErrConflict) {
			ingestTotal.WithLabelValues(resultDuplicate).Inc()
			s.logger.Info("Отклонён дубликат",
				slog.Int("order_number", id.OrderNumber),
				slog.Int("line_number", id.LineNumber),
			)
			return nil, fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
		}
		ingestTotal.WithLabelValues(resultError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	if occupied {
		// Запись наша: заменяем занятое имя своими байтами
		if err := s.store.Commit(st, true); err != nil {
			s.store.Discard(st)
			s.logger.Error("Ошибка замены исходного файла",
				slog.String("source_path", srcPath),
				slog.String("error", err.Error()),
			)
			s.failRecord(rec, reasonSourceWrite)
			ingestTotal.WithLabelValues(resultError).Inc()
			return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
		}
	}

	s.logger.Info("Файл принят",
		slog.Int64("id", rec.ID),
		slog.Int("order_number", id.OrderNumber),
		slog.Int("line_number", id.LineNumber),
		slog.String("source_path", srcPath),
		slog.Int64("size", rec.FileSize),
	)
	return &job{id: id, rec: rec, data: data}, nil
}

// readContent читает содержимое с ограничением размера.
func (s *IngestService) readContent(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: содержимое файла отсутствует", ErrValidation)
	}
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения содержимого: %w", ErrValidation, err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %w: максимум %d байт", ErrValidation, ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: файл пуст", ErrValidation)
	}
	return data, nil
}

// convert выполняет шаги 4–5. Вызывается с занятым слотом семафора.
// Вызовы хранилища не зависят от отмены клиентского контекста:
// начатая конвертация всегда доводит запись до конечного статуса.
func (s *IngestService) convert(j *job) (*model.FileRecord, error) {
	ctx := context.Background()
	rec := j.rec

	if err := s.files.MarkConverting(ctx, rec.ID); err != nil {
		ingestTotal.WithLabelValues(resultError).Inc()
		if !errors.Is(err, repository.ErrInvalidTransition) && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Ошибка перевода записи в converting",
				slog.Int64("id", rec.ID),
				slog.String("error", err.Error()),
			)
			s.failRecord(rec, reasonStoreFailed)
		}
		return nil, mapStoreError(err)
	}
	rec.Status = model.StatusConverting

	convCtx, cancel := context.WithTimeout(ctx, s.cfg.ConversionTimeout)
	start := time.Now()
	pdf, err := s.runConverter(convCtx, j.data)
	cancel()
	conversionDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, s.conversionFailed(ctx, rec, err)
	}

	derivedPath := placement.PathFor(j.id, placement.RoleDerived)
	if _, err := s.store.SaveFile(bytes.NewReader(pdf), derivedPath); err != nil {
		s.logger.Error("Ошибка записи PDF",
			slog.Int64("id", rec.ID),
			slog.String("derived_path", derivedPath),
			slog.String("error", err.Error()),
		)
		s.markFailed(ctx, rec, reasonDerivedSave)
		ingestTotal.WithLabelValues(resultError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	convertedAt := time.Now().UTC()
	if err := s.files.MarkConverted(ctx, rec.ID, derivedPath, convertedAt); err != nil {
		// Запись ушла из converting (например, sweeper): PDF без ссылки не нужен
		if delErr := s.store.DeleteFile(derivedPath); delErr != nil {
			s.logger.Warn("Ошибка удаления PDF без записи",
				slog.String("derived_path", derivedPath),
				slog.String("error", delErr.Error()),
			)
		}
		ingestTotal.WithLabelValues(resultError).Inc()
		return nil, mapStoreError(err)
	}

	rec.Status = model.StatusConverted
	rec.DerivedPath = &derivedPath
	rec.ConvertedAt = &convertedAt
	rec.UpdatedAt = convertedAt
	rec = s.reload(ctx, rec)

	ingestTotal.WithLabelValues(resultConverted).Inc()
	s.logger.Info("Файл сконвертирован",
		slog.Int64("id", rec.ID),
		slog.Int("order_number", rec.OrderNumber),
		slog.Int("line_number", rec.LineNumber),
		slog.String("derived_path", derivedPath),
		slog.Int("pdf_size", len(pdf)),
	)
	return rec, nil
}

type convResult struct {
	pdf []byte
	err error
}

// runConverter вызывает конвертер в отдельной горутине: конвертер,
// игнорирующий контекст, не удерживает конвейер дольше таймаута.
func (s *IngestService) runConverter(ctx context.Context, svg []byte) ([]byte, error) {
	ch := make(chan convResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- convResult{err: &converter.Error{Reason: fmt.Sprintf("паника конвертера: %v", r)}}
			}
		}()
		pdf, err := s.conv.Convert(ctx, svg)
		ch <- convResult{pdf: pdf, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && len(r.pdf) == 0 {
			return nil, &converter.Error{Reason: "конвертер вернул пустой результат", Err: converter.ErrInvalidOutput}
		}
		return r.pdf, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &converter.Error{Reason: converter.ErrTimeout.Error(), Err: converter.ErrTimeout}
		}
		return nil, &converter.Error{Reason: "конвертация прервана", Err: ctx.Err()}
	}
}

// conversionFailed переводит запись в failed и формирует *ConversionError.
func (s *IngestService) conversionFailed(ctx context.Context, rec *model.FileRecord, cause error) error {
	reason := failureReason(cause)
	s.markFailed(ctx, rec, reason)
	ingestTotal.WithLabelValues(resultFailed).Inc()

	s.logger.Warn("Конвертация не удалась",
		slog.Int64("id", rec.ID),
		slog.Int("order_number", rec.OrderNumber),
		slog.Int("line_number", rec.LineNumber),
		slog.String("reason", reason),
	)
	return &ConversionError{Record: rec, Reason: reason, Err: cause}
}

// markFailed выполняет converting → failed и обновляет rec.
func (s *IngestService) markFailed(ctx context.Context, rec *model.FileRecord, reason string) {
	if err := s.files.MarkFailed(ctx, rec.ID, reason); err != nil {
		s.logger.Error("Ошибка перевода записи в failed",
			slog.Int64("id", rec.ID),
			slog.String("error", err.Error()),
		)
	} else {
		rec.Status = model.StatusFailed
		rec.FailureReason = &reason
	}
	*rec = *s.reload(ctx, rec)
}

// failRecord доводит запись, так и не дошедшую до конвертации, до failed.
// Ошибки хранилища повторяются до storeRetries раз.
func (s *IngestService) failRecord(rec *model.FileRecord, reason string) {
	ctx := context.Background()
	delay := storeRetryDelay

	for attempt := 1; ; attempt++ {
		err := s.tryFail(ctx, rec.ID, reason)
		if err == nil {
			break
		}
		// Запись уже в конечном статусе или удалена: повторять нечего
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Запись не переведена в failed",
				slog.Int64("id", rec.ID),
				slog.String("error", err.Error()),
			)
			*rec = *s.reload(ctx, rec)
			return
		}
		if attempt >= storeRetries {
			s.logger.Error("Не удалось перевести запись в failed",
				slog.Int64("id", rec.ID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return
		}
		time.Sleep(delay)
		delay *= 2
	}

	rec.Status = model.StatusFailed
	rec.FailureReason = &reason
	*rec = *s.reload(ctx, rec)
	s.logger.Warn("Запись переведена в failed без конвертации",
		slog.Int64("id", rec.ID),
		slog.String("reason", reason),
	)
}

// tryFail выполняет uploaded → converting → failed. Запись, уже
// находящаяся в converting, переводится сразу в failed.
func (s *IngestService) tryFail(ctx context.Context, id int64, reason string) error {
	if err := s.files.MarkConverting(ctx, id); err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		return err
	}
	return s.files.MarkFailed(ctx, id, reason)
}

// reload перечитывает запись; при ошибке возвращает rec как есть.
func (s *IngestService) reload(ctx context.Context, rec *model.FileRecord) *model.FileRecord {
	fresh, err := s.files.GetByID(ctx, rec.ID)
	if err != nil {
		return rec
	}
	return fresh
}

// failureReason формирует текст failure_reason из ошибки конвертера.
func failureReason(err error) string {
	var ce *converter.Error
	reason := err.Error()
	if errors.As(err, &ce) {
		reason = ce.Error()
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		reason = string([]rune(reason)[:maxReasonLength])
	}
	return reason
}
