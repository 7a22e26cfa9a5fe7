// janitor.go — очистка файлов, на которые не ссылается ни одна запись.
//
// Обнаруживает:
//   - orphaned_file: файл в uploads/, converted/ или merged/ без записи
//     (загрузка прервана между публикацией файла и созданием записи)
//   - stale_tmp: временный файл прерванной записи
//
// Учитываются только файлы старше MinAge: более свежие могут принадлежать
// загрузке, которая ещё не успела создать запись.
//
// Кандидат на удаление сначала переименовывается во временное имя, затем
// проверяется повторно: если под финальным именем успел оказаться другой
// файл или на путь появилась ссылка, файл возвращается на место.
//
// Verify сверяет записи в конечном статусе с файлами на диске
// (missing_file, size_mismatch, checksum_mismatch) и ничего не удаляет.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
)

// Типы находок janitor.
const (
	IssueOrphanedFile     = "orphaned_file"
	IssueStaleTmp         = "stale_tmp"
	IssueMissingFile      = "missing_file"
	IssueSizeMismatch     = "size_mismatch"
	IssueChecksumMismatch = "checksum_mismatch"
)

// verifyBatch — размер страницы записей при Verify.
const verifyBatch = 500

var janitorIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cv_janitor_issues_total",
	Help: "Общее количество файлов, найденных janitor, по типу",
}, []string{"type"})

// JanitorIssue — находка janitor: лишний файл или расхождение записи с диском.
type JanitorIssue struct {
	Type    string    `json:"type" yaml:"type"`
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	Removed bool      `json:"removed" yaml:"removed"`
}

// JanitorResult — результат одного запуска.
type JanitorResult struct {
	Issues  []JanitorIssue `json:"issues" yaml:"issues"`
	Scanned int            `json:"scanned" yaml:"scanned"`
	Removed int            `json:"removed" yaml:"removed"`
	Errors  int            `json:"errors" yaml:"errors"`
	DryRun  bool           `json:"dry_run" yaml:"dry_run"`
}

// JanitorService — очистка файлов-сирот.
type JanitorService struct {
	files  repository.FileRepository
	store  *filestore.FileStore
	minAge time.Duration
	logger *slog.Logger

	mu sync.Mutex
}

// NewJanitorService создаёт janitor.
func NewJanitorService(
	files repository.FileRepository,
	store *filestore.FileStore,
	minAge time.Duration,
	logger *slog.Logger,
) *JanitorService {
	return &JanitorService{
		files:  files,
		store:  store,
		minAge: minAge,
		logger: logger.With(slog.String("component", "janitor")),
	}
}

// RunOnce обходит каталоги артефактов. При dryRun файлы не удаляются.
func (j *JanitorService) RunOnce(ctx context.Context, dryRun bool) (*JanitorResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := &JanitorResult{Issues: []JanitorIssue{}, DryRun: dryRun}
	cutoff := time.Now().Add(-j.minAge)

	for _, dir := range placement.Dirs {
		entries, err := j.store.ListFiles(dir)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result.Scanned++
			if e.ModTime.After(cutoff) {
				continue
			}

			issue := IssueStaleTmp
			if !strings.HasSuffix(e.StoragePath, filestore.TmpSuffix) {
				referenced, err := j.files.IsPathReferenced(ctx, e.StoragePath)
				if err != nil {
					return nil, mapStoreError(err)
				}
				if referenced {
					continue
				}
				issue = IssueOrphanedFile
			}

			found := JanitorIssue{Type: issue, Path: e.StoragePath, Size: e.Size, ModTime: e.ModTime}

			if !dryRun {
				var (
					removed bool
					err     error
				)
				if issue == IssueStaleTmp {
					err = j.store.DeleteFile(e.StoragePath)
					removed = err == nil
				} else {
					removed, err = j.removeOrphan(ctx, e)
				}
				if err != nil {
					j.logger.Error("Janitor: ошибка удаления файла",
						slog.String("path", e.StoragePath),
						slog.String("error", err.Error()),
					)
					result.Errors++
				}
				if !removed && err == nil {
					// Файл оказался нужен: это не находка
					continue
				}
				if removed {
					found.Removed = true
					result.Removed++
				}
			}
			janitorIssuesTotal.WithLabelValues(issue).Inc()
			result.Issues = append(result.Issues, found)
		}
	}

	j.logger.Info("Janitor завершён",
		slog.Int("scanned", result.Scanned),
		slog.Int("issues", len(result.Issues)),
		slog.Int("removed", result.Removed),
		slog.Bool("dry_run", dryRun),
	)
	return result, nil
}

// removeOrphan удаляет файл-сироту. Между проверкой ссылки и удалением
// под тем же именем может опубликовать файл загрузка той же строки,
// поэтому файл сначала убирается в карантин и проверяется повторно.
// removed=false, err=nil — файл оставлен на месте.
func (j *JanitorService) removeOrphan(ctx context.Context, e filestore.FileInfo) (bool, error) {
	q, err := j.store.Quarantine(e.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	// Под финальным именем мог оказаться уже другой файл
	if e.Stat == nil || !os.SameFile(e.Stat, q.Stat) || q.Stat.ModTime().After(e.ModTime) {
		j.logger.Info("Janitor: файл заменён после обхода, оставлен на месте",
			slog.String("path", e.StoragePath),
		)
		return false, j.restore(q)
	}

	referenced, err := j.files.IsPathReferenced(ctx, e.StoragePath)
	if err != nil {
		if restoreErr := j.restore(q); restoreErr != nil {
			return false, restoreErr
		}
		return false, mapStoreError(err)
	}
	if referenced {
		j.logger.Info("Janitor: на файл появилась ссылка, оставлен на месте",
			slog.String("path", e.StoragePath),
		)
		return false, j.restore(q)
	}

	if err := j.store.Purge(q); err != nil {
		return false, err
	}
	return true, nil
}

// restore возвращает файл из карантина. Если имя уже занято, под ним
// лежит файл владельца записи, а файл из карантина не нужен.
func (j *JanitorService) restore(q *filestore.Quarantined) error {
	err := j.store.Restore(q)
	if errors.Is(err, filestore.ErrExists) {
		return j.store.Purge(q)
	}
	return err
}

// Verify сверяет записи converted и failed с файлами на диске.
// Записи в uploaded и converting пропускаются: их файлы ещё пишутся.
func (j *JanitorService) Verify(ctx context.Context) (*JanitorResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := &JanitorResult{Issues: []JanitorIssue{}, DryRun: true}

	for offset := 0; ; offset += verifyBatch {
		recs, _, err := j.files.List(ctx, verifyBatch, offset)
		if err != nil {
			return nil, mapStoreError(err)
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !rec.Status.IsTerminal() {
				continue
			}
			result.Scanned++
			if issue, ok := j.verifySource(rec.SourcePath, rec.FileSize, rec.Checksum); ok {
				result.Issues = append(result.Issues, issue)
			}
			if rec.DerivedPath != nil && !j.store.FileExists(*rec.DerivedPath) {
				result.Issues = append(result.Issues, JanitorIssue{Type: IssueMissingFile, Path: *rec.DerivedPath})
			}
		}
		if len(recs) < verifyBatch {
			break
		}
	}

	for _, issue := range result.Issues {
		janitorIssuesTotal.WithLabelValues(issue.Type).Inc()
	}
	j.logger.Info("Janitor: сверка завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int("issues", len(result.Issues)),
	)
	return result, nil
}

// verifySource проверяет наличие, размер и checksum исходного файла.
func (j *JanitorService) verifySource(path string, size int64, checksum string) (JanitorIssue, bool) {
	if !j.store.FileExists(path) {
		return JanitorIssue{Type: IssueMissingFile, Path: path}, true
	}

	actualSize, err := j.store.FileSize(path)
	if err != nil {
		j.logger.Warn("Ошибка получения размера файла",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return JanitorIssue{}, false
	}
	if actualSize != size {
		// Если размер не совпадает, checksum точно не совпадёт
		return JanitorIssue{Type: IssueSizeMismatch, Path: path, Size: actualSize}, true
	}

	actual, err := j.store.ComputeChecksum(path)
	if err != nil {
		j.logger.Warn("Ошибка вычисления checksum",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return JanitorIssue{}, false
	}
	if actual != checksum {
		return JanitorIssue{Type: IssueChecksumMismatch, Path: path, Size: actualSize}, true
	}
	return JanitorIssue{}, false
}
