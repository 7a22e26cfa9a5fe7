package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/svgconv/internal/converter"
	"github.com/bigkaa/svgconv/internal/database"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/repository"
	"github.com/bigkaa/svgconv/internal/repository/sqlitestore"
	"github.com/bigkaa/svgconv/internal/storage/filestore"
	"github.com/bigkaa/svgconv/internal/storage/placement"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"/>`

// testEnv — SQLite + FileStore во временном каталоге.
type testEnv struct {
	files  repository.FileRepository
	merged repository.MergedFileRepository
	store  *filestore.FileStore
	logger *slog.Logger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestEnv создаёт тестовое окружение сервисного слоя.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()
	dbPath := filepath.Join(dir, "test.db")

	if err := database.MigrateSQLite(dbPath, logger); err != nil {
		t.Fatalf("Ошибка миграции SQLite: %v", err)
	}
	db, err := database.OpenSQLite(context.Background(), dbPath, logger)
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := filestore.New(filepath.Join(dir, "files"), placement.Dirs...)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}

	return &testEnv{
		files:  sqlitestore.NewFileRepository(db),
		merged: sqlitestore.NewMergedFileRepository(db),
		store:  store,
		logger: logger,
	}
}

func (e *testEnv) ingestService(t *testing.T, conv converter.Converter, cfg IngestConfig) *IngestService {
	t.Helper()
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1 << 20
	}
	if cfg.ConversionTimeout == 0 {
		cfg.ConversionTimeout = 5 * time.Second
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	svc := NewIngestService(e.files, e.store, conv, cfg, e.logger)
	t.Cleanup(svc.Stop)
	return svc
}

func (e *testEnv) queryService(cache *CacheService) *QueryService {
	return NewQueryService(e.files, e.store, cache, 100, e.logger)
}

// fakePDF — детерминированный «конвертер»: PDF-заголовок + вход.
func fakePDF() converter.Converter {
	return converter.Func(func(_ context.Context, svg []byte) ([]byte, error) {
		return append([]byte("%PDF-1.4 fake\n"), svg...), nil
	})
}

// staticPDF — конвертер, всегда возвращающий pdf.
func staticPDF(pdf []byte) converter.Converter {
	return converter.Func(func(context.Context, []byte) ([]byte, error) {
		return pdf, nil
	})
}

// blockingPDF — как fakePDF, но ждёт закрытия release.
func blockingPDF(release <-chan struct{}) converter.Converter {
	return converter.Func(func(_ context.Context, svg []byte) ([]byte, error) {
		<-release
		return append([]byte("%PDF-1.4 fake\n"), svg...), nil
	})
}

// failing — конвертер, всегда завершающийся ошибкой.
func failing() converter.Converter {
	return converter.Func(func(context.Context, []byte) ([]byte, error) {
		return nil, &converter.Error{Reason: "конвертер завершился с ошибкой: exit status 1", Stderr: "bad svg"}
	})
}

func params(order, line int, content string) IngestParams {
	return IngestParams{
		OrderNumber: order,
		LineNumber:  line,
		Filename:    "drawing.svg",
		Content:     strings.NewReader(content),
	}
}

// minimalPDF собирает корректный одностраничный PDF с таблицей xref.
func minimalPDF() []byte {
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objs))
	for i, o := range objs {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

// waitStatus ждёт, пока запись перейдёт в статус want.
func waitStatus(t *testing.T, files repository.FileRepository, order, line int, want model.FileStatus) *model.FileRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := files.GetByIdentity(context.Background(), order, line)
		if err == nil && rec.Status == want {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("запись %d/%d не перешла в %s: %+v, %v", order, line, want, rec, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// tmpFiles возвращает временные файлы каталога.
func tmpFiles(t *testing.T, store *filestore.FileStore, dir string) []string {
	t.Helper()
	entries, err := store.ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles(%s): %v", dir, err)
	}
	var tmp []string
	for _, e := range entries {
		if strings.HasSuffix(e.StoragePath, filestore.TmpSuffix) {
			tmp = append(tmp, e.StoragePath)
		}
	}
	return tmp
}
