package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(t.TempDir(), "uploads", "converted")
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return fs
}

// TestNew_CreatesDirectories проверяет создание директории данных и подкаталогов.
func TestNew_CreatesDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir, "uploads", "merged")
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	if got := fs.FullPath("uploads/a.svg"); got != filepath.Join(dir, "uploads", "a.svg") {
		t.Errorf("FullPath = %s", got)
	}

	for _, sub := range []string{"uploads", "merged"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Fatalf("директория %s не создана: %v", sub, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s не является директорией", sub)
		}
	}
}

// TestSaveFile проверяет сохранение файла с подсчётом SHA-256.
func TestSaveFile(t *testing.T) {
	fs := newStore(t)

	content := []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>")
	result, err := fs.SaveFile(bytes.NewReader(content), "uploads/123456_1_a.svg")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if result.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), result.Size)
	}

	expectedHash := sha256.Sum256(content)
	if result.Checksum != hex.EncodeToString(expectedHash[:]) {
		t.Errorf("checksum не совпадает: %s", result.Checksum)
	}

	data, err := os.ReadFile(result.FullPath)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}

	// Temp файлы не должны оставаться
	files, _ := fs.ListFiles("uploads")
	for _, f := range files {
		if strings.HasSuffix(f.StoragePath, TmpSuffix) {
			t.Errorf("остался temp файл: %s", f.StoragePath)
		}
	}
}

// TestSaveFile_Replace проверяет замену существующего файла.
func TestSaveFile_Replace(t *testing.T) {
	fs := newStore(t)

	if _, err := fs.SaveFile(strings.NewReader("old"), "converted/a.pdf"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if _, err := fs.SaveFile(strings.NewReader("new"), "converted/a.pdf"); err != nil {
		t.Fatalf("ошибка повторного сохранения: %v", err)
	}

	data, _ := os.ReadFile(fs.FullPath("converted/a.pdf"))
	if string(data) != "new" {
		t.Errorf("ожидалось new, получено %q", data)
	}
}

// TestCommit_NoClobber проверяет, что публикация без замены
// не трогает существующий файл.
func TestCommit_NoClobber(t *testing.T) {
	fs := newStore(t)

	first, err := fs.Stage(strings.NewReader("winner"), "uploads/x.svg")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	second, err := fs.Stage(strings.NewReader("loser"), "uploads/x.svg")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if first.TmpPath == second.TmpPath {
		t.Fatal("temp пути параллельных писателей совпадают")
	}

	if err := fs.Commit(first, false); err != nil {
		t.Fatalf("Commit первого: %v", err)
	}
	if err := fs.Commit(second, false); !errors.Is(err, ErrExists) {
		t.Fatalf("ожидалась ErrExists, получена %v", err)
	}
	fs.Discard(second)

	data, _ := os.ReadFile(fs.FullPath("uploads/x.svg"))
	if string(data) != "winner" {
		t.Errorf("файл перезаписан: %q", data)
	}
	if _, err := os.Stat(second.TmpPath); !os.IsNotExist(err) {
		t.Error("temp файл проигравшего не удалён")
	}
	if _, err := os.Stat(first.TmpPath); !os.IsNotExist(err) {
		t.Error("temp файл после Commit не удалён")
	}
}

// TestCommit_ReplaceAfterConflict проверяет публикацию поверх сироты.
func TestCommit_ReplaceAfterConflict(t *testing.T) {
	fs := newStore(t)

	if _, err := fs.SaveFile(strings.NewReader("orphan"), "uploads/y.svg"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	st, err := fs.Stage(strings.NewReader("fresh"), "uploads/y.svg")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := fs.Commit(st, false); !errors.Is(err, ErrExists) {
		t.Fatalf("ожидалась ErrExists, получена %v", err)
	}
	if err := fs.Commit(st, true); err != nil {
		t.Fatalf("Commit с заменой: %v", err)
	}

	data, _ := os.ReadFile(fs.FullPath("uploads/y.svg"))
	if string(data) != "fresh" {
		t.Errorf("ожидалось fresh, получено %q", data)
	}
}

// TestStageWith проверяет запись через внешнюю функцию.
func TestStageWith(t *testing.T) {
	fs := newStore(t)

	st, err := fs.StageWith("converted/m.pdf", func(tmp string) error {
		return os.WriteFile(tmp, []byte("%PDF-1.7"), 0o640)
	})
	if err != nil {
		t.Fatalf("StageWith: %v", err)
	}
	if st.Size != 8 {
		t.Errorf("размер: ожидалось 8, получено %d", st.Size)
	}
	if err := fs.Commit(st, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !fs.FileExists("converted/m.pdf") {
		t.Error("файл не опубликован")
	}
}

// TestStageWith_Error проверяет удаление temp файла при ошибке записи.
func TestStageWith_Error(t *testing.T) {
	fs := newStore(t)
	var tmpPath string

	_, err := fs.StageWith("converted/e.pdf", func(tmp string) error {
		tmpPath = tmp
		_ = os.WriteFile(tmp, []byte("partial"), 0o640)
		return errors.New("сбой")
	})
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Error("temp файл не удалён после ошибки")
	}
}

// TestReadFile проверяет чтение сохранённого файла.
func TestReadFile(t *testing.T) {
	fs := newStore(t)
	content := []byte("данные")

	if _, err := fs.SaveFile(bytes.NewReader(content), "uploads/r.svg"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	f, err := fs.ReadFile("uploads/r.svg")
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer f.Close()

	data, _ := io.ReadAll(f)
	if !bytes.Equal(data, content) {
		t.Error("прочитанные данные не совпадают")
	}
}

// TestReadFile_NotFound проверяет ошибку для отсутствующего файла.
func TestReadFile_NotFound(t *testing.T) {
	fs := newStore(t)

	_, err := fs.ReadFile("uploads/missing.svg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получена %v", err)
	}
}

// TestResolve_RejectsEscape проверяет запрет выхода за dataDir.
func TestResolve_RejectsEscape(t *testing.T) {
	fs := newStore(t)

	for _, p := range []string{"../x.svg", "/etc/passwd", ".", "uploads/../../x"} {
		if _, err := fs.Stage(strings.NewReader("x"), p); err == nil {
			t.Errorf("путь %q должен быть отклонён", p)
		}
	}
}

// TestDeleteFile проверяет удаление, в том числе повторное.
func TestDeleteFile(t *testing.T) {
	fs := newStore(t)

	if _, err := fs.SaveFile(strings.NewReader("x"), "uploads/d.svg"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if err := fs.DeleteFile("uploads/d.svg"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if fs.FileExists("uploads/d.svg") {
		t.Error("файл всё ещё существует")
	}
	if err := fs.DeleteFile("uploads/d.svg"); err != nil {
		t.Errorf("повторное удаление должно быть успешным: %v", err)
	}
}

// TestComputeChecksum проверяет подсчёт SHA-256 и размера.
func TestComputeChecksum(t *testing.T) {
	fs := newStore(t)
	content := []byte("checksum data")

	result, err := fs.SaveFile(bytes.NewReader(content), "uploads/c.svg")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	sum, err := fs.ComputeChecksum("uploads/c.svg")
	if err != nil {
		t.Fatalf("ошибка вычисления: %v", err)
	}
	if sum != result.Checksum {
		t.Errorf("checksum: ожидалось %s, получено %s", result.Checksum, sum)
	}

	size, err := fs.FileSize("uploads/c.svg")
	if err != nil || size != int64(len(content)) {
		t.Errorf("FileSize = %d, %v", size, err)
	}
}

// TestListFiles проверяет обход каталога.
func TestListFiles(t *testing.T) {
	fs := newStore(t)

	for _, name := range []string{"a.svg", "b.svg"} {
		if _, err := fs.SaveFile(strings.NewReader(name), "uploads/"+name); err != nil {
			t.Fatalf("ошибка сохранения: %v", err)
		}
	}

	files, err := fs.ListFiles("uploads")
	if err != nil {
		t.Fatalf("ошибка обхода: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ожидалось 2 файла, получено %d", len(files))
	}
	for _, f := range files {
		if !strings.HasPrefix(f.StoragePath, "uploads/") {
			t.Errorf("путь без каталога: %s", f.StoragePath)
		}
	}

	missing, err := fs.ListFiles("nope")
	if err != nil || missing != nil {
		t.Errorf("отсутствующий каталог: %v, %v", missing, err)
	}
}

func TestQuarantineRestorePurge(t *testing.T) {
	fs := newStore(t)

	if _, err := fs.SaveFile(strings.NewReader("orphan"), "uploads/a.svg"); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	entries, err := fs.ListFiles("uploads")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListFiles = %v, %v", entries, err)
	}

	q, err := fs.Quarantine("uploads/a.svg")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if fs.FileExists("uploads/a.svg") {
		t.Error("файл остался под финальным именем")
	}
	if !strings.HasSuffix(q.TmpPath, TmpSuffix) {
		t.Errorf("временное имя без суффикса: %s", q.TmpPath)
	}
	if !os.SameFile(entries[0].Stat, q.Stat) {
		t.Error("в карантине другой файл")
	}

	if err := fs.Restore(q); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !fs.FileExists("uploads/a.svg") {
		t.Error("файл не восстановлен")
	}

	// Восстановление не перезаписывает занятое имя
	q, err = fs.Quarantine("uploads/a.svg")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := fs.SaveFile(strings.NewReader("owner"), "uploads/a.svg"); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if err := fs.Restore(q); !errors.Is(err, ErrExists) {
		t.Fatalf("Restore поверх занятого имени: ожидалась ErrExists, получена %v", err)
	}
	data, _ := os.ReadFile(fs.FullPath("uploads/a.svg"))
	if string(data) != "owner" {
		t.Errorf("содержимое перезаписано: %q", data)
	}

	if err := fs.Purge(q); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(q.TmpPath); !os.IsNotExist(err) {
		t.Error("файл карантина не удалён")
	}

	if _, err := fs.Quarantine("uploads/none.svg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("отсутствующий файл: ожидалась ErrNotFound, получена %v", err)
	}
}
