// Пакет filestore — операции с физическими файлами на диске.
// Обеспечивает атомарную запись (temp файл → fsync → link/rename)
// с подсчётом SHA-256 на лету, чтение, удаление и обход каталогов.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TmpSuffix — суффикс временных файлов. Файлы с этим суффиксом
// никогда не бывают видны под финальным именем.
const TmpSuffix = ".tmp"

// ErrExists — финальный путь уже занят (при Commit без замены).
var ErrExists = errors.New("файл уже существует")

// ErrNotFound — файл отсутствует на диске.
var ErrNotFound = errors.New("файл не найден")

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (CV_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// Staged — полностью записанный и синхронизированный temp файл,
// ещё не опубликованный под финальным именем.
type Staged struct {
	SaveResult
	// TmpPath — абсолютный путь temp файла
	TmpPath string
}

// FileInfo — информация о файле при обходе каталога.
type FileInfo struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	Size        int64
	ModTime     time.Time
	// Stat — сведения о файле на момент обхода (для os.SameFile)
	Stat os.FileInfo
}

// Quarantined — файл, убранный из-под финального имени во временное.
// Под временным именем файл не виден читателям и писателям финального пути.
type Quarantined struct {
	// StoragePath — исходный относительный путь файла
	StoragePath string
	// FullPath — исходный абсолютный путь
	FullPath string
	// TmpPath — абсолютный путь, под которым файл лежит сейчас
	TmpPath string
	// Stat — сведения о перемещённом файле
	Stat os.FileInfo
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует. subdirs создаются внутри dataDir.
func New(dataDir string, subdirs ...string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	for _, d := range subdirs {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", d, err)
		}
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Stage записывает данные из reader во временный файл рядом с финальным путём.
// Имя temp файла уникально для каждого вызова, поэтому параллельные
// писатели одного storagePath не мешают друг другу.
//
// Паттерн: temp файл → запись + SHA-256 → fsync. При ошибке temp файл удаляется.
func (fs *FileStore) Stage(reader io.Reader, storagePath string) (*Staged, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	tmpPath := tempName(fullPath)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &Staged{
		SaveResult: SaveResult{
			StoragePath: storagePath,
			FullPath:    fullPath,
			Size:        size,
			Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		},
		TmpPath: tmpPath,
	}, nil
}

// StageWith создаёт temp файл через внешнюю функцию write (например,
// библиотеку, которая умеет писать только по пути), затем fsync
// и подсчёт SHA-256. write получает абсолютный путь temp файла.
func (fs *FileStore) StageWith(storagePath string, write func(tmpPath string) error) (*Staged, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	tmpPath := tempName(fullPath)

	if err := write(tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка открытия временного файла: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка вычисления checksum: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	return &Staged{
		SaveResult: SaveResult{
			StoragePath: storagePath,
			FullPath:    fullPath,
			Size:        size,
			Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		},
		TmpPath: tmpPath,
	}, nil
}

// Commit публикует temp файл под финальным именем.
//
// replace=false — публикация через hard link: если финальное имя занято,
// возвращается ErrExists, существующий файл не изменяется, temp файл
// остаётся (его можно опубликовать позже с replace=true или удалить Discard).
// replace=true — атомарный rename поверх существующего файла.
func (fs *FileStore) Commit(st *Staged, replace bool) error {
	if replace {
		if err := os.Rename(st.TmpPath, st.FullPath); err != nil {
			return fmt.Errorf("ошибка атомарного переименования: %w", err)
		}
		return nil
	}

	if err := os.Link(st.TmpPath, st.FullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("ошибка публикации файла: %w", err)
	}
	// Финальное имя уже указывает на данные, temp ссылка больше не нужна
	_ = os.Remove(st.TmpPath)
	return nil
}

// Discard удаляет неопубликованный temp файл. Финальный путь не трогает.
func (fs *FileStore) Discard(st *Staged) {
	if st == nil {
		return
	}
	_ = os.Remove(st.TmpPath)
}

// SaveFile записывает данные атомарно с заменой существующего файла.
func (fs *FileStore) SaveFile(reader io.Reader, storagePath string) (*SaveResult, error) {
	st, err := fs.Stage(reader, storagePath)
	if err != nil {
		return nil, err
	}
	if err := fs.Commit(st, true); err != nil {
		fs.Discard(st)
		return nil, err
	}
	return &st.SaveResult, nil
}

// ReadFile открывает файл для чтения.
// storagePath — относительный путь файла в dataDir.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) ReadFile(storagePath string) (*os.File, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	return filepath.Join(fs.dataDir, filepath.FromSlash(storagePath))
}

// DeleteFile удаляет файл с диска.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) DeleteFile(storagePath string) error {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Quarantine атомарно переименовывает файл во временное имя в том же
// каталоге. ErrNotFound — файла под storagePath уже нет.
func (fs *FileStore) Quarantine(storagePath string) (*Quarantined, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	tmpPath := tempName(fullPath)

	if err := os.Rename(fullPath, tmpPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка переименования %s: %w", storagePath, err)
	}

	info, err := os.Lstat(tmpPath)
	if err != nil {
		// Файл уже убран из-под финального имени: возвращаем как есть
		_ = os.Rename(tmpPath, fullPath)
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return &Quarantined{StoragePath: storagePath, FullPath: fullPath, TmpPath: tmpPath, Stat: info}, nil
}

// Restore возвращает файл под исходное имя без перезаписи.
// ErrExists — имя уже занято другим файлом; временный файл остаётся.
func (fs *FileStore) Restore(q *Quarantined) error {
	if err := os.Link(q.TmpPath, q.FullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("ошибка восстановления файла %s: %w", q.StoragePath, err)
	}
	_ = os.Remove(q.TmpPath)
	return nil
}

// Purge удаляет файл, убранный в карантин.
func (fs *FileStore) Purge(q *Quarantined) error {
	if err := os.Remove(q.TmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", q.StoragePath, err)
	}
	return nil
}

// FileExists проверяет существование файла на диске.
func (fs *FileStore) FileExists(storagePath string) bool {
	_, err := os.Stat(fs.FullPath(storagePath))
	return err == nil
}

// FileSize возвращает размер файла на диске.
func (fs *FileStore) FileSize(storagePath string) (int64, error) {
	info, err := os.Stat(fs.FullPath(storagePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего файла.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := os.Open(fs.FullPath(storagePath))
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ListFiles возвращает обычные файлы каталога dir (без рекурсии),
// включая temp файлы. Пути — относительно dataDir, через "/".
func (fs *FileStore) ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(fs.FullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", dir, err)
	}

	result := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, FileInfo{
			StoragePath: filepath.ToSlash(filepath.Join(dir, e.Name())),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Stat:        info,
		})
	}
	return result, nil
}

// resolve превращает относительный путь в абсолютный и не даёт выйти за dataDir.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("недопустимый путь хранения: %q", storagePath)
	}
	return filepath.Join(fs.dataDir, clean), nil
}

// tempName возвращает уникальное имя temp файла в том же каталоге.
func tempName(fullPath string) string {
	return fullPath + "." + uuid.New().String()[:8] + TmpSuffix
}
