// Пакет uploadstore — операции с файлами заданий печати на диске.
// Обеспечивает streaming-запись принятых G-code файлов,
// чтение, удаление и обход директории для сборки мусора.
package uploadstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store — управление файлами заданий в директории данных.
type Store struct {
	// dataDir — корневая директория хранения файлов (PQ_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoredName — имя файла в dataDir (uuid + расширение оригинала)
	StoredName string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
}

// FileInfo — имя и возраст файла в dataDir (для сборки мусора).
type FileInfo struct {
	Name    string
	ModTime time.Time
}

// New создаёт Store. Создаёт директорию данных, если её нет.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Save записывает данные из reader на диск под новым uuid-именем,
// сохраняя расширение оригинального файла.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// Файл становится видимым под финальным именем только целиком.
func (s *Store) Save(reader io.Reader, originalFilename string) (*SaveResult, error) {
	storedName := uuid.New().String() + filepath.Ext(originalFilename)
	fullPath := filepath.Join(s.dataDir, storedName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
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

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoredName: storedName,
		FullPath:   fullPath,
		Size:       size,
	}, nil
}

// Open открывает файл задания для чтения.
// Вызывающий код обязан закрыть файл.
func (s *Store) Open(storedName string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dataDir, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storedName)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storedName, err)
	}
	return f, nil
}

// Delete удаляет файл задания с диска.
// Возвращает nil, если файла уже нет.
func (s *Store) Delete(storedName string) error {
	err := os.Remove(filepath.Join(s.dataDir, storedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storedName, err)
	}
	return nil
}

// Exists проверяет существование файла задания.
func (s *Store) Exists(storedName string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, storedName))
	return err == nil
}

// List возвращает файлы верхнего уровня dataDir с временем модификации.
// Временные файлы (*.tmp) включаются: для sweeper это тоже кандидаты.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	var result []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, FileInfo{Name: entry.Name(), ModTime: info.ModTime()})
	}
	return result, nil
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}
