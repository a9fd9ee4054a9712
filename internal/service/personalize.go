// personalize.go — генерация персонализированного архива конфигурации.
//
// Эталонный архив .orca_printer (zip с JSON-профилями принтера,
// филамента и процесса печати) распаковывается в scratch-директорию
// по uuid, профили переписываются под конкретного submitter-а,
// результат упаковывается обратно и публикуется атомарно (rename).
package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
	"github.com/VT-CRO/Workcell-Queue/internal/repository"
)

// Prometheus метрики персонализации
var (
	// personalizeRunsTotal — количество запусков персонализации по статусам.
	personalizeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pq_personalize_runs_total",
		Help: "Общее количество запусков персонализации архива",
	}, []string{"status"})

	// personalizeDurationSeconds — длительность персонализации.
	personalizeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pq_personalize_duration_seconds",
		Help:    "Длительность персонализации архива в секундах",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// authorPlaceholder — маркер в machine_end_gcode эталонного профиля,
// заменяемый на identity submitter-а.
const authorPlaceholder = "AUTHOR=CHANGE_ME"

// PersonalizeResult — результат персонализации.
type PersonalizeResult struct {
	// Archive — открытый готовый архив. Вызывающий код обязан закрыть.
	Archive *os.File
	// Filename — предлагаемое имя файла для клиента.
	Filename string
	// Size — размер архива в байтах.
	Size int64
}

// PersonalizeService — сервис генерации персонализированных архивов.
type PersonalizeService struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	profileRepo repository.ProfileRepository
	logger      *slog.Logger

	// locks — по одному mutex на uuid: повторный запуск для того же
	// submitter-а сериализуется, разные uuid работают параллельно.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPersonalizeService создаёт сервис персонализации.
func NewPersonalizeService(
	cfg *config.Config,
	pool *pgxpool.Pool,
	profileRepo repository.ProfileRepository,
	logger *slog.Logger,
) *PersonalizeService {
	return &PersonalizeService{
		cfg:         cfg,
		pool:        pool,
		profileRepo: profileRepo,
		logger:      logger.With(slog.String("component", "personalize_service")),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Personalize генерирует персонализированный архив для профиля.
//
// Поток:
//  1. Проверка наличия эталонного архива (ошибка оператора, не пользователя)
//  2. Очистка scratch-директории и прежнего вывода для этого uuid
//  3. Распаковка эталона в scratch по uuid
//  4. Правка профиля принтера: print_host с uuid, сброс inherits,
//     профили по умолчанию, подстановка автора, маркер версии
//  5. Правка профилей филамента (совместимость) и процесса (brim)
//  6. Упаковка и атомарная публикация (temp → rename)
//  7. Отметка версии конфигурации профиля как актуальной
//
// Неудачный запуск не публикует частичный архив: scratch остаётся
// и зачищается следующим запуском.
func (s *PersonalizeService) Personalize(ctx context.Context, profile *model.Profile) (*PersonalizeResult, error) {
	lock := s.lockFor(profile.UUID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	if _, err := os.Stat(s.cfg.TemplatePath); err != nil {
		personalizeRunsTotal.WithLabelValues("template_missing").Inc()
		s.logger.Error("Эталонный архив конфигурации не найден",
			slog.String("path", s.cfg.TemplatePath),
		)
		return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, s.cfg.TemplatePath)
	}

	workspace := filepath.Join(s.cfg.WorkDir, profile.UUID)
	outputPath := filepath.Join(s.cfg.OutputDir, profile.UUID+".orca_printer")

	// Идемпотентный повторный запуск: прежние scratch и вывод зачищаются
	if err := os.RemoveAll(workspace); err != nil {
		return nil, fmt.Errorf("ошибка очистки scratch-директории: %w", err)
	}
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка удаления прежнего архива: %w", err)
	}

	if err := unzipArchive(s.cfg.TemplatePath, workspace); err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка распаковки эталонного архива: %w", err)
	}

	if err := s.editPrinterProfile(workspace, profile); err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := s.editProfileDir(workspace, "filament", func(doc map[string]any) {
		doc["compatible_printers"] = s.cfg.MachineName
	}); err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := s.editProfileDir(workspace, "process", func(doc map[string]any) {
		doc["brim_type"] = "no_brim"
	}); err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Публикация только после полной упаковки: temp → rename
	tmpPath := outputPath + ".tmp"
	if err := zipDirectory(workspace, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка упаковки архива: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка публикации архива: %w", err)
	}

	// Версия конфигурации профиля актуальна: version gate загрузок
	// пропускает файлы, порезанные этой конфигурацией
	if err := s.profileRepo.SetConfigVersion(ctx, s.pool, profile.UUID, s.cfg.ConfigVersion); err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	f, err := os.Open(outputPath)
	if err != nil {
		personalizeRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка открытия готового архива: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ошибка чтения атрибутов архива: %w", err)
	}

	personalizeRunsTotal.WithLabelValues("success").Inc()
	personalizeDurationSeconds.Observe(time.Since(start).Seconds())

	s.logger.Info("Персонализированный архив сгенерирован",
		slog.String("uuid", profile.UUID),
		slog.String("identity", profile.Identity),
		slog.Int64("size", info.Size()),
		slog.Duration("duration", time.Since(start)),
	)

	return &PersonalizeResult{
		Archive:  f,
		Filename: fmt.Sprintf("%s-%s.orca_printer", s.cfg.MachineName, profile.DisplayName),
		Size:     info.Size(),
	}, nil
}

// lockFor возвращает mutex для uuid, создавая при первом обращении.
func (s *PersonalizeService) lockFor(uuid string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[uuid]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[uuid] = lock
	return lock
}

// editPrinterProfile переписывает профиль принтера под submitter-а.
func (s *PersonalizeService) editPrinterProfile(workspace string, profile *model.Profile) error {
	path := filepath.Join(workspace, "printer", s.cfg.MachineName+".json")

	doc, err := readJSONDoc(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: в архиве нет профиля принтера %s",
				ErrValidation, s.cfg.MachineName+".json")
		}
		return err
	}

	// Endpoint устройства: задания с принтера маршрутизируются
	// обратно через этот сервис по uuid submitter-а
	doc["print_host"] = fmt.Sprintf("%s/api/%s", s.cfg.PublicURL, profile.UUID)
	// Сброс наследования: дальнейшие правки не должны
	// молча перекрываться родительским профилем
	doc["inherits"] = ""
	doc["default_filament_profile"] = s.cfg.DefaultFilamentProfile
	doc["default_print_profile"] = s.cfg.DefaultProcessProfile

	if endGcode, ok := doc["machine_end_gcode"].(string); ok {
		doc["machine_end_gcode"] = strings.Replace(endGcode,
			authorPlaceholder, "AUTHOR="+profile.Identity, 1)
	}

	// Маркер версии в начале G-code: version gate при загрузке
	// сверяет его с текущей ожидаемой версией
	marker := fmt.Sprintf("; VERSION: %s\n", s.cfg.ConfigVersion)
	if startGcode, ok := doc["machine_start_gcode"].(string); ok {
		doc["machine_start_gcode"] = marker + startGcode
	} else {
		doc["machine_start_gcode"] = marker
	}

	return writeJSONDoc(path, doc)
}

// editProfileDir применяет правку ко всем JSON-профилям поддиректории.
// Отсутствие поддиректории — допустимо: схема архива зависит
// от ревизии слайсера.
func (s *PersonalizeService) editProfileDir(workspace, subdir string, edit func(map[string]any)) error {
	dir := filepath.Join(workspace, subdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ошибка чтения директории %s: %w", subdir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, err := readJSONDoc(path)
		if err != nil {
			return err
		}
		edit(doc)
		if err := writeJSONDoc(path, doc); err != nil {
			return err
		}
	}
	return nil
}

// readJSONDoc читает JSON-профиль в map с сохранением всех полей.
func readJSONDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка чтения профиля %s: %w", filepath.Base(path), err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: профиль %s не является валидным JSON",
			ErrValidation, filepath.Base(path))
	}
	return doc, nil
}

// writeJSONDoc записывает JSON-профиль обратно на диск.
func writeJSONDoc(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации профиля %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи профиля %s: %w", filepath.Base(path), err)
	}
	return nil
}

// unzipArchive распаковывает zip-архив в директорию dest.
// Пути записей проверяются на выход за пределы dest (zip slip).
func unzipArchive(src, dest string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("ошибка открытия архива %s: %w", src, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dest, err)
	}

	for _, file := range reader.File {
		target := filepath.Join(dest, filepath.Clean(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("недопустимый путь в архиве: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("ошибка создания директории %s: %w", file.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("ошибка создания директории для %s: %w", file.Name, err)
		}
		if err := extractZipFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

// extractZipFile записывает одну запись архива на диск.
func extractZipFile(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("ошибка чтения записи %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания файла %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("ошибка распаковки %s: %w", file.Name, err)
	}
	return nil
}

// zipDirectory упаковывает содержимое директории в zip-архив.
// Пути внутри архива — относительные, с прямыми слэшами.
func zipDirectory(srcDir, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("ошибка создания архива %s: %w", outPath, err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)

	err = filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		entry, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("ошибка создания записи %s: %w", rel, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("ошибка открытия файла %s: %w", rel, err)
		}
		defer f.Close()

		if _, err := io.Copy(entry, f); err != nil {
			return fmt.Errorf("ошибка записи %s в архив: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		writer.Close()
		return err
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("ошибка финализации архива: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync архива: %w", err)
	}
	return nil
}
