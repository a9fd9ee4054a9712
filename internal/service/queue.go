// Пакет service — бизнес-логика Print Queue.
// queue.go — операции над очередью заданий печати.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
	"github.com/VT-CRO/Workcell-Queue/internal/gcode"
	"github.com/VT-CRO/Workcell-Queue/internal/repository"
	"github.com/VT-CRO/Workcell-Queue/internal/storage/uploadstore"
)

// Prometheus метрики очереди
var (
	// jobsEnqueuedTotal — количество принятых заданий.
	jobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pq_jobs_enqueued_total",
		Help: "Общее количество принятых заданий печати",
	})

	// jobsDequeuedTotal — количество заданий, выданных consumer-у.
	jobsDequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pq_jobs_dequeued_total",
		Help: "Общее количество заданий, выданных принтеру",
	})

	// jobsDeletedTotal — количество заданий, удалённых из очереди вручную.
	jobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pq_jobs_deleted_total",
		Help: "Общее количество заданий, удалённых владельцем или админом",
	})

	// uploadRejectsTotal — количество отклонённых загрузок по причинам.
	uploadRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pq_upload_rejects_total",
		Help: "Общее количество отклонённых загрузок",
	}, []string{"reason"})

	// queueDepth — текущая глубина очереди.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pq_queue_depth",
		Help: "Текущее количество заданий в очереди",
	})
)

// EnqueueParams — параметры загрузки задания.
type EnqueueParams struct {
	// Reader — поток данных G-code файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// SubmitterName — отображаемое имя отправителя
	SubmitterName string
	// SubmitterIdentity — федеративный identity отправителя (sub из JWT)
	SubmitterIdentity string
}

// QueueService — сервис очереди заданий печати.
type QueueService struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	runner      *repository.TxRunner
	queueRepo   repository.QueueRepository
	profileRepo repository.ProfileRepository
	store       *uploadstore.Store
	// thumbCache — LRU-кэш thumbnail по stored_name.
	// Файл задания immutable, инвалидация по содержимому не нужна.
	thumbCache *expirable.LRU[string, string]
	logger     *slog.Logger
}

// NewQueueService создаёт сервис очереди.
func NewQueueService(
	cfg *config.Config,
	pool *pgxpool.Pool,
	queueRepo repository.QueueRepository,
	profileRepo repository.ProfileRepository,
	store *uploadstore.Store,
	logger *slog.Logger,
) *QueueService {
	return &QueueService{
		cfg:         cfg,
		pool:        pool,
		runner:      repository.NewTxRunner(pool),
		queueRepo:   queueRepo,
		profileRepo: profileRepo,
		store:       store,
		thumbCache:  expirable.NewLRU[string, string](cfg.ThumbCacheSize, nil, cfg.ThumbCacheTTL),
		logger:      logger.With(slog.String("component", "queue_service")),
	}
}

// Enqueue принимает файл задания и добавляет запись в хвост очереди.
//
// Поток:
//  1. Проверка расширения файла
//  2. Сохранение файла на диск (temp → fsync → rename)
//  3. Version gate: маркер версии в начале файла против ожидаемой версии
//  4. Извлечение веса филамента → накопительный счётчик профиля
//  5. Запись в очередь
//
// Валидация выполняется до создания записи: отклонённая загрузка
// не оставляет ни записи, ни файла на диске.
func (s *QueueService) Enqueue(ctx context.Context, params EnqueueParams) (*model.JobRecord, error) {
	if !s.cfg.ExtensionAllowed(params.OriginalFilename) {
		uploadRejectsTotal.WithLabelValues("bad_extension").Inc()
		return nil, fmt.Errorf("%w: %s", ErrBadExtension, params.OriginalFilename)
	}

	saved, err := s.store.Save(params.Reader, params.OriginalFilename)
	if err != nil {
		s.logger.Error("Ошибка сохранения файла задания",
			slog.String("filename", params.OriginalFilename),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ошибка сохранения файла: %w", err)
	}

	// Version gate: читаем маркер из сохранённого файла
	if err := s.checkConfigVersion(saved.StoredName); err != nil {
		_ = s.store.Delete(saved.StoredName)
		uploadRejectsTotal.WithLabelValues("stale_version").Inc()
		return nil, err
	}

	// Вес филамента — best effort: отсутствие маркера не блокирует загрузку
	// и не трогает счётчик профиля.
	s.addFilamentWeight(ctx, saved.StoredName, params.SubmitterIdentity)

	job := &model.JobRecord{
		ID:                uuid.New().String(),
		StoredName:        saved.StoredName,
		OriginalName:      params.OriginalFilename,
		SubmitterName:     params.SubmitterName,
		SubmitterIdentity: params.SubmitterIdentity,
	}

	if err := s.queueRepo.Insert(ctx, s.pool, job); err != nil {
		_ = s.store.Delete(saved.StoredName)
		return nil, err
	}

	jobsEnqueuedTotal.Inc()
	queueDepth.Inc()

	s.logger.Info("Задание добавлено в очередь",
		slog.String("id", job.ID),
		slog.String("filename", params.OriginalFilename),
		slog.Int64("size", saved.Size),
		slog.String("submitter", params.SubmitterIdentity),
		slog.Int64("seq", job.Seq),
	)

	return job, nil
}

// List возвращает очередь в порядке обслуживания (старые первыми).
func (s *QueueService) List(ctx context.Context) ([]*model.JobRecord, error) {
	jobs, err := s.queueRepo.List(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	queueDepth.Set(float64(len(jobs)))
	return jobs, nil
}

// Thumbnail извлекает base64-превью модели из файла задания.
// Результат кэшируется по stored_name (файл immutable).
func (s *QueueService) Thumbnail(ctx context.Context, id string) (string, error) {
	job, err := s.queueRepo.GetByID(ctx, s.pool, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if cached, ok := s.thumbCache.Get(job.StoredName); ok {
		return cached, nil
	}

	f, err := s.store.Open(job.StoredName)
	if err != nil {
		// Отсутствие файла — отсутствие превью, не сбой запроса
		return "", ErrNoThumbnail
	}
	defer f.Close()

	encoded, ok := gcode.ExtractThumbnail(f)
	if !ok {
		return "", ErrNoThumbnail
	}

	s.thumbCache.Add(job.StoredName, encoded)
	return encoded, nil
}

// Delete удаляет задание из очереди.
// Разрешено владельцу записи или администратору.
// Коммит — удаление записи; файл удаляется после коммита
// (осиротевший файл — допустимый мусор, убирается sweep-ом).
func (s *QueueService) Delete(ctx context.Context, id, requesterIdentity string, isAdmin bool) error {
	var storedName string

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		job, err := s.queueRepo.LockByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if job.SubmitterIdentity != requesterIdentity && !isAdmin {
			return ErrForbidden
		}
		storedName = job.StoredName
		return s.queueRepo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	if err := s.store.Delete(storedName); err != nil {
		s.logger.Warn("Файл удалённого задания не удалось убрать с диска",
			slog.String("id", id),
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
	}

	jobsDeletedTotal.Inc()
	queueDepth.Dec()

	s.logger.Info("Задание удалено из очереди",
		slog.String("id", id),
		slog.String("requester", requesterIdentity),
		slog.Bool("admin", isAdmin),
	)
	return nil
}

// ToggleOverride инвертирует флаг override задания.
// Только владелец: админу операция не делегируется.
func (s *QueueService) ToggleOverride(ctx context.Context, id, requesterIdentity string) (bool, error) {
	var override bool

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		job, err := s.queueRepo.LockByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if job.SubmitterIdentity != requesterIdentity {
			return ErrForbidden
		}
		override, err = s.queueRepo.ToggleOverride(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("Флаг override переключён",
		slog.String("id", id),
		slog.Bool("override", override),
	)
	return override, nil
}

// DequeueFront атомарно забирает головное задание очереди.
//
// Запись блокируется (SKIP LOCKED: из конкурирующих consumer-ов задание
// достаётся ровно одному), файл открывается до удаления записи.
// Если файла нет — откат: запись остаётся в очереди, сбой внешний.
// Коммит — удаление записи; после коммита файл убирается с диска,
// открытый дескриптор остаётся валидным для отдачи содержимого.
//
// Вызывающий код обязан закрыть возвращённый файл.
func (s *QueueService) DequeueFront(ctx context.Context) (*model.JobRecord, *os.File, error) {
	var (
		job  *model.JobRecord
		file *os.File
	)

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		job, err = s.queueRepo.LockFront(ctx, tx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrQueueEmpty
			}
			return err
		}

		file, err = s.store.Open(job.StoredName)
		if err != nil {
			s.logger.Error("Файл головного задания отсутствует на диске",
				slog.String("id", job.ID),
				slog.String("stored_name", job.StoredName),
			)
			return fmt.Errorf("%w: %s", ErrFileMissing, job.StoredName)
		}

		return s.queueRepo.Delete(ctx, tx, job.ID)
	})
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, nil, err
	}

	// Запись удалена — задание выдано. Удаление файла best effort:
	// дескриптор уже открыт, осиротевший файл подберёт sweep.
	if err := s.store.Delete(job.StoredName); err != nil {
		s.logger.Warn("Файл выданного задания не удалось убрать с диска",
			slog.String("id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	jobsDequeuedTotal.Inc()
	queueDepth.Dec()

	s.logger.Info("Задание выдано принтеру",
		slog.String("id", job.ID),
		slog.String("filename", job.OriginalName),
		slog.String("submitter", job.SubmitterIdentity),
	)

	return job, file, nil
}

// checkConfigVersion сверяет маркер версии в начале файла
// с ожидаемой версией конфигурации.
func (s *QueueService) checkConfigVersion(storedName string) error {
	f, err := s.store.Open(storedName)
	if err != nil {
		return fmt.Errorf("ошибка чтения сохранённого файла: %w", err)
	}
	defer f.Close()

	version, ok := gcode.ExtractConfigVersion(f, s.cfg.VersionScanLines)
	if !ok {
		return fmt.Errorf("%w: маркер версии не найден", ErrStaleConfig)
	}
	if version != s.cfg.ConfigVersion {
		return fmt.Errorf("%w: в файле %s, ожидается %s", ErrStaleConfig, version, s.cfg.ConfigVersion)
	}
	return nil
}

// addFilamentWeight извлекает вес филамента из файла и прибавляет
// к счётчику профиля. Отсутствие маркера или профиля — не ошибка.
func (s *QueueService) addFilamentWeight(ctx context.Context, storedName, identity string) {
	f, err := s.store.Open(storedName)
	if err != nil {
		return
	}
	defer f.Close()

	weight, ok := gcode.ExtractFilamentWeight(f)
	if !ok {
		return
	}

	if err := s.profileRepo.AddFilamentWeight(ctx, s.pool, identity, weight); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Не удалось обновить счётчик филамента",
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
		}
	}
}
