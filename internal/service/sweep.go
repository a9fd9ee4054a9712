// sweep.go — фоновая уборка осиротевших backing-файлов.
//
// Осиротевший файл появляется штатно: коммит dequeue/delete — удаление
// записи, а удаление файла после коммита может не состояться (сбой,
// рестарт). Такой файл — допустимый мусор, не влияющий на корректность
// очереди; sweep убирает его позже.
//
// Запускается как горутина с периодическим тикером (PQ_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/repository"
	"github.com/VT-CRO/Workcell-Queue/internal/storage/uploadstore"
)

// Prometheus метрики sweep
var (
	// sweepRunsTotal — количество запусков sweep.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pq_sweep_runs_total",
		Help: "Общее количество запусков уборки осиротевших файлов",
	})

	// sweepFilesDeletedTotal — количество удалённых осиротевших файлов.
	sweepFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pq_sweep_files_deleted_total",
		Help: "Общее количество файлов, удалённых sweep-ом",
	})

	// sweepDurationSeconds — длительность выполнения sweep.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pq_sweep_duration_seconds",
		Help:    "Длительность уборки осиротевших файлов в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// SweepResult — результат одного запуска sweep.
type SweepResult struct {
	// DeletedCount — количество удалённых осиротевших файлов
	DeletedCount int
	// Errors — количество ошибок при удалении
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweepService — сервис уборки осиротевших файлов.
type SweepService struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	queueRepo repository.QueueRepository
	store     *uploadstore.Store

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewSweepService создаёт сервис sweep.
func NewSweepService(
	cfg *config.Config,
	pool *pgxpool.Pool,
	queueRepo repository.QueueRepository,
	store *uploadstore.Store,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		cfg:       cfg,
		pool:      pool,
		queueRepo: queueRepo,
		store:     store,
		logger:    logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает фоновую горутину sweep с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Sweep запущен",
		slog.String("interval", s.cfg.SweepInterval.String()),
		slog.String("min_age", s.cfg.SweepMinAge.String()),
	)
}

// Stop останавливает фоновый процесс sweep.
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Sweep остановлен")
}

// run — основной цикл фоновой горутины.
func (s *SweepService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл уборки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
//
// Кандидаты — файлы заданий (по расширению) и недописанные *.tmp;
// прочие файлы в директории данных (например, файл токена consumer-а)
// не трогаются. Файл удаляется, если его имени нет среди stored_name
// живых записей и он старше PQ_SWEEP_MIN_AGE. Порядок важен: сначала
// снимок очереди, потом листинг диска — файл, добавленный между ними,
// в снимок не попадёт, но отсеется по возрасту.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	s.logger.Debug("Sweep запуск начат")

	live, err := s.queueRepo.StoredNames(ctx, s.pool)
	if err != nil {
		s.logger.Error("Sweep: ошибка получения снимка очереди",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	files, err := s.store.List()
	if err != nil {
		s.logger.Error("Sweep: ошибка листинга директории данных",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	cutoff := time.Now().Add(-s.cfg.SweepMinAge)
	for _, file := range files {
		if !s.cfg.ExtensionAllowed(file.Name) && !strings.HasSuffix(file.Name, ".tmp") {
			continue
		}
		if live[file.Name] {
			continue
		}
		if file.ModTime.After(cutoff) {
			continue
		}

		if err := s.store.Delete(file.Name); err != nil {
			s.logger.Error("Sweep: ошибка удаления осиротевшего файла",
				slog.String("name", file.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		s.logger.Debug("Sweep: осиротевший файл удалён",
			slog.String("name", file.Name),
		)
		result.DeletedCount++
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepFilesDeletedTotal.Add(float64(result.DeletedCount))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if result.DeletedCount > 0 || result.Errors > 0 {
		s.logger.Info("Sweep завершён",
			slog.Int("deleted", result.DeletedCount),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
