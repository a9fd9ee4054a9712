// queue.go — репозиторий очереди заданий печати (таблица print_queue).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
)

// queueColumns — список колонок print_queue в порядке scanJob.
const queueColumns = "id, stored_name, original_name, submitter_name, submitter_identity, enqueued_at, seq, override"

// QueueRepository — интерфейс доступа к очереди заданий.
type QueueRepository interface {
	// Insert добавляет запись в хвост очереди.
	// enqueued_at и seq присваивает база (now() + IDENTITY):
	// порядок строго тотальный даже при совпадении меток времени.
	Insert(ctx context.Context, db DBTX, job *model.JobRecord) error
	// List возвращает все записи в порядке очереди (старые первыми).
	List(ctx context.Context, db DBTX) ([]*model.JobRecord, error)
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, db DBTX, id string) (*model.JobRecord, error)
	// LockFront возвращает головную запись с блокировкой строки.
	// SKIP LOCKED: из конкурирующих вызовов одну и ту же запись
	// увидит ровно один, остальные — следующую или ErrNotFound.
	LockFront(ctx context.Context, db DBTX) (*model.JobRecord, error)
	// LockByID возвращает запись по UUID с блокировкой строки.
	LockByID(ctx context.Context, db DBTX, id string) (*model.JobRecord, error)
	// Delete удаляет запись. ErrNotFound, если записи уже нет.
	Delete(ctx context.Context, db DBTX, id string) error
	// ToggleOverride инвертирует флаг override и возвращает новое значение.
	ToggleOverride(ctx context.Context, db DBTX, id string) (bool, error)
	// StoredNames возвращает stored_name всех записей (для sweep).
	StoredNames(ctx context.Context, db DBTX) (map[string]bool, error)
}

// queueRepo — реализация QueueRepository.
type queueRepo struct{}

// NewQueueRepository создаёт репозиторий очереди.
func NewQueueRepository() QueueRepository {
	return &queueRepo{}
}

func (r *queueRepo) Insert(ctx context.Context, db DBTX, job *model.JobRecord) error {
	query := `
		INSERT INTO print_queue (id, stored_name, original_name, submitter_name, submitter_identity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING enqueued_at, seq`

	err := db.QueryRow(ctx, query,
		job.ID, job.StoredName, job.OriginalName, job.SubmitterName, job.SubmitterIdentity,
	).Scan(&job.EnqueuedAt, &job.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись с таким ID уже есть в очереди", ErrConflict)
		}
		return fmt.Errorf("ошибка добавления в очередь: %w", err)
	}
	return nil
}

func (r *queueRepo) List(ctx context.Context, db DBTX) ([]*model.JobRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM print_queue
		ORDER BY enqueued_at, seq`, queueColumns)

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения очереди: %w", err)
	}
	defer rows.Close()

	var result []*model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func (r *queueRepo) GetByID(ctx context.Context, db DBTX, id string) (*model.JobRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM print_queue
		WHERE id = $1`, queueColumns)

	return r.queryOne(ctx, db, query, id)
}

func (r *queueRepo) LockFront(ctx context.Context, db DBTX) (*model.JobRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM print_queue
		ORDER BY enqueued_at, seq
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, queueColumns)

	return r.queryOne(ctx, db, query)
}

func (r *queueRepo) LockByID(ctx context.Context, db DBTX, id string) (*model.JobRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM print_queue
		WHERE id = $1
		FOR UPDATE`, queueColumns)

	return r.queryOne(ctx, db, query, id)
}

func (r *queueRepo) Delete(ctx context.Context, db DBTX, id string) error {
	tag, err := db.Exec(ctx, `DELETE FROM print_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления из очереди: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepo) ToggleOverride(ctx context.Context, db DBTX, id string) (bool, error) {
	query := `
		UPDATE print_queue
		SET override = NOT override
		WHERE id = $1
		RETURNING override`

	var override bool
	err := db.QueryRow(ctx, query, id).Scan(&override)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("ошибка переключения override: %w", err)
	}
	return override, nil
}

func (r *queueRepo) StoredNames(ctx context.Context, db DBTX) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT stored_name FROM print_queue`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения имён файлов: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования имени файла: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// queryOne выполняет запрос, возвращающий одну запись очереди.
func (r *queueRepo) queryOne(ctx context.Context, db DBTX, query string, args ...any) (*model.JobRecord, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса очереди: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("ошибка запроса очереди: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanJob(rows)
}

// scanJob сканирует одну строку print_queue в JobRecord.
func scanJob(row pgx.Row) (*model.JobRecord, error) {
	job := &model.JobRecord{}
	err := row.Scan(
		&job.ID, &job.StoredName, &job.OriginalName,
		&job.SubmitterName, &job.SubmitterIdentity,
		&job.EnqueuedAt, &job.Seq, &job.Override,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования записи очереди: %w", err)
	}
	return job, nil
}
