package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/database"
	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, контейнер останавливается в t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("printqueue_test"),
		postgres.WithUsername("printqueue"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("PQ_DB_HOST", host)
	os.Setenv("PQ_DB_PORT", port.Port())
	os.Setenv("PQ_DB_NAME", "printqueue_test")
	os.Setenv("PQ_DB_USER", "printqueue")
	os.Setenv("PQ_DB_PASSWORD", "test-password")
	os.Setenv("PQ_DB_SSL_MODE", "disable")
	os.Setenv("PQ_DATA_DIR", t.TempDir())
	os.Setenv("PQ_TEMPLATE_PATH", "/tmp/template.orca_printer")
	os.Setenv("PQ_WORK_DIR", t.TempDir())
	os.Setenv("PQ_OUTPUT_DIR", t.TempDir())
	os.Setenv("PQ_PUBLIC_URL", "https://print.example.com")
	os.Setenv("PQ_JWKS_URL", "https://idp.example.com/jwks")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// insertJob добавляет тестовую запись в очередь.
func insertJob(t *testing.T, repo QueueRepository, pool *pgxpool.Pool, original string) *model.JobRecord {
	t.Helper()
	job := &model.JobRecord{
		ID:                uuid.New().String(),
		StoredName:        uuid.New().String() + ".gcode",
		OriginalName:      original,
		SubmitterName:     "alice",
		SubmitterIdentity: "idp|alice",
	}
	if err := repo.Insert(context.Background(), pool, job); err != nil {
		t.Fatalf("Insert(%q) ошибка: %v", original, err)
	}
	return job
}

// --- Тесты QueueRepository ---

func TestQueueFIFOOrder(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewQueueRepository()

	j1 := insertJob(t, repo, pool, "first.gcode")
	j2 := insertJob(t, repo, pool, "second.gcode")
	j3 := insertJob(t, repo, pool, "third.gcode")

	// seq монотонно растёт даже при совпадении enqueued_at
	if !(j1.Seq < j2.Seq && j2.Seq < j3.Seq) {
		t.Errorf("seq не монотонен: %d, %d, %d", j1.Seq, j2.Seq, j3.Seq)
	}

	list, err := repo.List(ctx, pool)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() вернул %d записей, хотели 3", len(list))
	}
	for i, want := range []string{j1.ID, j2.ID, j3.ID} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %q, хотели %q", i, list[i].ID, want)
		}
	}

	// LockFront видит голову очереди
	err = NewTxRunner(pool).WithTx(ctx, func(tx pgx.Tx) error {
		front, err := repo.LockFront(ctx, tx)
		if err != nil {
			return err
		}
		if front.ID != j1.ID {
			t.Errorf("LockFront().ID = %q, хотели %q", front.ID, j1.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx ошибка: %v", err)
	}
}

func TestQueueGetDelete(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewQueueRepository()

	job := insertJob(t, repo, pool, "model.gcode")

	got, err := repo.GetByID(ctx, pool, job.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.OriginalName != "model.gcode" {
		t.Errorf("OriginalName = %q, хотели %q", got.OriginalName, "model.gcode")
	}
	if got.Override {
		t.Error("Override = true для новой записи")
	}

	if err := repo.Delete(ctx, pool, job.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, pool, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("После Delete ожидали ErrNotFound, получили: %v", err)
	}
	if err := repo.Delete(ctx, pool, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Повторный Delete: ожидали ErrNotFound, получили: %v", err)
	}
}

func TestQueueToggleOverride(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewQueueRepository()

	job := insertJob(t, repo, pool, "toggle.gcode")

	on, err := repo.ToggleOverride(ctx, pool, job.ID)
	if err != nil {
		t.Fatalf("ToggleOverride() ошибка: %v", err)
	}
	if !on {
		t.Error("После первого переключения ожидали override = true")
	}

	off, err := repo.ToggleOverride(ctx, pool, job.ID)
	if err != nil {
		t.Fatalf("ToggleOverride() повторно ошибка: %v", err)
	}
	if off {
		t.Error("После второго переключения ожидали override = false")
	}

	if _, err := repo.ToggleOverride(ctx, pool, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleOverride несуществующей записи: ожидали ErrNotFound, получили: %v", err)
	}
}

// TestQueueConcurrentDequeue проверяет exactly-once выдачу головы очереди:
// N конкурирующих транзакций забирают N записей, каждую — ровно один раз.
func TestQueueConcurrentDequeue(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewQueueRepository()
	runner := NewTxRunner(pool)

	const n = 8
	for i := 0; i < n; i++ {
		insertJob(t, repo, pool, "job.gcode")
	}

	var mu sync.Mutex
	taken := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.WithTx(ctx, func(tx pgx.Tx) error {
				front, err := repo.LockFront(ctx, tx)
				if err != nil {
					return err
				}
				if err := repo.Delete(ctx, tx, front.ID); err != nil {
					return err
				}
				mu.Lock()
				taken[front.ID]++
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Конкурентный dequeue ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(taken) != n {
		t.Errorf("Уникальных записей выдано %d, хотели %d", len(taken), n)
	}
	for id, count := range taken {
		if count != 1 {
			t.Errorf("Запись %s выдана %d раз", id, count)
		}
	}

	list, err := repo.List(ctx, pool)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("После выдачи всех записей очередь не пуста: %d", len(list))
	}
}

func TestQueueStoredNames(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewQueueRepository()

	j1 := insertJob(t, repo, pool, "a.gcode")
	j2 := insertJob(t, repo, pool, "b.gcode")

	names, err := repo.StoredNames(ctx, pool)
	if err != nil {
		t.Fatalf("StoredNames() ошибка: %v", err)
	}
	if len(names) != 2 || !names[j1.StoredName] || !names[j2.StoredName] {
		t.Errorf("StoredNames() = %v", names)
	}
}

// --- Тесты ProfileRepository ---

func TestProfileEnsureAndCounters(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProfileRepository()

	id := uuid.New().String()
	created, err := repo.Ensure(ctx, pool, &model.Profile{
		UUID:        id,
		Identity:    "idp|bob",
		DisplayName: "Bob",
	})
	if err != nil {
		t.Fatalf("Ensure() ошибка: %v", err)
	}
	if created.UUID != id {
		t.Errorf("UUID = %q, хотели %q", created.UUID, id)
	}
	if created.ConfigVersion != "" {
		t.Errorf("ConfigVersion = %q для нового профиля", created.ConfigVersion)
	}

	// Повторный Ensure: uuid стабилен, display_name обновляется
	again, err := repo.Ensure(ctx, pool, &model.Profile{
		UUID:        uuid.New().String(),
		Identity:    "idp|bob",
		DisplayName: "Bob Jr.",
	})
	if err != nil {
		t.Fatalf("Повторный Ensure() ошибка: %v", err)
	}
	if again.UUID != id {
		t.Errorf("Повторный Ensure сменил UUID: %q -> %q", id, again.UUID)
	}
	if again.DisplayName != "Bob Jr." {
		t.Errorf("DisplayName = %q, хотели %q", again.DisplayName, "Bob Jr.")
	}

	// Версия конфигурации
	if err := repo.SetConfigVersion(ctx, pool, id, "1.0.0"); err != nil {
		t.Fatalf("SetConfigVersion() ошибка: %v", err)
	}
	byUUID, err := repo.GetByUUID(ctx, pool, id)
	if err != nil {
		t.Fatalf("GetByUUID() ошибка: %v", err)
	}
	if byUUID.ConfigVersion != "1.0.0" {
		t.Errorf("ConfigVersion = %q, хотели %q", byUUID.ConfigVersion, "1.0.0")
	}

	// Счётчик расхода филамента
	if err := repo.AddFilamentWeight(ctx, pool, "idp|bob", 12.5); err != nil {
		t.Fatalf("AddFilamentWeight() ошибка: %v", err)
	}
	if err := repo.AddFilamentWeight(ctx, pool, "idp|bob", 7.5); err != nil {
		t.Fatalf("AddFilamentWeight() повторно ошибка: %v", err)
	}
	byIdentity, err := repo.GetByIdentity(ctx, pool, "idp|bob")
	if err != nil {
		t.Fatalf("GetByIdentity() ошибка: %v", err)
	}
	if byIdentity.TotalWeightGrams != 20.0 {
		t.Errorf("TotalWeightGrams = %v, хотели 20", byIdentity.TotalWeightGrams)
	}

	if _, err := repo.GetByUUID(ctx, pool, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByUUID несуществующего: ожидали ErrNotFound, получили: %v", err)
	}
}
