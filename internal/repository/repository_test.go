package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/config"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/database"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер и пул закрываются через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("modelhub_test"),
		postgres.WithUsername("modelhub"),
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
	os.Setenv("CM_DB_HOST", host)
	os.Setenv("CM_DB_PORT", port.Port())
	os.Setenv("CM_DB_NAME", "modelhub_test")
	os.Setenv("CM_DB_USER", "modelhub")
	os.Setenv("CM_DB_PASSWORD", "test-password")
	os.Setenv("CM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// testRecord создаёт запись каталога для тестов.
func testRecord(sourceID, sourceModelID, hash string) *model.ModelRecord {
	return &model.ModelRecord{
		SourceID:            sourceID,
		SourceModelID:       sourceModelID,
		DisplayName:         "Model " + sourceModelID,
		Description:         "тестовая запись",
		ContextWindow:       128000,
		MaxOutputTokens:     16384,
		PromptPricePerM:     "2.5",
		CompletionPricePerM: "10",
		SupportsTools:       true,
		SupportsStreaming:   true,
		Metadata:            map[string]string{"owned_by": sourceID},
		Status:              model.StatusActive,
		ContentHash:         hash,
		LastSeenAt:          time.Now().UTC(),
	}
}

// --- Тесты CatalogRepository ---

func TestCatalogBulkUpsertAndFingerprints(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewCatalogRepository(pool)

	records := []*model.ModelRecord{
		testRecord("openai", "gpt-4o", "hash-1"),
		testRecord("openai", "gpt-4o-mini", "hash-2"),
		testRecord("mistral", "mistral-large", "hash-3"),
	}

	written, err := repo.BulkUpsert(ctx, records)
	if err != nil {
		t.Fatalf("BulkUpsert() ошибка: %v", err)
	}
	if written != 3 {
		t.Fatalf("BulkUpsert() записал %d строк, ожидались 3", written)
	}

	// Отпечатки читаются только для запрошенного источника
	fps, err := repo.GetFingerprints(ctx, "openai")
	if err != nil {
		t.Fatalf("GetFingerprints() ошибка: %v", err)
	}
	if len(fps) != 2 {
		t.Fatalf("GetFingerprints() вернул %d записей, ожидались 2", len(fps))
	}
	if fps["gpt-4o"] != "hash-1" || fps["gpt-4o-mini"] != "hash-2" {
		t.Errorf("неверные отпечатки: %v", fps)
	}

	// Повторный upsert той же записи с новым хэшем — обновление, не дубликат
	updated := testRecord("openai", "gpt-4o", "hash-1-v2")
	if _, err := repo.BulkUpsert(ctx, []*model.ModelRecord{updated}); err != nil {
		t.Fatalf("повторный BulkUpsert() ошибка: %v", err)
	}

	rec, err := repo.GetByKey(ctx, "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("GetByKey() ошибка: %v", err)
	}
	if rec.ContentHash != "hash-1-v2" {
		t.Errorf("ContentHash = %q, ожидался hash-1-v2", rec.ContentHash)
	}
	if rec.Metadata["owned_by"] != "openai" {
		t.Errorf("Metadata не сохранилась: %v", rec.Metadata)
	}

	count, err := repo.CountBySource(ctx, "openai")
	if err != nil {
		t.Fatalf("CountBySource() ошибка: %v", err)
	}
	if count != 2 {
		t.Errorf("CountBySource() = %d, ожидались 2", count)
	}
}

func TestCatalogBulkUpsertChunking(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewCatalogRepository(pool)

	// Больше одного batch-а (размер batch-а 500)
	records := make([]*model.ModelRecord, 0, 1100)
	for i := 0; i < 1100; i++ {
		records = append(records, testRecord("bulk", fmt.Sprintf("model-%04d", i), fmt.Sprintf("hash-%04d", i)))
	}

	written, err := repo.BulkUpsert(ctx, records)
	if err != nil {
		t.Fatalf("BulkUpsert() ошибка: %v", err)
	}
	if written != 1100 {
		t.Errorf("BulkUpsert() записал %d строк, ожидались 1100", written)
	}

	count, err := repo.CountBySource(ctx, "bulk")
	if err != nil {
		t.Fatalf("CountBySource() ошибка: %v", err)
	}
	if count != 1100 {
		t.Errorf("CountBySource() = %d, ожидались 1100", count)
	}
}

func TestCatalogListQueries(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewCatalogRepository(pool)

	// Одна и та же модель у двух провайдеров + уникальная модель
	records := []*model.ModelRecord{
		testRecord("openai", "gpt-4o", "h1"),
		testRecord("openrouter", "gpt-4o", "h2"),
		testRecord("mistral", "mistral-large", "h3"),
	}
	if _, err := repo.BulkUpsert(ctx, records); err != nil {
		t.Fatalf("BulkUpsert() ошибка: %v", err)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAll() вернул %d записей, ожидались 3", len(all))
	}

	bySource, err := repo.ListBySource(ctx, "openai")
	if err != nil {
		t.Fatalf("ListBySource() ошибка: %v", err)
	}
	if len(bySource) != 1 || bySource[0].SourceModelID != "gpt-4o" {
		t.Errorf("ListBySource(openai) = %v", bySource)
	}

	// Дедуплицированное представление: по одной записи на source_model_id
	unique, err := repo.ListUnique(ctx)
	if err != nil {
		t.Fatalf("ListUnique() ошибка: %v", err)
	}
	if len(unique) != 2 {
		t.Errorf("ListUnique() вернул %d записей, ожидались 2", len(unique))
	}
}

func TestCatalogGetByKeyNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCatalogRepository(pool)

	if _, err := repo.GetByKey(context.Background(), "nikto", "nichego"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// --- Тесты SyncRunRepository ---

func TestSyncRunLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewSyncRunRepository(pool)

	run := &model.SyncRun{
		ID:        uuid.NewString(),
		SourceID:  "openai",
		Status:    model.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := repo.Insert(ctx, run); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}

	// До финализации finished_at = NULL
	runs, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() ошибка: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.SyncStatusRunning {
		t.Fatalf("ListRecent() до финализации: %+v", runs)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Error("FinishedAt выполняющегося прогона должен быть нулевым")
	}

	run.Status = model.SyncStatusDone
	run.Fetched = 100
	run.New = 5
	run.Updated = 5
	run.Unchanged = 90
	run.Written = 10
	run.FinishedAt = time.Now().UTC()
	if err := repo.Finalize(ctx, run); err != nil {
		t.Fatalf("Finalize() ошибка: %v", err)
	}

	runs, err = repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() ошибка: %v", err)
	}
	got := runs[0]
	if got.Status != model.SyncStatusDone || got.Fetched != 100 || got.New != 5 ||
		got.Updated != 5 || got.Unchanged != 90 || got.Written != 10 {
		t.Errorf("финализированный прогон прочитан неверно: %+v", got)
	}
	if got.FinishedAt.IsZero() {
		t.Error("FinishedAt финализированного прогона не должен быть нулевым")
	}
}

func TestSyncRunFinalizeNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSyncRunRepository(pool)

	run := &model.SyncRun{
		ID:         uuid.NewString(),
		Status:     model.SyncStatusDone,
		FinishedAt: time.Now().UTC(),
	}
	if err := repo.Finalize(context.Background(), run); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}
