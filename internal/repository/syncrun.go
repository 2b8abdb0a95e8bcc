package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
)

// SyncRunRepository — история прогонов синхронизации (таблица sync_runs).
// Используется для операционной видимости, не для корректности.
type SyncRunRepository interface {
	// Insert создаёт запись прогона (status = running).
	Insert(ctx context.Context, run *model.SyncRun) error
	// Finalize обновляет счётчики и статус по завершении прогона.
	Finalize(ctx context.Context, run *model.SyncRun) error
	// ListRecent возвращает последние прогоны, новые первыми.
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

// syncRunRepo — реализация SyncRunRepository.
type syncRunRepo struct {
	db DBTX
}

// NewSyncRunRepository создаёт репозиторий истории синхронизаций.
func NewSyncRunRepository(db DBTX) SyncRunRepository {
	return &syncRunRepo{db: db}
}

func (r *syncRunRepo) Insert(ctx context.Context, run *model.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, source_id, status, dry_run, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.SourceID, run.Status, run.DryRun, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания записи sync_run: %w", err)
	}
	return nil
}

func (r *syncRunRepo) Finalize(ctx context.Context, run *model.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET status = $2, fetched = $3, new_count = $4, updated_count = $5,
			unchanged_count = $6, skipped_count = $7, written_count = $8,
			error = $9, finished_at = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		run.ID, run.Status, run.Fetched, run.New, run.Updated, run.Unchanged,
		run.Skipped, run.Written, run.Error, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка финализации sync_run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *syncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	query := `
		SELECT id, source_id, status, dry_run, fetched, new_count, updated_count,
			unchanged_count, skipped_count, written_count, error, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории синхронизаций: %w", err)
	}
	defer rows.Close()

	var result []*model.SyncRun
	for rows.Next() {
		run := &model.SyncRun{}
		var finishedAt *time.Time // NULL для ещё выполняющихся прогонов
		if err := rows.Scan(
			&run.ID, &run.SourceID, &run.Status, &run.DryRun, &run.Fetched,
			&run.New, &run.Updated, &run.Unchanged, &run.Skipped, &run.Written,
			&run.Error, &run.StartedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования sync_run: %w", err)
		}
		if finishedAt != nil {
			run.FinishedAt = *finishedAt
		}
		result = append(result, run)
	}
	return result, rows.Err()
}
