package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
)

// catalogColumns — список столбцов таблицы model_catalog для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const catalogColumns = `source_id, source_model_id, display_name, description,
	context_window, max_output_tokens, prompt_price_per_m, completion_price_per_m,
	supports_tools, supports_vision, supports_streaming, metadata, status,
	content_hash, last_seen_at, created_at, updated_at`

// defaultUpsertBatchSize — размер одного batch-а при bulk upsert.
// Провайдеры возвращают тысячи записей за fetch — один гигантский запрос
// заменяется на серию batch-ей по ~500 записей.
const defaultUpsertBatchSize = 500

// CatalogRepository — доступ к таблице model_catalog.
type CatalogRepository interface {
	// GetFingerprints возвращает map натуральный ключ → content_hash
	// для всех записей источника одним bulk-чтением (не N+1).
	GetFingerprints(ctx context.Context, sourceID string) (map[string]string, error)
	// BulkUpsert вставляет или обновляет записи batch-ами.
	// Частичный сбой одного batch-а не откатывает успешные:
	// возвращается количество записанных строк и объединённая ошибка
	// неудачных batch-ей (nil, если все прошли).
	BulkUpsert(ctx context.Context, records []*model.ModelRecord) (written int, err error)
	// GetByKey возвращает запись по натуральному ключу.
	GetByKey(ctx context.Context, sourceID, sourceModelID string) (*model.ModelRecord, error)
	// ListBySource возвращает активные записи одного источника.
	ListBySource(ctx context.Context, sourceID string) ([]*model.ModelRecord, error)
	// ListAll возвращает все активные записи каталога.
	ListAll(ctx context.Context) ([]*model.ModelRecord, error)
	// ListUnique возвращает дедуплицированное представление:
	// по одной записи на source_model_id.
	ListUnique(ctx context.Context) ([]*model.ModelRecord, error)
	// CountBySource возвращает количество активных записей источника.
	CountBySource(ctx context.Context, sourceID string) (int, error)
}

// catalogRepo — реализация CatalogRepository через pgx.
type catalogRepo struct {
	db        DBTX
	batchSize int
}

// NewCatalogRepository создаёт репозиторий каталога.
func NewCatalogRepository(db DBTX) CatalogRepository {
	return &catalogRepo{db: db, batchSize: defaultUpsertBatchSize}
}

// GetFingerprints возвращает отпечатки всех записей источника одним запросом.
// Снимок берётся до любых записей текущего прогона синхронизации.
func (r *catalogRepo) GetFingerprints(ctx context.Context, sourceID string) (map[string]string, error) {
	query := `SELECT source_model_id, content_hash FROM model_catalog WHERE source_id = $1`

	rows, err := r.db.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения отпечатков источника %s: %w", sourceID, err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, hash string
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, fmt.Errorf("ошибка сканирования отпечатка: %w", err)
		}
		result[key] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации отпечатков: %w", err)
	}
	return result, nil
}

// upsertQuery — INSERT ON CONFLICT UPDATE для одной записи каталога.
// Неизменённые записи сюда не попадают — их отфильтровал Change Detector.
const upsertQuery = `
	INSERT INTO model_catalog (source_id, source_model_id, display_name, description,
		context_window, max_output_tokens, prompt_price_per_m, completion_price_per_m,
		supports_tools, supports_vision, supports_streaming, metadata, status,
		content_hash, last_seen_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (source_id, source_model_id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		description = EXCLUDED.description,
		context_window = EXCLUDED.context_window,
		max_output_tokens = EXCLUDED.max_output_tokens,
		prompt_price_per_m = EXCLUDED.prompt_price_per_m,
		completion_price_per_m = EXCLUDED.completion_price_per_m,
		supports_tools = EXCLUDED.supports_tools,
		supports_vision = EXCLUDED.supports_vision,
		supports_streaming = EXCLUDED.supports_streaming,
		metadata = EXCLUDED.metadata,
		status = EXCLUDED.status,
		content_hash = EXCLUDED.content_hash,
		last_seen_at = EXCLUDED.last_seen_at,
		updated_at = now()`

// BulkUpsert записывает дельту batch-ами по batchSize записей.
// Один pgx.Batch — один сетевой round trip на chunk.
// Сбой batch-а логируется ошибкой в результате, но остальные batch-и продолжаются.
func (r *catalogRepo) BulkUpsert(ctx context.Context, records []*model.ModelRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	written := 0
	var batchErrs []error

	for start := 0; start < len(records); start += r.batchSize {
		end := start + r.batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		if ctx.Err() != nil {
			batchErrs = append(batchErrs, ctx.Err())
			break
		}

		b := &pgx.Batch{}
		for _, rec := range chunk {
			b.Queue(upsertQuery,
				rec.SourceID, rec.SourceModelID, rec.DisplayName, rec.Description,
				rec.ContextWindow, rec.MaxOutputTokens, rec.PromptPricePerM, rec.CompletionPricePerM,
				rec.SupportsTools, rec.SupportsVision, rec.SupportsStreaming, rec.Metadata, rec.Status,
				rec.ContentHash, rec.LastSeenAt,
			)
		}

		if err := r.db.SendBatch(ctx, b).Close(); err != nil {
			batchErrs = append(batchErrs,
				fmt.Errorf("batch upsert записей %d..%d: %w", start, end-1, err))
			continue
		}
		written += len(chunk)
	}

	return written, errors.Join(batchErrs...)
}

// GetByKey возвращает запись по натуральному ключу или ErrNotFound.
func (r *catalogRepo) GetByKey(ctx context.Context, sourceID, sourceModelID string) (*model.ModelRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM model_catalog WHERE source_id = $1 AND source_model_id = $2`,
		catalogColumns,
	)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, sourceID, sourceModelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи каталога: %w", err)
	}
	return rec, nil
}

// ListBySource возвращает активные записи одного источника.
func (r *catalogRepo) ListBySource(ctx context.Context, sourceID string) ([]*model.ModelRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM model_catalog
		WHERE source_id = $1 AND status = 'active'
		ORDER BY source_model_id`,
		catalogColumns,
	)
	return r.queryRecords(ctx, query, sourceID)
}

// ListAll возвращает все активные записи каталога.
func (r *catalogRepo) ListAll(ctx context.Context) ([]*model.ModelRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM model_catalog
		WHERE status = 'active'
		ORDER BY source_id, source_model_id`,
		catalogColumns,
	)
	return r.queryRecords(ctx, query)
}

// ListUnique возвращает дедуплицированное представление «уникальные модели»:
// по одной записи на source_model_id (первый источник в алфавитном порядке).
func (r *catalogRepo) ListUnique(ctx context.Context) ([]*model.ModelRecord, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT ON (source_model_id) %s FROM model_catalog
		WHERE status = 'active'
		ORDER BY source_model_id, source_id`,
		catalogColumns,
	)
	return r.queryRecords(ctx, query)
}

// CountBySource возвращает количество активных записей источника.
func (r *catalogRepo) CountBySource(ctx context.Context, sourceID string) (int, error) {
	query := `SELECT COUNT(*) FROM model_catalog WHERE source_id = $1 AND status = 'active'`

	var count int
	if err := r.db.QueryRow(ctx, query, sourceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей источника %s: %w", sourceID, err)
	}
	return count, nil
}

// queryRecords выполняет SELECT и сканирует результат в срез записей.
func (r *catalogRepo) queryRecords(ctx context.Context, query string, args ...any) ([]*model.ModelRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса каталога: %w", err)
	}
	defer rows.Close()

	var result []*model.ModelRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи каталога: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации каталога: %w", err)
	}
	return result, nil
}

// scanRecord сканирует одну строку в ModelRecord.
func scanRecord(row pgx.Row) (*model.ModelRecord, error) {
	rec := &model.ModelRecord{}
	err := row.Scan(
		&rec.SourceID, &rec.SourceModelID, &rec.DisplayName, &rec.Description,
		&rec.ContextWindow, &rec.MaxOutputTokens, &rec.PromptPricePerM, &rec.CompletionPricePerM,
		&rec.SupportsTools, &rec.SupportsVision, &rec.SupportsStreaming, &rec.Metadata, &rec.Status,
		&rec.ContentHash, &rec.LastSeenAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
