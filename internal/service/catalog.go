// catalog.go — чтение кэшируемых коллекций каталога.
//
// GetCollection реализует stale-while-revalidate:
//   - Fresh — отдаём как есть
//   - Stale — отдаём как есть и запускаем фоновый warm через CacheWarmer
//   - Miss  — синхронный rebuild из Postgres под блокировкой координатора
//     (дешёвое чтение read-модели; дорогой fetch провайдеров живёт
//     в sync engine, не здесь)
//
// Промахи проходят через RebuildCoordinator: из N конкурентных читателей
// отсутствующего ключа перестройку выполняет ровно один, остальные ждут
// и забирают результат из кэша.
//
// Ошибка возвращается только если и кэш пуст, и БД недоступна.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/repository"
)

// ModelDTO — запись каталога в HTTP-ответе.
type ModelDTO struct {
	SourceID            string            `json:"source_id"`
	SourceModelID       string            `json:"source_model_id"`
	DisplayName         string            `json:"display_name"`
	Description         string            `json:"description,omitempty"`
	ContextWindow       int64             `json:"context_window,omitempty"`
	MaxOutputTokens     int64             `json:"max_output_tokens,omitempty"`
	PromptPricePerM     string            `json:"prompt_price_per_m,omitempty"`
	CompletionPricePerM string            `json:"completion_price_per_m,omitempty"`
	SupportsTools       bool              `json:"supports_tools"`
	SupportsVision      bool              `json:"supports_vision"`
	SupportsStreaming   bool              `json:"supports_streaming"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Status              string            `json:"status"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// CollectionPayload — кэшируемое представление коллекции.
// Сериализованный JSON хранится в обоих уровнях кэша как есть.
type CollectionPayload struct {
	Key         string     `json:"key"`
	Count       int        `json:"count"`
	GeneratedAt time.Time  `json:"generated_at"`
	Models      []ModelDTO `json:"models"`
}

// CatalogService — exposed-поверхность чтения каталога поверх
// двухуровневого кэша и read-модели в Postgres.
type CatalogService struct {
	repo     repository.CatalogRepository
	cache    *cache.TieredCache
	warmer   *CacheWarmer
	coord    *RebuildCoordinator
	freshTTL time.Duration
	staleTTL time.Duration
	logger   *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
// coord — тот же координатор, что у CacheWarmer: rebuild-ы read path-а
// и фонового прогрева исключают друг друга по ключу.
func NewCatalogService(
	repo repository.CatalogRepository,
	tieredCache *cache.TieredCache,
	warmer *CacheWarmer,
	coord *RebuildCoordinator,
	freshTTL, staleTTL time.Duration,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		repo:     repo,
		cache:    tieredCache,
		warmer:   warmer,
		coord:    coord,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
		logger:   logger.With(slog.String("component", "catalog_service")),
	}
}

// GetCollection возвращает сериализованную коллекцию по ключу кэша
// и её свежесть на момент чтения.
func (s *CatalogService) GetCollection(ctx context.Context, key string) ([]byte, cache.Freshness, error) {
	payload, freshness := s.cache.Get(ctx, key)

	switch freshness {
	case cache.Fresh:
		return payload, cache.Fresh, nil

	case cache.Stale:
		// Отдаём устаревшие данные сразу, обновление — в фоне.
		// Coalescing конкурентных запросов делает CacheWarmer.
		s.warmer.Warm(key, s.fetchFunc(key), s.populateFunc(key))
		return payload, cache.Stale, nil
	}

	// Miss: синхронный rebuild из БД под per-key блокировкой.
	// Конкурентные промахи ждут завершения текущего rebuild-а
	// вместо того, чтобы каждый ходить в БД самостоятельно.
	if err := s.coord.Acquire(ctx, key); err != nil {
		return nil, cache.Miss, fmt.Errorf("ожидание rebuild коллекции %s: %w", key, err)
	}
	defer s.coord.Release(key)

	// Пока мы ждали блокировку, победитель мог уже заполнить кэш
	if payload, freshness := s.cache.Get(ctx, key); freshness != cache.Miss {
		return payload, freshness, nil
	}

	payload, err := s.Rebuild(ctx, key)
	if err != nil {
		return nil, cache.Miss, err
	}
	s.cache.Set(ctx, key, payload, s.freshTTL, s.staleTTL)
	return payload, cache.Miss, nil
}

// Rebuild строит сериализованную коллекцию из read-модели в Postgres.
// Кэш не трогает — записью занимается вызывающий код.
func (s *CatalogService) Rebuild(ctx context.Context, key string) ([]byte, error) {
	var (
		records []*model.ModelRecord
		err     error
	)

	switch {
	case key == cache.KeyFullCatalog:
		records, err = s.repo.ListAll(ctx)
	case key == cache.KeyUniqueModels:
		records, err = s.repo.ListUnique(ctx)
	default:
		sourceID, ok := cache.ParseProviderKey(key)
		if !ok {
			return nil, fmt.Errorf("неизвестный ключ коллекции: %s", key)
		}
		records, err = s.repo.ListBySource(ctx, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("rebuild коллекции %s: %w", key, err)
	}

	payload := CollectionPayload{
		Key:         key,
		Count:       len(records),
		GeneratedAt: time.Now().UTC(),
		Models:      make([]ModelDTO, 0, len(records)),
	}
	for _, rec := range records {
		payload.Models = append(payload.Models, toDTO(rec))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация коллекции %s: %w", key, err)
	}
	return data, nil
}

// WarmAggregates ставит агрегатные коллекции в очередь прогрева,
// минуя минимальный интервал — вызывается после batch-синхронизации
// с изменениями, чтобы следующий читатель получил Fresh.
func (s *CatalogService) WarmAggregates(ctx context.Context) {
	for _, key := range cache.AggregateKeys() {
		s.warmer.ForceWarm(key, s.fetchFunc(key), s.populateFunc(key))
	}
}

// fetchFunc возвращает FetchFunc одного ключа для CacheWarmer.
func (s *CatalogService) fetchFunc(key string) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		return s.Rebuild(ctx, key)
	}
}

// populateFunc возвращает PopulateFunc одного ключа для CacheWarmer.
func (s *CatalogService) populateFunc(key string) PopulateFunc {
	return func(ctx context.Context, payload []byte) {
		s.cache.Set(ctx, key, payload, s.freshTTL, s.staleTTL)
	}
}

// toDTO конвертирует доменную запись в HTTP-представление.
func toDTO(rec *model.ModelRecord) ModelDTO {
	return ModelDTO{
		SourceID:            rec.SourceID,
		SourceModelID:       rec.SourceModelID,
		DisplayName:         rec.DisplayName,
		Description:         rec.Description,
		ContextWindow:       rec.ContextWindow,
		MaxOutputTokens:     rec.MaxOutputTokens,
		PromptPricePerM:     rec.PromptPricePerM,
		CompletionPricePerM: rec.CompletionPricePerM,
		SupportsTools:       rec.SupportsTools,
		SupportsVision:      rec.SupportsVision,
		SupportsStreaming:   rec.SupportsStreaming,
		Metadata:            rec.Metadata,
		Status:              rec.Status,
		UpdatedAt:           rec.UpdatedAt,
	}
}
