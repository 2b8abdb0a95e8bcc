// syncengine.go — инкрементальная синхронизация каталога одного источника.
//
// Конвейер прогона: Fetching → Hashing → Diffing → Writing → Invalidating.
//   - Fetching: все записи источника от провайдера (пустой результат — не ошибка)
//   - Hashing: bulk-чтение сохранённых отпечатков источника (один запрос, не N+1)
//   - Diffing: классификация записей new / updated / unchanged / skipped
//   - Writing: batch upsert только дельты (unchanged никогда не переписываются)
//   - Invalidating: только per-source ключ кэша; агрегатные ключи
//     инвалидируются оркестратором один раз после всего batch-а
//
// Прогон идемпотентен: повторный запуск без изменений upstream даёт
// пустой ChangeSet — частичный прогресс после отмены безопасен.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/fingerprint"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/repository"
)

// Ошибки синхронизации.
var (
	// ErrSyncInProgress — синхронизация источника уже выполняется.
	ErrSyncInProgress = errors.New("синхронизация источника уже выполняется")
	// ErrUnknownSource — источник не зарегистрирован.
	ErrUnknownSource = errors.New("неизвестный источник")
)

// Prometheus-метрики синхронизации.
var (
	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cm_sync_duration_seconds",
		Help:    "Длительность синхронизации одного источника",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	}, []string{"source_id"})

	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_sync_records_total",
		Help: "Количество обработанных записей при синхронизации",
	}, []string{"source_id", "operation"}) // operation: new, updated, unchanged, skipped
)

// SourceFetcher — коллаборатор интеграционного слоя провайдеров:
// возвращает все записи каталога одного источника.
// Реализации поставляются снаружи, по одной на провайдера.
type SourceFetcher interface {
	FetchAll(ctx context.Context) ([]*model.ModelRecord, error)
}

// SourceFetcherFunc — адаптер функции к SourceFetcher.
type SourceFetcherFunc func(ctx context.Context) ([]*model.ModelRecord, error)

// FetchAll вызывает функцию.
func (f SourceFetcherFunc) FetchAll(ctx context.Context) ([]*model.ModelRecord, error) {
	return f(ctx)
}

// SyncEngine — движок инкрементальной синхронизации.
type SyncEngine struct {
	fetchers     map[string]SourceFetcher
	catalogRepo  repository.CatalogRepository
	runRepo      repository.SyncRunRepository
	detector     *fingerprint.Detector
	cache        *cache.TieredCache
	coord        *RebuildCoordinator
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewSyncEngine создаёт движок синхронизации.
// fetchers — реестр источников: slug провайдера → fetch-коллаборатор.
func NewSyncEngine(
	fetchers map[string]SourceFetcher,
	catalogRepo repository.CatalogRepository,
	runRepo repository.SyncRunRepository,
	detector *fingerprint.Detector,
	tieredCache *cache.TieredCache,
	coord *RebuildCoordinator,
	fetchTimeout time.Duration,
	logger *slog.Logger,
) *SyncEngine {
	return &SyncEngine{
		fetchers:     fetchers,
		catalogRepo:  catalogRepo,
		runRepo:      runRepo,
		detector:     detector,
		cache:        tieredCache,
		coord:        coord,
		fetchTimeout: fetchTimeout,
		logger:       logger.With(slog.String("component", "sync_engine")),
	}
}

// Sources возвращает отсортированный список зарегистрированных источников.
func (e *SyncEngine) Sources() []string {
	out := make([]string, 0, len(e.fetchers))
	for id := range e.fetchers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// syncLockKey — ключ блокировки синхронизации источника.
// Отдельное пространство от ключей кэша: одна синхронизация
// источника за раз, теми же средствами, что и rebuild-ы кэша.
func syncLockKey(sourceID string) string {
	return "sync:" + sourceID
}

// SyncSource выполняет один прогон инкрементальной синхронизации источника.
// При dryRun дельта вычисляется, но запись и инвалидация пропускаются.
// Возвращает финализированный SyncRun; ошибка прогона отражена в run.Status.
func (e *SyncEngine) SyncSource(ctx context.Context, sourceID string, dryRun bool) (*model.SyncRun, error) {
	fetcher, ok := e.fetchers[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	// Одна синхронизация источника за раз
	if !e.coord.TryAcquire(syncLockKey(sourceID)) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, sourceID)
	}
	defer e.coord.Release(syncLockKey(sourceID))

	run := &model.SyncRun{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Status:    model.SyncStatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}

	// Запись в историю — best-effort, не влияет на сам прогон
	if err := e.runRepo.Insert(ctx, run); err != nil {
		e.logger.Warn("Ошибка записи sync_run в историю",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
	}

	err := e.runSync(ctx, fetcher, run, dryRun)

	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Status = model.SyncStatusFailed
		run.Error = err.Error()
	} else if run.Status == model.SyncStatusRunning {
		run.Status = model.SyncStatusDone
	}

	if ferr := e.runRepo.Finalize(ctx, run); ferr != nil {
		e.logger.Warn("Ошибка финализации sync_run",
			slog.String("run_id", run.ID),
			slog.String("error", ferr.Error()),
		)
	}

	duration := run.FinishedAt.Sub(run.StartedAt)
	syncDuration.WithLabelValues(sourceID).Observe(duration.Seconds())

	if err != nil {
		e.logger.Warn("Синхронизация источника завершилась с ошибкой",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
		return run, err
	}

	e.logger.Info("Синхронизация источника завершена",
		slog.String("source_id", sourceID),
		slog.Bool("dry_run", dryRun),
		slog.Int("fetched", run.Fetched),
		slog.Int("new", run.New),
		slog.Int("updated", run.Updated),
		slog.Int("unchanged", run.Unchanged),
		slog.Int("skipped", run.Skipped),
		slog.Int("written", run.Written),
		slog.String("duration", fmt.Sprintf("%.2fs", duration.Seconds())),
	)

	return run, nil
}

// runSync — тело прогона: fetch, diff, запись дельты, инвалидация.
func (e *SyncEngine) runSync(ctx context.Context, fetcher SourceFetcher, run *model.SyncRun, dryRun bool) error {
	sourceID := run.SourceID

	// 1. Fetching — все записи источника с ограниченным таймаутом
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	records, err := fetcher.FetchAll(fetchCtx)
	if err != nil {
		return fmt.Errorf("fetch источника %s: %w", sourceID, err)
	}
	run.Fetched = len(records)

	// Пустой результат — успешный прогон без изменений
	if len(records) == 0 {
		return nil
	}

	// 2. Hashing — снимок сохранённых отпечатков ДО любых записей прогона
	existing, err := e.catalogRepo.GetFingerprints(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("чтение отпечатков источника %s: %w", sourceID, err)
	}

	// 3. Diffing
	changes := e.diff(sourceID, records, existing)
	run.New = len(changes.New)
	run.Updated = len(changes.Updated)
	run.Unchanged = changes.Unchanged
	run.Skipped = changes.Skipped

	syncRecordsTotal.WithLabelValues(sourceID, "new").Add(float64(run.New))
	syncRecordsTotal.WithLabelValues(sourceID, "updated").Add(float64(run.Updated))
	syncRecordsTotal.WithLabelValues(sourceID, "unchanged").Add(float64(run.Unchanged))
	syncRecordsTotal.WithLabelValues(sourceID, "skipped").Add(float64(run.Skipped))

	if dryRun || !changes.HasChanges() {
		return nil
	}

	// 4. Writing — только дельта, batch-ами
	written, err := e.catalogRepo.BulkUpsert(ctx, changes.Writable())
	run.Written = written
	if err != nil {
		if written == 0 {
			return fmt.Errorf("запись дельты источника %s: %w", sourceID, err)
		}
		// Частичный сбой: успешные batch-и не откатываются,
		// ошибка фиксируется в прогоне
		run.Error = fmt.Sprintf("частичный сбой записи: %v", err)
		e.logger.Warn("Bulk upsert завершился частично",
			slog.String("source_id", sourceID),
			slog.Int("written", written),
			slog.String("error", err.Error()),
		)
	}

	// 5. Invalidating — только per-source ключ
	e.cache.Delete(ctx, cache.ProviderKey(sourceID))

	return nil
}

// diff классифицирует полученные записи против снимка отпечатков.
// Записи без натурального ключа считаются skipped и не прерывают прогон.
func (e *SyncEngine) diff(sourceID string, records []*model.ModelRecord, existing map[string]string) *model.ChangeSet {
	changes := &model.ChangeSet{}
	now := time.Now().UTC()

	for _, rec := range records {
		if rec.SourceModelID == "" {
			changes.Skipped++
			continue
		}

		rec.SourceID = sourceID
		if rec.Status == "" {
			rec.Status = model.StatusActive
		}
		rec.ContentHash = e.detector.Fingerprint(rec)
		rec.LastSeenAt = now

		prev, ok := existing[rec.SourceModelID]
		switch {
		case !ok:
			changes.New = append(changes.New, rec)
		case prev != rec.ContentHash:
			changes.Updated = append(changes.Updated, rec)
		default:
			changes.Unchanged++
		}
	}

	return changes
}
