// orchestrator.go — batch-прогон синхронизации по всем источникам.
//
// Источники синхронизируются с bulkhead-изоляцией: сбой одного
// провайдера не прерывает остальных. Агрегатные ключи кэша
// инвалидируются один раз после всего batch-а, и только если
// хотя бы у одного источника были изменения.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
)

var (
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_sync_batch_duration_seconds",
		Help:    "Длительность batch-прогона синхронизации по всем источникам",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s … ~512s
	})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_sync_batch_runs_total",
		Help: "Количество batch-прогонов синхронизации",
	}, []string{"trigger"}) // trigger: periodic, manual
)

// AggregateWarmer — постсинхронизационный прогрев агрегатных коллекций.
// Реализуется CatalogService.
type AggregateWarmer interface {
	WarmAggregates(ctx context.Context)
}

// SyncOrchestrator — планировщик синхронизации: периодические
// и ручные batch-прогоны по всем зарегистрированным источникам.
type SyncOrchestrator struct {
	engine      *SyncEngine
	cache       *cache.TieredCache
	warmer      AggregateWarmer
	interval    time.Duration
	parallelism int
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncOrchestrator создаёт оркестратор.
// parallelism — максимум одновременно синхронизируемых источников (минимум 1).
func NewSyncOrchestrator(
	engine *SyncEngine,
	tieredCache *cache.TieredCache,
	warmer AggregateWarmer,
	interval time.Duration,
	parallelism int,
	logger *slog.Logger,
) *SyncOrchestrator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &SyncOrchestrator{
		engine:      engine,
		cache:       tieredCache,
		warmer:      warmer,
		interval:    interval,
		parallelism: parallelism,
		logger:      logger.With(slog.String("component", "sync_orchestrator")),
	}
}

// Start запускает периодические batch-прогоны в фоне.
func (o *SyncOrchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)

		o.logger.Info("Периодическая синхронизация запущена",
			slog.String("interval", o.interval.String()),
			slog.Int("parallelism", o.parallelism),
			slog.Int("sources", len(o.engine.Sources())),
		)

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				o.logger.Info("Периодическая синхронизация остановлена")
				return
			case <-ticker.C:
				batchRunsTotal.WithLabelValues("periodic").Inc()
				o.RunBatch(ctx, nil, false)
			}
		}
	}()
}

// Stop останавливает периодическую синхронизацию и дожидается завершения.
func (o *SyncOrchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
}

// RunBatch выполняет один batch-прогон.
// sourceIDs — подмножество источников; пустой срез означает все.
// Сбой одного источника не прерывает остальные; результат агрегируется.
func (o *SyncOrchestrator) RunBatch(ctx context.Context, sourceIDs []string, dryRun bool) *model.BatchResult {
	sources := sourceIDs
	if len(sources) == 0 {
		sources = o.engine.Sources()
	}
	result := &model.BatchResult{
		Runs:      make([]*model.SyncRun, 0, len(sources)),
		StartedAt: time.Now().UTC(),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.parallelism)
	)

	for _, sourceID := range sources {
		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			run, err := o.engine.SyncSource(ctx, sourceID, dryRun)

			mu.Lock()
			defer mu.Unlock()
			if run != nil {
				result.Runs = append(result.Runs, run)
				result.TotalFetched += run.Fetched
				result.TotalChanged += run.New + run.Updated
				result.TotalUnchanged += run.Unchanged
				result.TotalWritten += run.Written
				if run.New+run.Updated > 0 {
					result.ChangedSources = append(result.ChangedSources, sourceID)
				}
			}
			if err != nil {
				result.Failed++
			}
		}(sourceID)
	}
	wg.Wait()

	result.FinishedAt = time.Now().UTC()
	batchDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())

	// Агрегатные ключи инвалидируются один раз на batch,
	// и только при реальных изменениях
	if !dryRun && len(result.ChangedSources) > 0 {
		for _, key := range cache.AggregateKeys() {
			o.cache.Delete(ctx, key)
		}
		if o.warmer != nil {
			o.warmer.WarmAggregates(ctx)
		}
	}

	o.logger.Info("Batch-синхронизация завершена",
		slog.Bool("dry_run", dryRun),
		slog.Int("sources", len(sources)),
		slog.Int("failed", result.Failed),
		slog.Int("fetched", result.TotalFetched),
		slog.Int("changed", result.TotalChanged),
		slog.Int("written", result.TotalWritten),
		slog.String("change_rate", fmt.Sprintf("%.1f%%", result.ChangeRatePercent())),
	)

	return result
}
