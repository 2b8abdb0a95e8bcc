// warmer.go — фоновый прогрев кэша (stale-while-revalidate).
//
// CacheWarmer принимает задания «перестроить коллекцию и положить в кэш»
// с горячего read path и выполняет их на ограниченном пуле worker-ов
// с ограниченной очередью (back-pressure: при переполнении задание
// отбрасывается, stale-данные продолжают отдаваться до следующей попытки).
//
// Координация через RebuildCoordinator: не более одного rebuild-а на ключ,
// плюс минимальный интервал между попытками (CM_WARM_MIN_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики прогрева.
var (
	warmRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_warm_refreshes_total",
		Help: "Успешно выполненные прогревы кэша",
	})
	warmCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_warm_coalesced_total",
		Help: "Прогревы, коалесцированные на уже выполняющийся rebuild",
	})
	warmSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_warm_skipped_total",
		Help: "Прогревы, пропущенные по min-interval или переполнению очереди",
	})
	warmErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_warm_errors_total",
		Help: "Ошибки fetch при прогреве",
	})
	warmInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_warm_in_flight",
		Help: "Прогревы, выполняющиеся в данный момент",
	})
)

// WarmerStats — накопительная статистика прогрева (операционная видимость).
type WarmerStats struct {
	Refreshes uint64 `json:"refreshes"`
	Coalesced uint64 `json:"coalesced"`
	Skipped   uint64 `json:"skipped"`
	Errors    uint64 `json:"errors"`
	InFlight  int64  `json:"in_flight"`
}

// FetchFunc выполняет дорогую перестройку коллекции.
type FetchFunc func(ctx context.Context) ([]byte, error)

// PopulateFunc записывает результат перестройки в кэш.
type PopulateFunc func(ctx context.Context, payload []byte)

// warmTask — одно задание прогрева.
type warmTask struct {
	key      string
	fetch    FetchFunc
	populate PopulateFunc
}

// CacheWarmer — пул фоновых worker-ов прогрева кэша.
type CacheWarmer struct {
	coord       *RebuildCoordinator
	workers     int
	minInterval time.Duration
	taskTimeout time.Duration
	queue       chan warmTask
	logger      *slog.Logger

	refreshes atomic.Uint64
	coalesced atomic.Uint64
	skipped   atomic.Uint64
	errors    atomic.Uint64
	inFlight  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCacheWarmer создаёт warmer с пулом из workers горутин
// и очередью глубиной queueDepth.
func NewCacheWarmer(
	coord *RebuildCoordinator,
	workers, queueDepth int,
	minInterval, taskTimeout time.Duration,
	logger *slog.Logger,
) *CacheWarmer {
	if workers < 1 {
		workers = 1
	}
	return &CacheWarmer{
		coord:       coord,
		workers:     workers,
		minInterval: minInterval,
		taskTimeout: taskTimeout,
		queue:       make(chan warmTask, queueDepth),
		logger:      logger.With(slog.String("component", "cache_warmer")),
	}
}

// Start запускает worker-пул. Вызывается один раз при старте приложения.
func (w *CacheWarmer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx)
	}

	w.logger.Info("Cache warmer запущен",
		slog.Int("workers", w.workers),
		slog.Int("queue_depth", cap(w.queue)),
		slog.String("min_interval", w.minInterval.String()),
	)
}

// Stop останавливает worker-пул и ждёт завершения текущих заданий.
// Задания, оставшиеся в очереди, отбрасываются с освобождением
// их блокировок — enqueue захватывает блокировку до постановки в очередь.
func (w *CacheWarmer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	for {
		select {
		case task := <-w.queue:
			w.coord.Release(task.key)
			w.skipped.Add(1)
			warmSkippedTotal.Inc()
		default:
			w.logger.Info("Cache warmer остановлен")
			return
		}
	}
}

// Warm ставит фоновый прогрев ключа в очередь (fire-and-forget с горячего пути).
// Возвращает true, если задание принято к выполнению.
//
// Пропускается (false), если:
//   - с последней попытки прошло меньше min-interval (skipped)
//   - rebuild ключа уже выполняется (coalesced)
//   - очередь worker-ов переполнена (skipped, back-pressure)
func (w *CacheWarmer) Warm(key string, fetch FetchFunc, populate PopulateFunc) bool {
	if !w.coord.ShouldRefresh(key, w.minInterval) {
		w.skipped.Add(1)
		warmSkippedTotal.Inc()
		return false
	}
	return w.enqueue(key, fetch, populate)
}

// ForceWarm ставит прогрев в очередь, минуя min-interval троттлинг.
// Используется после инвалидации при синхронизации: следующий читатель
// не должен платить полную стоимость перестройки.
func (w *CacheWarmer) ForceWarm(key string, fetch FetchFunc, populate PopulateFunc) bool {
	return w.enqueue(key, fetch, populate)
}

// enqueue захватывает блокировку и помещает задание в очередь.
func (w *CacheWarmer) enqueue(key string, fetch FetchFunc, populate PopulateFunc) bool {
	if !w.coord.TryAcquire(key) {
		// Rebuild уже в полёте — коалесцируемся (не ошибка)
		w.coalesced.Add(1)
		warmCoalescedTotal.Inc()
		return false
	}

	select {
	case w.queue <- warmTask{key: key, fetch: fetch, populate: populate}:
		return true
	default:
		// Очередь переполнена: освобождаем блокировку и отбрасываем задание
		w.coord.Release(key)
		w.skipped.Add(1)
		warmSkippedTotal.Inc()
		w.logger.Warn("Очередь прогрева переполнена, задание отброшено",
			slog.String("key", key),
		)
		return false
	}
}

// worker — цикл одного worker-а пула.
func (w *CacheWarmer) worker(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.execute(ctx, task)
		}
	}
}

// execute выполняет одно задание: fetch → populate → release.
// Ошибка fetch логируется и считается; кэш не ухудшается —
// stale-данные продолжают отдаваться до следующего успешного прогрева.
func (w *CacheWarmer) execute(ctx context.Context, task warmTask) {
	defer w.coord.Release(task.key)

	w.inFlight.Add(1)
	warmInFlight.Inc()
	defer func() {
		w.inFlight.Add(-1)
		warmInFlight.Dec()
	}()

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	start := time.Now()
	payload, err := task.fetch(taskCtx)
	if err != nil {
		w.errors.Add(1)
		warmErrorsTotal.Inc()
		w.logger.Warn("Ошибка перестройки коллекции при прогреве",
			slog.String("key", task.key),
			slog.String("error", err.Error()),
		)
		return
	}

	task.populate(taskCtx, payload)
	w.refreshes.Add(1)
	warmRefreshesTotal.Inc()

	w.logger.Debug("Коллекция прогрета",
		slog.String("key", task.key),
		slog.Duration("duration", time.Since(start)),
		slog.Int("bytes", len(payload)),
	)
}

// Stats возвращает снимок накопительной статистики.
func (w *CacheWarmer) Stats() WarmerStats {
	return WarmerStats{
		Refreshes: w.refreshes.Load(),
		Coalesced: w.coalesced.Load(),
		Skipped:   w.skipped.Load(),
		Errors:    w.errors.Load(),
		InFlight:  w.inFlight.Load(),
	}
}
