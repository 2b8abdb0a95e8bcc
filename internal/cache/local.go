// local.go — локальный fallback-кэш: ограниченный по размеру, потокобезопасный,
// с LRU-вытеснением и двумя горизонтами истечения (fresh / stale).
//
// LRU-структура — hashicorp/golang-lru/v2, поверх неё — проверка горизонтов
// при каждом Get (lazy purge) плюс периодический sweep, чтобы ограничить
// память от ключей write-once/never-read-again.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики локального кэша.
var (
	localHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_local_cache_hits_total",
		Help: "Попадания в локальный кэш (fresh)",
	})
	localStaleHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_local_cache_stale_hits_total",
		Help: "Попадания в локальный кэш в stale-окне",
	})
	localMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_local_cache_misses_total",
		Help: "Промахи локального кэша (включая истёкшие записи)",
	})
	localEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_local_cache_evictions_total",
		Help: "LRU-вытеснения при превышении ёмкости",
	})
	localSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_local_cache_swept_total",
		Help: "Записи, удалённые периодическим sweep-ом по stale-горизонту",
	})
)

// LocalStoreStats — накопительная статистика локального кэша.
type LocalStoreStats struct {
	Hits      uint64 `json:"hits"`
	StaleHits uint64 `json:"stale_hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// LocalStore — локальный fallback-кэш с LRU-вытеснением и fresh/stale горизонтами.
// Внутренняя структура принадлежит исключительно этому типу,
// внешний код к ней напрямую не обращается.
type LocalStore[V any] struct {
	lru    *lru.Cache[string, *entry[V]]
	logger *slog.Logger

	hits      atomic.Uint64
	staleHits atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLocalStore создаёт локальный кэш на maxSize записей.
func NewLocalStore[V any](maxSize int, logger *slog.Logger) (*LocalStore[V], error) {
	c, err := lru.New[string, *entry[V]](maxSize)
	if err != nil {
		return nil, fmt.Errorf("создание LRU-кэша: %w", err)
	}
	return &LocalStore[V]{
		lru:    c,
		logger: logger.With(slog.String("component", "local_cache")),
	}, nil
}

// Get возвращает (значение, isStale, found).
// Запись с пройденным stale-горизонтом удаляется и считается промахом.
// Каждый успешный Get перемещает запись в MRU-позицию.
func (s *LocalStore[V]) Get(key string) (V, bool, bool) {
	var zero V

	e, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		localMissesTotal.Inc()
		return zero, false, false
	}

	now := time.Now()
	if e.isExpired(now) {
		// Lazy purge: stale-горизонт пройден
		s.lru.Remove(key)
		s.misses.Add(1)
		localMissesTotal.Inc()
		return zero, false, false
	}

	if e.isFresh(now) {
		s.hits.Add(1)
		localHitsTotal.Inc()
		return e.value, false, true
	}

	s.staleHits.Add(1)
	localStaleHitsTotal.Inc()
	return e.value, true, true
}

// Set добавляет или обновляет запись.
// ttl — fresh-горизонт, staleTTL — stale-горизонт (отсчитываются от момента записи).
// При превышении ёмкости LRU вытесняет наименее используемую запись.
func (s *LocalStore[V]) Set(key string, value V, ttl, staleTTL time.Duration) {
	now := time.Now()
	e := &entry[V]{
		value:      value,
		freshUntil: now.Add(ttl),
		staleUntil: now.Add(staleTTL),
		createdAt:  now,
	}
	if evicted := s.lru.Add(key, e); evicted {
		s.evictions.Add(1)
		localEvictionsTotal.Inc()
	}
}

// Delete удаляет запись (инвалидация).
func (s *LocalStore[V]) Delete(key string) {
	s.lru.Remove(key)
}

// Len возвращает текущее количество записей.
func (s *LocalStore[V]) Len() int {
	return s.lru.Len()
}

// PurgeExpired удаляет все записи с пройденным stale-горизонтом.
// Возвращает количество удалённых записей.
func (s *LocalStore[V]) PurgeExpired() int {
	now := time.Now()
	removed := 0
	for _, key := range s.lru.Keys() {
		// Peek не меняет LRU-порядок
		e, ok := s.lru.Peek(key)
		if !ok {
			continue
		}
		if e.isExpired(now) {
			s.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		localSweptTotal.Add(float64(removed))
	}
	return removed
}

// StartSweeper запускает фоновую горутину периодической очистки истёкших записей.
// Вызывается один раз при старте приложения.
func (s *LocalStore[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.PurgeExpired()
				if removed > 0 {
					s.logger.Debug("Sweep локального кэша",
						slog.Int("removed", removed),
						slog.Int("size", s.Len()),
					)
				}
			}
		}
	}()

	s.logger.Info("Sweeper локального кэша запущен",
		slog.String("interval", interval.String()),
	)
}

// StopSweeper останавливает фоновую горутину очистки и ждёт её завершения.
func (s *LocalStore[V]) StopSweeper() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Stats возвращает снимок накопительной статистики.
func (s *LocalStore[V]) Stats() LocalStoreStats {
	return LocalStoreStats{
		Hits:      s.hits.Load(),
		StaleHits: s.staleHits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Size:      s.Len(),
	}
}
