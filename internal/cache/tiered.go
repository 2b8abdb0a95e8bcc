// tiered.go — двухуровневый кэш: Redis (распределённый) + LocalStore (fallback).
//
// Чтение: сначала распределённый уровень, при хите — сквозная запись
// в локальный уровень; при промахе или любой ошибке Redis — локальный уровень.
// Ошибки распределённого кэша никогда не доходят до вызывающего кода —
// они эквивалентны промаху.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики двухуровневого кэша.
var (
	tieredReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_tiered_cache_reads_total",
		Help: "Чтения двухуровневого кэша по уровню и результату",
	}, []string{"tier", "result"}) // tier: distributed, local; result: fresh, stale, miss, error

	tieredWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_tiered_cache_distributed_write_errors_total",
		Help: "Неудачные записи в распределённый уровень (проглатываются)",
	})
)

// TieredCache — композиция распределённого и локального уровней кэша.
// Экземпляр создаётся при старте процесса и передаётся потребителям
// по ссылке — никаких глобальных синглтонов.
type TieredCache struct {
	dist   DistributedStore
	local  *LocalStore[[]byte]
	logger *slog.Logger

	// Горизонты по умолчанию для сквозной записи в локальный уровень
	// при хите распределённого (CM_CACHE_FRESH_TTL / CM_CACHE_STALE_TTL).
	defaultFreshTTL time.Duration
	defaultStaleTTL time.Duration
}

// NewTieredCache создаёт двухуровневый кэш.
func NewTieredCache(
	dist DistributedStore,
	local *LocalStore[[]byte],
	defaultFreshTTL, defaultStaleTTL time.Duration,
	logger *slog.Logger,
) *TieredCache {
	return &TieredCache{
		dist:            dist,
		local:           local,
		logger:          logger.With(slog.String("component", "tiered_cache")),
		defaultFreshTTL: defaultFreshTTL,
		defaultStaleTTL: defaultStaleTTL,
	}
}

// Get возвращает значение и его свежесть: Fresh, Stale или Miss.
//
// Распределённый уровень хранит данные только в пределах fresh-горизонта
// (TTL Redis = freshTTL), поэтому его хит всегда Fresh.
// При Stale вызывающий код обязан инициировать фоновый warm
// перед отдачей данных — stale никогда не отдаётся «молча навсегда».
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, Freshness) {
	// 1. Распределённый уровень
	val, err := t.dist.Get(ctx, key)
	switch {
	case err == nil:
		tieredReadsTotal.WithLabelValues("distributed", "fresh").Inc()
		// Сквозная запись в локальный уровень (best-effort)
		t.local.Set(key, val, t.defaultFreshTTL, t.defaultStaleTTL)
		return val, Fresh
	case errors.Is(err, ErrCacheMiss):
		tieredReadsTotal.WithLabelValues("distributed", "miss").Inc()
	default:
		// Любая ошибка Redis (таймаут, connection refused, сериализация)
		// эквивалентна промаху
		tieredReadsTotal.WithLabelValues("distributed", "error").Inc()
		t.logger.Warn("Распределённый кэш недоступен, переход на локальный",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	// 2. Локальный уровень
	if val, stale, found := t.local.Get(key); found {
		if stale {
			tieredReadsTotal.WithLabelValues("local", "stale").Inc()
			return val, Stale
		}
		tieredReadsTotal.WithLabelValues("local", "fresh").Inc()
		return val, Fresh
	}

	tieredReadsTotal.WithLabelValues("local", "miss").Inc()
	return nil, Miss
}

// Set записывает значение в оба уровня.
// Ошибка записи в распределённый уровень логируется и проглатывается —
// локальный уровень получает значение в любом случае.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl, staleTTL time.Duration) {
	t.local.Set(key, value, ttl, staleTTL)

	if err := t.dist.Set(ctx, key, value, ttl); err != nil {
		tieredWriteErrorsTotal.Inc()
		t.logger.Warn("Ошибка записи в распределённый кэш",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Delete инвалидирует ключ в обоих уровнях.
func (t *TieredCache) Delete(ctx context.Context, key string) {
	t.local.Delete(key)

	if err := t.dist.Delete(ctx, key); err != nil {
		t.logger.Warn("Ошибка инвалидации в распределённом кэше",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// LocalStats возвращает статистику локального уровня.
func (t *TieredCache) LocalStats() LocalStoreStats {
	return t.local.Stats()
}
