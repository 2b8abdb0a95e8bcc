// coordinator.go — координатор rebuild-ов: per-key взаимное исключение
// и троттлинг частоты попыток.
//
// Гарантирует не более одного rebuild-а на ключ в каждый момент времени
// в пределах процесса: N конкурентных запросов к истёкшему ключу не
// порождают N дорогих перестроек (cache stampede). Проигравшие вызовы
// либо коалесцируются (отдают stale-данные или пропускают работу),
// либо блокируются в Acquire до завершения текущего rebuild-а.
package service

import (
	"context"
	"sync"
	"time"
)

// rebuildLock — состояние блокировки одного ключа.
// sem — канал-семафор ёмкостью 1: запись захватывает, чтение освобождает.
type rebuildLock struct {
	sem         chan struct{}
	lastAttempt time.Time
}

// RebuildCoordinator — реестр per-key блокировок.
// Блокировки создаются лениво при первом обращении и живут до конца процесса:
// пространство ключей маленькое и конечное (slug-и провайдеров плюс агрегаты),
// поэтому неограниченный рост реестра не представляет риска.
type RebuildCoordinator struct {
	mu    sync.Mutex
	locks map[string]*rebuildLock
}

// NewRebuildCoordinator создаёт координатор.
func NewRebuildCoordinator() *RebuildCoordinator {
	return &RebuildCoordinator{
		locks: make(map[string]*rebuildLock),
	}
}

// TryAcquire пытается захватить блокировку ключа без ожидания.
// false — rebuild уже выполняется, вызывающий код обязан коалесцироваться.
// Успешный захват фиксирует время попытки для ShouldRefresh.
func (c *RebuildCoordinator) TryAcquire(key string) bool {
	l := c.lock(key)

	select {
	case l.sem <- struct{}{}:
		c.touch(l)
		return true
	default:
		return false
	}
}

// Acquire блокируется до захвата блокировки ключа или отмены контекста.
// Используется read path-ом при промахе: ожидающий получает блокировку
// после завершения текущего rebuild-а и обязан перечитать кэш перед
// собственной перестройкой.
func (c *RebuildCoordinator) Acquire(ctx context.Context, key string) error {
	l := c.lock(key)

	select {
	case l.sem <- struct{}{}:
		c.touch(l)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release освобождает блокировку ключа. Без предшествующего захвата — no-op.
func (c *RebuildCoordinator) Release(key string) {
	l := c.lock(key)

	select {
	case <-l.sem:
	default:
	}
}

// ShouldRefresh — прошло ли не менее minInterval с последней попытки rebuild-а.
// Независим от блокировки: ограничивает частоту обращений к upstream
// даже в пределах длинного stale-окна.
func (c *RebuildCoordinator) ShouldRefresh(key string, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[key]
	if !ok || l.lastAttempt.IsZero() {
		return true
	}
	return time.Since(l.lastAttempt) >= minInterval
}

// Held возвращает true, если блокировка ключа сейчас захвачена.
func (c *RebuildCoordinator) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[key]
	return ok && len(l.sem) == 1
}

// lock возвращает блокировку ключа, создавая её при первом обращении.
func (c *RebuildCoordinator) lock(key string) *rebuildLock {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[key]
	if !ok {
		l = &rebuildLock{sem: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	return l
}

// touch фиксирует время успешного захвата для ShouldRefresh.
func (c *RebuildCoordinator) touch(l *rebuildLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.lastAttempt = time.Now()
}
