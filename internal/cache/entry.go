// Пакет cache — двухуровневый кэш коллекций каталога:
// распределённый Redis + локальный in-memory LRU fallback.
//
// Каждая запись имеет два горизонта истечения:
//   - freshUntil — до этого момента запись «свежая»
//   - staleUntil — до этого момента запись можно отдавать как stale
//     (stale-while-revalidate), после — запись удаляется
package cache

import "time"

// Freshness — результат чтения из кэша: Fresh, Stale или Miss.
type Freshness int

const (
	// Miss — значения нет ни в одном уровне кэша.
	Miss Freshness = iota
	// Fresh — значение в пределах fresh-горизонта.
	Fresh
	// Stale — fresh-горизонт истёк, но stale-горизонт ещё нет.
	// Вызывающий код обязан инициировать фоновый warm перед отдачей stale-данных.
	Stale
)

// String возвращает текстовое представление (для логов и метрик).
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// entry — запись локального кэша с двумя горизонтами истечения.
type entry[V any] struct {
	value      V
	freshUntil time.Time
	staleUntil time.Time
	createdAt  time.Time
}

// isFresh — запись в пределах fresh-горизонта.
func (e *entry[V]) isFresh(now time.Time) bool {
	return now.Before(e.freshUntil) || now.Equal(e.freshUntil)
}

// isExpired — stale-горизонт пройден, запись подлежит удалению.
func (e *entry[V]) isExpired(now time.Time) bool {
	return now.After(e.staleUntil)
}
