package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведённое время")
}

func TestWarmerCoalescesConcurrentRequests(t *testing.T) {
	coord := NewRebuildCoordinator()
	w := NewCacheWarmer(coord, 2, 16, 0, time.Minute, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	var fetches atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		close(started)
		<-release
		return []byte(`{"models":[]}`), nil
	}
	populate := func(ctx context.Context, payload []byte) {}

	if !w.Warm("catalog:full", fetch, populate) {
		t.Fatal("первый Warm должен быть принят")
	}
	<-started

	// Пока rebuild в полёте, остальные запросы коалесцируются
	const extra = 9
	for i := 0; i < extra; i++ {
		if w.Warm("catalog:full", fetch, populate) {
			t.Error("Warm во время выполняющегося rebuild-а должен коалесцироваться")
		}
	}

	close(release)
	waitFor(t, time.Second, func() bool { return w.Stats().Refreshes == 1 })

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch должен выполниться ровно один раз, выполнился %d", got)
	}
	stats := w.Stats()
	if stats.Coalesced != extra {
		t.Errorf("ожидалось %d коалесцированных прогревов, получено %d", extra, stats.Coalesced)
	}
}

func TestWarmerMinIntervalThrottling(t *testing.T) {
	coord := NewRebuildCoordinator()
	w := NewCacheWarmer(coord, 1, 16, time.Hour, time.Minute, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	fetch := func(ctx context.Context) ([]byte, error) { return []byte("{}"), nil }
	populate := func(ctx context.Context, payload []byte) {}

	if !w.Warm("catalog:full", fetch, populate) {
		t.Fatal("первый Warm должен быть принят")
	}
	waitFor(t, time.Second, func() bool { return w.Stats().Refreshes == 1 })

	// Повторная попытка в пределах min-interval пропускается
	if w.Warm("catalog:full", fetch, populate) {
		t.Error("Warm в пределах min-interval должен быть пропущен")
	}
	if w.Stats().Skipped == 0 {
		t.Error("пропуск по min-interval должен учитываться в статистике")
	}

	// ForceWarm игнорирует троттлинг
	if !w.ForceWarm("catalog:full", fetch, populate) {
		t.Error("ForceWarm должен игнорировать min-interval")
	}
	waitFor(t, time.Second, func() bool { return w.Stats().Refreshes == 2 })
}

func TestWarmerQueueOverflowDropsTask(t *testing.T) {
	coord := NewRebuildCoordinator()
	w := NewCacheWarmer(coord, 1, 1, 0, time.Minute, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	started := make(chan struct{})
	release := make(chan struct{})

	blocking := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		return []byte("{}"), nil
	}
	instant := func(ctx context.Context) ([]byte, error) { return []byte("{}"), nil }
	populate := func(ctx context.Context, payload []byte) {}

	// Первый ключ занимает единственный worker
	if !w.Warm("catalog:provider:a", blocking, populate) {
		t.Fatal("первый Warm должен быть принят")
	}
	<-started

	// Второй ключ занимает единственное место в очереди
	if !w.Warm("catalog:provider:b", instant, populate) {
		t.Fatal("второй Warm должен поместиться в очередь")
	}

	// Третий ключ отбрасывается: очередь переполнена
	if w.Warm("catalog:provider:c", instant, populate) {
		t.Error("Warm при переполненной очереди должен быть отброшен")
	}
	// Блокировка отброшенного ключа освобождена для следующей попытки
	if coord.Held("catalog:provider:c") {
		t.Error("блокировка отброшенного задания должна быть освобождена")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return w.Stats().Refreshes == 2 })
}

func TestWarmerFetchErrorKeepsStale(t *testing.T) {
	coord := NewRebuildCoordinator()
	w := NewCacheWarmer(coord, 1, 16, 0, time.Minute, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	var populated atomic.Bool
	fetch := func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("источник недоступен")
	}
	populate := func(ctx context.Context, payload []byte) { populated.Store(true) }

	if !w.Warm("catalog:full", fetch, populate) {
		t.Fatal("Warm должен быть принят")
	}
	waitFor(t, time.Second, func() bool { return w.Stats().Errors == 1 })

	if populated.Load() {
		t.Error("populate не должен вызываться при ошибке fetch")
	}
	// Блокировка освобождена: следующая попытка возможна
	if coord.Held("catalog:full") {
		t.Error("блокировка должна освобождаться после ошибки fetch")
	}
}

func TestWarmerStopReleasesQueuedLocks(t *testing.T) {
	coord := NewRebuildCoordinator()
	w := NewCacheWarmer(coord, 1, 2, 0, time.Minute, testLogger())
	w.Start(context.Background())

	started := make(chan struct{})
	blockingFetch := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-ctx.Done() // держим worker-а до остановки
		return nil, ctx.Err()
	}
	fetch := func(ctx context.Context) ([]byte, error) { return []byte("{}"), nil }
	populate := func(ctx context.Context, payload []byte) {}

	if !w.ForceWarm("catalog:full", blockingFetch, populate) {
		t.Fatal("первое задание должно быть принято")
	}
	<-started

	// Worker занят — эти задания остаются в очереди с захваченными блокировками
	if !w.ForceWarm("catalog:provider:openai", fetch, populate) {
		t.Fatal("второе задание должно встать в очередь")
	}
	if !w.ForceWarm("catalog:provider:mistral", fetch, populate) {
		t.Fatal("третье задание должно встать в очередь")
	}

	w.Stop()

	// Остановка не должна оставлять захваченных блокировок:
	// выполненные задания освобождают их сами, оставшиеся — при drain-е
	for _, key := range []string{"catalog:full", "catalog:provider:openai", "catalog:provider:mistral"} {
		if coord.Held(key) {
			t.Errorf("блокировка %s осталась захваченной после Stop", key)
		}
	}
}
