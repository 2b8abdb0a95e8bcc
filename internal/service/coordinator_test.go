package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCoordinatorTryAcquireRelease(t *testing.T) {
	c := NewRebuildCoordinator()

	if !c.TryAcquire("catalog:full") {
		t.Fatal("первый TryAcquire должен успешно захватить блокировку")
	}
	if c.TryAcquire("catalog:full") {
		t.Error("повторный TryAcquire захваченного ключа должен вернуть false")
	}
	if !c.Held("catalog:full") {
		t.Error("Held должен вернуть true для захваченного ключа")
	}

	// Другой ключ независим
	if !c.TryAcquire("catalog:provider:openai") {
		t.Error("блокировка другого ключа должна захватываться независимо")
	}

	c.Release("catalog:full")
	if c.Held("catalog:full") {
		t.Error("Held должен вернуть false после Release")
	}
	if !c.TryAcquire("catalog:full") {
		t.Error("TryAcquire после Release должен снова захватить блокировку")
	}
}

func TestCoordinatorConcurrentAcquire(t *testing.T) {
	c := NewRebuildCoordinator()

	const goroutines = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire("catalog:full") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("ровно одна горутина должна захватить блокировку, захватили %d", winners)
	}
}

func TestCoordinatorShouldRefresh(t *testing.T) {
	c := NewRebuildCoordinator()

	// Ключ без единой попытки — обновлять можно
	if !c.ShouldRefresh("catalog:full", time.Hour) {
		t.Fatal("ShouldRefresh для нового ключа должен вернуть true")
	}

	// Захват фиксирует время попытки
	c.TryAcquire("catalog:full")
	c.Release("catalog:full")

	if c.ShouldRefresh("catalog:full", time.Hour) {
		t.Error("ShouldRefresh сразу после попытки должен вернуть false при большом интервале")
	}
	if !c.ShouldRefresh("catalog:full", 0) {
		t.Error("ShouldRefresh с нулевым интервалом должен всегда возвращать true")
	}
}

func TestCoordinatorAcquireBlocksUntilRelease(t *testing.T) {
	c := NewRebuildCoordinator()
	ctx := context.Background()

	if !c.TryAcquire("catalog:full") {
		t.Fatal("TryAcquire должен захватить свободную блокировку")
	}

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		if err := c.Acquire(ctx, "catalog:full"); err != nil {
			t.Errorf("Acquire завершился с ошибкой: %v", err)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire не должен завершаться, пока блокировка захвачена")
	case <-time.After(50 * time.Millisecond):
	}

	c.Release("catalog:full")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire не захватил блокировку после Release")
	}

	if !c.Held("catalog:full") {
		t.Error("после Acquire блокировка должна быть захвачена")
	}
}

func TestCoordinatorAcquireContextCancel(t *testing.T) {
	c := NewRebuildCoordinator()

	c.TryAcquire("catalog:full")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Acquire(ctx, "catalog:full")
	}()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ожидалась context.Canceled, получено %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire не прервался по отмене контекста")
	}

	// Отменённый ожидающий не должен был захватить блокировку
	c.Release("catalog:full")
	if c.Held("catalog:full") {
		t.Error("блокировка должна быть свободна после Release")
	}
}
