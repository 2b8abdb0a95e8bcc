package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubDistStore — стаб распределённого кэша для тестов TieredCache.
type stubDistStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
}

func newStubDistStore() *stubDistStore {
	return &stubDistStore{data: make(map[string][]byte)}
}

func (s *stubDistStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	val, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return val, nil
}

func (s *stubDistStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *stubDistStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *stubDistStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func newTestTiered(t *testing.T, dist DistributedStore) *TieredCache {
	t.Helper()
	local, err := NewLocalStore[[]byte](100, testLogger())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return NewTieredCache(dist, local, time.Minute, time.Hour, testLogger())
}

// TestTieredCache_DistributedHit проверяет хит распределённого уровня
// и сквозную запись в локальный.
func TestTieredCache_DistributedHit(t *testing.T) {
	dist := newStubDistStore()
	tc := newTestTiered(t, dist)
	ctx := context.Background()

	dist.data["k1"] = []byte("payload")

	val, freshness := tc.Get(ctx, "k1")
	if freshness != Fresh {
		t.Fatalf("freshness = %v, ожидался Fresh", freshness)
	}
	if string(val) != "payload" {
		t.Errorf("val = %q, ожидался %q", val, "payload")
	}

	// Сквозная запись: значение теперь и в локальном уровне
	localVal, stale, found := tc.local.Get("k1")
	if !found || stale {
		t.Fatal("ожидалась fresh-запись в локальном уровне после сквозной записи")
	}
	if string(localVal) != "payload" {
		t.Errorf("локальное значение = %q, ожидался %q", localVal, "payload")
	}
}

// TestTieredCache_DistributedErrorFallsBackToLocal проверяет, что любая ошибка
// Redis эквивалентна промаху и не доходит до вызывающего кода.
func TestTieredCache_DistributedErrorFallsBackToLocal(t *testing.T) {
	dist := newStubDistStore()
	tc := newTestTiered(t, dist)
	ctx := context.Background()

	tc.local.Set("k1", []byte("local-payload"), time.Minute, time.Hour)
	dist.getErr = errors.New("connection refused")

	val, freshness := tc.Get(ctx, "k1")
	if freshness != Fresh {
		t.Fatalf("freshness = %v, ожидался Fresh из локального уровня", freshness)
	}
	if string(val) != "local-payload" {
		t.Errorf("val = %q, ожидался %q", val, "local-payload")
	}
}

// TestTieredCache_LocalStale проверяет отдачу stale-данных при промахе Redis.
func TestTieredCache_LocalStale(t *testing.T) {
	dist := newStubDistStore()
	tc := newTestTiered(t, dist)
	ctx := context.Background()

	tc.local.Set("k1", []byte("old"), 5*time.Millisecond, time.Hour)
	time.Sleep(30 * time.Millisecond)

	val, freshness := tc.Get(ctx, "k1")
	if freshness != Stale {
		t.Fatalf("freshness = %v, ожидался Stale", freshness)
	}
	if string(val) != "old" {
		t.Errorf("val = %q, ожидался %q", val, "old")
	}
}

// TestTieredCache_Miss проверяет промах обоих уровней.
func TestTieredCache_Miss(t *testing.T) {
	tc := newTestTiered(t, newStubDistStore())

	val, freshness := tc.Get(context.Background(), "absent")
	if freshness != Miss {
		t.Fatalf("freshness = %v, ожидался Miss", freshness)
	}
	if val != nil {
		t.Errorf("val = %v, ожидался nil", val)
	}
}

// TestTieredCache_SetWritesBothTiers проверяет запись в оба уровня.
func TestTieredCache_SetWritesBothTiers(t *testing.T) {
	dist := newStubDistStore()
	tc := newTestTiered(t, dist)
	ctx := context.Background()

	tc.Set(ctx, "k1", []byte("v"), time.Minute, time.Hour)

	if _, ok := dist.data["k1"]; !ok {
		t.Error("значение должно попасть в распределённый уровень")
	}
	if _, _, found := tc.local.Get("k1"); !found {
		t.Error("значение должно попасть в локальный уровень")
	}
}

// TestTieredCache_SetSwallowsDistributedError проверяет, что неудачная запись
// в Redis не фатальна — локальный уровень всё равно получает значение.
func TestTieredCache_SetSwallowsDistributedError(t *testing.T) {
	dist := newStubDistStore()
	dist.setErr = errors.New("timeout")
	tc := newTestTiered(t, dist)

	tc.Set(context.Background(), "k1", []byte("v"), time.Minute, time.Hour)

	val, _, found := tc.local.Get("k1")
	if !found {
		t.Fatal("локальный уровень должен получить значение несмотря на ошибку Redis")
	}
	if string(val) != "v" {
		t.Errorf("val = %q, ожидался %q", val, "v")
	}
}

// TestTieredCache_Delete проверяет инвалидацию в обоих уровнях.
func TestTieredCache_Delete(t *testing.T) {
	dist := newStubDistStore()
	tc := newTestTiered(t, dist)
	ctx := context.Background()

	tc.Set(ctx, "k1", []byte("v"), time.Minute, time.Hour)
	tc.Delete(ctx, "k1")

	if _, freshness := tc.Get(ctx, "k1"); freshness != Miss {
		t.Fatal("ожидался Miss после Delete")
	}
}
