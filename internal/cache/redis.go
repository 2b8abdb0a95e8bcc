// redis.go — клиент распределённого кэша (Redis) для Catalog Module.
// Тонкая обёртка над redis/go-redis/v9: Get/Set/Delete/Exists с TTL.
//
// Redis разделяется всеми инстансами модуля и может быть недоступен
// в любой момент — все ошибки трактуются вызывающим кодом как cache miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss — ключ отсутствует в распределённом кэше.
var ErrCacheMiss = errors.New("ключ не найден в кэше")

// DistributedStore — интерфейс распределённого key/value кэша.
// Реализуется RedisStore; в тестах подменяется стабами.
type DistributedStore interface {
	// Get возвращает значение ключа или ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set записывает значение с TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключ. Отсутствие ключа — не ошибка.
	Delete(ctx context.Context, key string) error
	// Exists проверяет наличие ключа.
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisStore — реализация DistributedStore через go-redis.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewRedisStore создаёт клиент распределённого кэша.
// opTimeout — таймаут сетевых операций (CM_REDIS_OP_TIMEOUT),
// чтобы медленный Redis никогда не блокировал read path надолго.
// keyPrefix позволяет разделять namespace-ы на общем Redis-инстансе.
func NewRedisStore(addr, password string, db int, opTimeout time.Duration, keyPrefix string, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(slog.String("component", "redis_store")),
	}
}

// Get возвращает значение ключа или ErrCacheMiss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return val, nil
}

// Set записывает значение с TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие ключа.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

// Close закрывает подключение к Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CheckReady проверяет доступность Redis для readiness probe.
// Redis — не критичная зависимость: при недоступности сервис деградирует
// до локального кэша, поэтому статус "degraded", а не "fail".
func (s *RedisStore) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return "degraded", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
