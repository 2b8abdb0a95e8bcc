// Пакет config — загрузка и валидация конфигурации Catalog Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Catalog Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Redis (распределённый кэш) ---

	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis (пустая строка — без авторизации)
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// Таймаут операций Redis (dial/read/write)
	RedisOpTimeout time.Duration
	// Префикс ключей (namespace на общем инстансе)
	RedisKeyPrefix string

	// --- Кэш коллекций ---

	// Максимальное количество записей локального кэша
	CacheLocalMaxSize int
	// Fresh-горизонт записей кэша
	CacheFreshTTL time.Duration
	// Stale-горизонт записей кэша (grace period)
	CacheStaleTTL time.Duration
	// Интервал периодической очистки локального кэша
	CacheSweepInterval time.Duration

	// --- Cache Warmer ---

	// Минимальный интервал между rebuilds одного ключа
	WarmMinInterval time.Duration
	// Количество фоновых worker-ов
	WarmWorkers int
	// Глубина очереди заданий warm (back-pressure: при переполнении — skip)
	WarmQueueDepth int
	// Таймаут одного warm-задания (fetch + populate)
	WarmTimeout time.Duration

	// --- Синхронизация ---

	// Интервал периодической синхронизации всех источников
	SyncInterval time.Duration
	// Максимум параллельных источников в batch-е (1 = последовательно)
	SyncParallelism int
	// Таймаут fetch-а одного источника
	SyncFetchTimeout time.Duration
	// Дополнительные исключаемые из fingerprint поля (через запятую)
	FingerprintExclude []string

	// --- Upstream-источники каталога ---

	// Зарегистрированные провайдеры (slug → URL списка моделей)
	Sources []SourceConfig

	// --- Dependency health (topologymetrics) ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Добавлять ли лейбл isentry=yes
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("CM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}

	// CM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("CM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	// CM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("CM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("CM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("CM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// CM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("CM_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("CM_DB_NAME", "modelhub")
	cfg.DBUser = getEnvDefault("CM_DB_USER", "modelhub")

	// CM_DB_PASSWORD — обязательная переменная
	cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("CM_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvDefault("CM_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("CM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("CM_REDIS_DB: %w", err)
	}

	// CM_REDIS_OP_TIMEOUT — таймаут операций Redis (по умолчанию 2s).
	// Короткий: медленный Redis не должен блокировать read path.
	cfg.RedisOpTimeout, err = getEnvDuration("CM_REDIS_OP_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_REDIS_OP_TIMEOUT: %w", err)
	}

	cfg.RedisKeyPrefix = getEnvDefault("CM_REDIS_KEY_PREFIX", "cm:")

	// --- Кэш коллекций ---

	// CM_CACHE_LOCAL_MAX_SIZE — ёмкость локального кэша (по умолчанию 500)
	cfg.CacheLocalMaxSize, err = getEnvInt("CM_CACHE_LOCAL_MAX_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_LOCAL_MAX_SIZE: %w", err)
	}

	// CM_CACHE_FRESH_TTL — fresh-горизонт (по умолчанию 15m)
	cfg.CacheFreshTTL, err = getEnvDuration("CM_CACHE_FRESH_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_FRESH_TTL: %w", err)
	}

	// CM_CACHE_STALE_TTL — stale-горизонт (по умолчанию 60m)
	cfg.CacheStaleTTL, err = getEnvDuration("CM_CACHE_STALE_TTL", 60*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_STALE_TTL: %w", err)
	}
	if cfg.CacheStaleTTL < cfg.CacheFreshTTL {
		return nil, fmt.Errorf("CM_CACHE_STALE_TTL: stale-горизонт (%s) не может быть меньше fresh-горизонта (%s)",
			cfg.CacheStaleTTL, cfg.CacheFreshTTL)
	}

	cfg.CacheSweepInterval, err = getEnvDuration("CM_CACHE_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_SWEEP_INTERVAL: %w", err)
	}

	// --- Cache Warmer ---

	// CM_WARM_MIN_INTERVAL — минимальный интервал rebuilds ключа (по умолчанию 30s)
	cfg.WarmMinInterval, err = getEnvDuration("CM_WARM_MIN_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_WARM_MIN_INTERVAL: %w", err)
	}

	cfg.WarmWorkers, err = getEnvInt("CM_WARM_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("CM_WARM_WORKERS: %w", err)
	}
	cfg.WarmQueueDepth, err = getEnvInt("CM_WARM_QUEUE_DEPTH", 16)
	if err != nil {
		return nil, fmt.Errorf("CM_WARM_QUEUE_DEPTH: %w", err)
	}
	cfg.WarmTimeout, err = getEnvDuration("CM_WARM_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_WARM_TIMEOUT: %w", err)
	}

	// --- Синхронизация ---

	// CM_SYNC_INTERVAL — интервал периодической синхронизации (по умолчанию 1h)
	cfg.SyncInterval, err = getEnvDuration("CM_SYNC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CM_SYNC_INTERVAL: %w", err)
	}

	// CM_SYNC_PARALLELISM — по умолчанию 1: upstream API чувствительны к rate limit
	cfg.SyncParallelism, err = getEnvInt("CM_SYNC_PARALLELISM", 1)
	if err != nil {
		return nil, fmt.Errorf("CM_SYNC_PARALLELISM: %w", err)
	}
	if cfg.SyncParallelism < 1 {
		return nil, fmt.Errorf("CM_SYNC_PARALLELISM: значение должно быть >= 1")
	}

	cfg.SyncFetchTimeout, err = getEnvDuration("CM_SYNC_FETCH_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_SYNC_FETCH_TIMEOUT: %w", err)
	}

	// CM_FINGERPRINT_EXCLUDE — дополнительные волатильные поля через запятую
	if raw := getEnvDefault("CM_FINGERPRINT_EXCLUDE", ""); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				cfg.FingerprintExclude = append(cfg.FingerprintExclude, f)
			}
		}
	}

	// --- Upstream-источники ---

	// CM_SOURCES — список провайдеров через запятую в формате slug=url:
	//   openai=https://api.openai.com/v1/models,openrouter=https://openrouter.ai/api/v1/models
	// Токен авторизации источника — в CM_SOURCE_TOKEN_<SLUG> (slug в верхнем
	// регистре, дефисы заменены на подчёркивания).
	if raw := getEnvDefault("CM_SOURCES", ""); raw != "" {
		cfg.Sources, err = parseSources(raw)
		if err != nil {
			return nil, fmt.Errorf("CM_SOURCES: %w", err)
		}
	}

	// --- Dependency health ---

	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "modelhub")
	cfg.DephealthCheckInterval, err = getEnvDuration("CM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// SourceConfig — один upstream-провайдер каталога.
type SourceConfig struct {
	// Slug — идентификатор источника ([a-z0-9-])
	Slug string
	// URL — endpoint списка моделей провайдера
	URL string
	// Token — bearer-токен авторизации (пустая строка — без авторизации)
	Token string
}

// parseSources разбирает CM_SOURCES (slug=url через запятую).
func parseSources(raw string) ([]SourceConfig, error) {
	var sources []SourceConfig
	seen := make(map[string]struct{})

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		slug, url, ok := strings.Cut(pair, "=")
		slug = strings.TrimSpace(slug)
		url = strings.TrimSpace(url)
		if !ok || slug == "" || url == "" {
			return nil, fmt.Errorf("некорректная пара %q, ожидается slug=url", pair)
		}
		if _, dup := seen[slug]; dup {
			return nil, fmt.Errorf("дублирующийся источник %q", slug)
		}
		seen[slug] = struct{}{}

		tokenEnv := "CM_SOURCE_TOKEN_" + strings.ToUpper(strings.ReplaceAll(slug, "-", "_"))
		sources = append(sources, SourceConfig{
			Slug:  slug,
			URL:   url,
			Token: os.Getenv(tokenEnv),
		})
	}
	return sources, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
