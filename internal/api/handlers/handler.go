// handler.go — основной обработчик API Catalog Module.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/repository"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/service"
)

// APIHandler — основной обработчик API Catalog Module.
type APIHandler struct {
	health  *HealthHandler
	catalog *service.CatalogService
	engine  *service.SyncEngine
	orch    *service.SyncOrchestrator
	warmer  *service.CacheWarmer
	cache   *cache.TieredCache
	runs    repository.SyncRunRepository
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	catalog *service.CatalogService,
	engine *service.SyncEngine,
	orch *service.SyncOrchestrator,
	warmer *service.CacheWarmer,
	tieredCache *cache.TieredCache,
	runs repository.SyncRunRepository,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		catalog: catalog,
		engine:  engine,
		orch:    orch,
		warmer:  warmer,
		cache:   tieredCache,
		runs:    runs,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt читает целочисленный query-параметр с значением по умолчанию.
func queryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}
