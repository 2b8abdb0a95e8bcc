// stats.go — обработчик статистики кэша GET /api/v1/cache/stats.
// Накопительные счётчики локального уровня и фонового прогрева —
// те же данные, что в Prometheus, но в JSON для ручной диагностики.
package handlers

import (
	"net/http"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/service"
)

// cacheStatsResponse — ответ GET /api/v1/cache/stats.
type cacheStatsResponse struct {
	Local  cache.LocalStoreStats `json:"local"`
	Warmer service.WarmerStats   `json:"warmer"`
}

// GetCacheStats — GET /api/v1/cache/stats.
func (h *APIHandler) GetCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Local:  h.cache.LocalStats(),
		Warmer: h.warmer.Stats(),
	})
}
