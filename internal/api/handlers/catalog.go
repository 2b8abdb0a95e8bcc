// catalog.go — обработчики чтения каталога /api/v1/catalog.
// Отдаёт кэшированные коллекции; свежесть — в заголовке X-Cache.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gomodelhub/catalog-module/internal/api/errors"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/cache"
)

// GetCatalog — GET /api/v1/catalog/{collection}.
// collection: "full" — полный каталог, "unique" — уникальные модели.
func (h *APIHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	var key string
	switch collection := chi.URLParam(r, "collection"); collection {
	case "full":
		key = cache.KeyFullCatalog
	case "unique":
		key = cache.KeyUniqueModels
	default:
		apierrors.NotFound(w, "Неизвестная коллекция: "+collection)
		return
	}
	h.serveCollection(w, r, key)
}

// GetProviderCatalog — GET /api/v1/catalog/providers/{source}.
// Коллекция каталога одного провайдера.
func (h *APIHandler) GetProviderCatalog(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if source == "" {
		apierrors.ValidationError(w, "Slug провайдера обязателен")
		return
	}
	h.serveCollection(w, r, cache.ProviderKey(source))
}

// serveCollection отдаёт сериализованную коллекцию как есть.
// Payload в кэше уже в готовом JSON-виде, повторная сериализация не нужна.
func (h *APIHandler) serveCollection(w http.ResponseWriter, r *http.Request, key string) {
	payload, freshness, err := h.catalog.GetCollection(r.Context(), key)
	if err != nil {
		h.logger.Error("Ошибка чтения коллекции", "key", key, "error", err)
		apierrors.InternalError(w, "Ошибка чтения коллекции каталога")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", freshness.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
