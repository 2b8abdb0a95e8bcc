package cache

// Ключи кэшируемых коллекций каталога.
// Пространство ключей маленькое и конечное: агрегаты + по одному ключу на провайдера.
const (
	// KeyFullCatalog — полный агрегированный каталог всех провайдеров.
	KeyFullCatalog = "catalog:full"
	// KeyUniqueModels — дедуплицированное представление «уникальные модели».
	KeyUniqueModels = "catalog:unique"

	providerKeyPrefix = "catalog:provider:"
)

// ProviderKey возвращает ключ коллекции каталога одного провайдера.
func ProviderKey(sourceID string) string {
	return providerKeyPrefix + sourceID
}

// ParseProviderKey извлекает slug провайдера из per-source ключа.
// Возвращает false для агрегатных и посторонних ключей.
func ParseProviderKey(key string) (string, bool) {
	if len(key) <= len(providerKeyPrefix) || key[:len(providerKeyPrefix)] != providerKeyPrefix {
		return "", false
	}
	return key[len(providerKeyPrefix):], true
}

// AggregateKeys возвращает ключи агрегатных коллекций,
// инвалидируемые один раз после batch-синхронизации.
func AggregateKeys() []string {
	return []string{KeyFullCatalog, KeyUniqueModels}
}
