// Пакет fingerprint — вычисление стабильного отпечатка содержимого записи каталога.
//
// Отпечаток — SHA-256 над канонизированным набором семантически значимых полей.
// Волатильные поля (timestamps синхронизации и т.п.) в отпечаток не входят,
// цены сериализуются десятичными строками (не float), ключи metadata
// сортируются — порядок обхода map никогда не влияет на digest.
//
// Две записи с одинаковым отпечатком считаются неизменёнными,
// с разным — изменёнными, независимо от величины различия.
// Функция чистая: не знает ни о персистентности, ни о кэшировании.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
)

// DefaultVolatileFields — ключи metadata, исключаемые из отпечатка по умолчанию:
// поля, меняющиеся при каждом fetch независимо от фактического содержимого.
var DefaultVolatileFields = []string{
	"last_synced_at",
	"synced_at",
	"fetched_at",
	"updated_at",
	"request_id",
}

// Detector вычисляет отпечатки записей каталога.
// Список исключаемых полей metadata настраивается per-source:
// провайдеры добавляют собственные волатильные поля, и жёстко зашитый
// список приводил бы к ложным «changed»-классификациям.
type Detector struct {
	defaultExcluded map[string]struct{}
	perSource       map[string]map[string]struct{}
}

// NewDetector создаёт детектор с набором исключений по умолчанию.
// extraExcluded — дополнительные глобальные исключения (CM_FINGERPRINT_EXCLUDE).
func NewDetector(extraExcluded []string) *Detector {
	excluded := make(map[string]struct{}, len(DefaultVolatileFields)+len(extraExcluded))
	for _, f := range DefaultVolatileFields {
		excluded[f] = struct{}{}
	}
	for _, f := range extraExcluded {
		excluded[f] = struct{}{}
	}
	return &Detector{
		defaultExcluded: excluded,
		perSource:       make(map[string]map[string]struct{}),
	}
}

// SetSourceExclusions задаёт дополнительные исключаемые поля metadata
// для конкретного источника (поверх глобального списка).
func (d *Detector) SetSourceExclusions(sourceID string, fields []string) {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	d.perSource[sourceID] = set
}

// Fingerprint возвращает hex SHA-256 канонической формы записи.
func (d *Detector) Fingerprint(rec *model.ModelRecord) string {
	var b strings.Builder

	// Скалярные поля в фиксированном порядке
	writeField(&b, "source_model_id", rec.SourceModelID)
	writeField(&b, "display_name", rec.DisplayName)
	writeField(&b, "description", rec.Description)
	writeField(&b, "context_window", fmt.Sprintf("%d", rec.ContextWindow))
	writeField(&b, "max_output_tokens", fmt.Sprintf("%d", rec.MaxOutputTokens))
	writeField(&b, "prompt_price_per_m", rec.PromptPricePerM)
	writeField(&b, "completion_price_per_m", rec.CompletionPricePerM)
	writeField(&b, "supports_tools", fmt.Sprintf("%t", rec.SupportsTools))
	writeField(&b, "supports_vision", fmt.Sprintf("%t", rec.SupportsVision))
	writeField(&b, "supports_streaming", fmt.Sprintf("%t", rec.SupportsStreaming))
	writeField(&b, "status", rec.Status)

	// Metadata: ключи сортируются, волатильные исключаются
	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		if d.isExcluded(rec.SourceID, k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&b, "meta."+k, rec.Metadata[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// isExcluded — поле metadata исключено глобально или для данного источника.
func (d *Detector) isExcluded(sourceID, field string) bool {
	if _, ok := d.defaultExcluded[field]; ok {
		return true
	}
	if set, ok := d.perSource[sourceID]; ok {
		if _, ok := set[field]; ok {
			return true
		}
	}
	return false
}

// writeField записывает пару имя=значение с экранированием разделителей:
// длина значения включается в каноническую форму, чтобы конкатенация
// соседних полей не давала коллизий.
func writeField(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s=%d:%s\n", name, len(value), value)
}
