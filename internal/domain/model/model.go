// Пакет model — доменные структуры Catalog Module.
// ModelRecord — запись каталога AI-моделей, агрегируемая из upstream-провайдеров.
package model

import "time"

// Статусы записи каталога.
const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

// ModelRecord — одна модель из каталога провайдера.
// Натуральный ключ — пара (SourceID, SourceModelID).
type ModelRecord struct {
	// SourceID — slug провайдера (например, "openrouter", "openai")
	SourceID string
	// SourceModelID — идентификатор модели у провайдера (например, "gpt-4o")
	SourceModelID string
	// DisplayName — человекочитаемое имя модели
	DisplayName string
	// Description — описание модели (может быть пустым)
	Description string
	// ContextWindow — размер контекстного окна в токенах
	ContextWindow int64
	// MaxOutputTokens — максимум токенов ответа (0 — провайдер не сообщает)
	MaxOutputTokens int64
	// PromptPricePerM — цена за 1M prompt-токенов, десятичная строка ("2.50")
	PromptPricePerM string
	// CompletionPricePerM — цена за 1M completion-токенов, десятичная строка
	CompletionPricePerM string
	// SupportsTools — поддержка tool calling
	SupportsTools bool
	// SupportsVision — поддержка изображений на входе
	SupportsVision bool
	// SupportsStreaming — поддержка streaming-ответов
	SupportsStreaming bool
	// Metadata — произвольные дополнительные поля провайдера
	Metadata map[string]string
	// Status — active / retired
	Status string
	// ContentHash — отпечаток содержимого (fingerprint), hex SHA-256
	ContentHash string
	// LastSeenAt — когда модель последний раз встречалась в fetch
	// (волатильное поле, в fingerprint не входит)
	LastSeenAt time.Time
	// CreatedAt — время создания записи в БД
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления записи в БД
	UpdatedAt time.Time
}
