// Пакет provider — HTTP-клиенты upstream-провайдеров каталога моделей.
// Все поддерживаемые провайдеры отдают список моделей в OpenAI-совместимом
// формате {"data": [...]}; отличается только богатство полей — OpenRouter
// сообщает контекст, цены и модальности, базовый OpenAI endpoint — только id.
// Отсутствующие поля остаются нулевыми, классификацию это не ломает.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
)

// modelsResponse — OpenAI-совместимый ответ списка моделей.
type modelsResponse struct {
	Data []modelItem `json:"data"`
}

// modelItem — одна модель в ответе провайдера.
// Поля за пределами базового OpenAI-формата (context_length, pricing,
// architecture) заполняются провайдерами вроде OpenRouter.
type modelItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int64  `json:"context_length"`
	OwnedBy       string `json:"owned_by"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	Architecture struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
	TopProvider struct {
		MaxCompletionTokens int64 `json:"max_completion_tokens"`
	} `json:"top_provider"`
	SupportedParameters []string `json:"supported_parameters"`
}

// HTTPFetcher — клиент одного провайдера: GET списка моделей
// и маппинг в доменные записи.
type HTTPFetcher struct {
	httpClient *http.Client
	sourceID   string
	url        string
	token      string
	logger     *slog.Logger
}

// NewHTTPFetcher создаёт клиент провайдера.
// url — endpoint списка моделей, token — bearer-токен (пустая строка — без авторизации).
func NewHTTPFetcher(sourceID, url, token string, timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		sourceID:   sourceID,
		url:        url,
		token:      token,
		logger: logger.With(
			slog.String("component", "provider_fetcher"),
			slog.String("source_id", sourceID),
		),
	}
}

// FetchAll запрашивает полный список моделей провайдера.
func (f *HTTPFetcher) FetchAll(ctx context.Context) ([]*model.ModelRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к %s: %w", f.sourceID, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос списка моделей %s: %w", f.sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s вернул статус %d: %s", f.sourceID, resp.StatusCode, string(body))
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("декодирование ответа %s: %w", f.sourceID, err)
	}

	records := make([]*model.ModelRecord, 0, len(parsed.Data))
	for i := range parsed.Data {
		records = append(records, f.mapItem(&parsed.Data[i]))
	}

	f.logger.Debug("Список моделей получен", slog.Int("count", len(records)))
	return records, nil
}

// mapItem конвертирует элемент ответа провайдера в доменную запись.
func (f *HTTPFetcher) mapItem(item *modelItem) *model.ModelRecord {
	rec := &model.ModelRecord{
		SourceID:            f.sourceID,
		SourceModelID:       item.ID,
		DisplayName:         item.Name,
		Description:         item.Description,
		ContextWindow:       item.ContextLength,
		MaxOutputTokens:     item.TopProvider.MaxCompletionTokens,
		PromptPricePerM:     perMillion(item.Pricing.Prompt),
		CompletionPricePerM: perMillion(item.Pricing.Completion),
		SupportsTools:       slices.Contains(item.SupportedParameters, "tools"),
		SupportsVision:      slices.Contains(item.Architecture.InputModalities, "image"),
		SupportsStreaming:   true, // все поддерживаемые провайдеры отдают SSE-стриминг
		Status:              model.StatusActive,
	}
	if rec.DisplayName == "" {
		rec.DisplayName = item.ID
	}
	if item.OwnedBy != "" {
		rec.Metadata = map[string]string{"owned_by": item.OwnedBy}
	}
	return rec
}

// perMillion конвертирует цену за токен (десятичная строка провайдера)
// в цену за 1M токенов. Пустая или некорректная строка — пустой результат.
func perMillion(perToken string) string {
	perToken = strings.TrimSpace(perToken)
	if perToken == "" {
		return ""
	}
	v, err := strconv.ParseFloat(perToken, 64)
	if err != nil || v < 0 {
		return ""
	}
	return strconv.FormatFloat(v*1e6, 'f', -1, 64)
}
