// sync.go — обработчики управления синхронизацией /api/v1/sync.
// POST /api/v1/sync — запуск синхронизации (batch или один источник)
// GET /api/v1/sync/runs — история прогонов
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/gomodelhub/catalog-module/internal/api/errors"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/domain/model"
	"github.com/bigkaa/gomodelhub/catalog-module/internal/service"
)

// syncRequest — тело запроса POST /api/v1/sync.
// Пустое тело — batch-прогон по всем источникам,
// source_ids — по подмножеству, source_id — один источник.
type syncRequest struct {
	SourceID  string   `json:"source_id,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// syncRunResponse — прогон синхронизации в HTTP-ответе.
type syncRunResponse struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	Status     string `json:"status"`
	DryRun     bool   `json:"dry_run"`
	Fetched    int    `json:"fetched"`
	New        int    `json:"new"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Skipped    int    `json:"skipped"`
	Written    int    `json:"written"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// batchResultResponse — агрегированный результат batch-прогона.
type batchResultResponse struct {
	Runs           []syncRunResponse `json:"runs"`
	ChangedSources []string          `json:"changed_sources"`
	TotalFetched   int               `json:"total_fetched"`
	TotalChanged   int               `json:"total_changed"`
	TotalUnchanged int               `json:"total_unchanged"`
	TotalWritten   int               `json:"total_written"`
	Failed         int               `json:"failed"`
	ChangeRate     float64           `json:"change_rate_percent"`
	EfficiencyGain float64           `json:"efficiency_gain_percent"`
	StartedAt      string            `json:"started_at"`
	FinishedAt     string            `json:"finished_at"`
}

// TriggerSync — POST /api/v1/sync.
// С source_id — синхронизация одного источника, с source_ids — batch
// по подмножеству, без того и другого — batch по всем источникам.
// Выполняется синхронно: ручной запуск — операция администратора.
func (h *APIHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.SourceID != "" && len(req.SourceIDs) > 0 {
		apierrors.ValidationError(w, "Поля source_id и source_ids взаимоисключающие")
		return
	}

	if req.SourceID != "" {
		run, err := h.engine.SyncSource(r.Context(), req.SourceID, req.DryRun)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrUnknownSource):
				apierrors.NotFound(w, "Неизвестный источник: "+req.SourceID)
			case errors.Is(err, service.ErrSyncInProgress):
				apierrors.Conflict(w, "Синхронизация источника уже выполняется: "+req.SourceID)
			default:
				// Прогон выполнился, но завершился с ошибкой — отдаём его состояние
				writeJSON(w, http.StatusBadGateway, mapSyncRun(run))
			}
			return
		}
		writeJSON(w, http.StatusOK, mapSyncRun(run))
		return
	}

	result := h.orch.RunBatch(r.Context(), req.SourceIDs, req.DryRun)
	writeJSON(w, http.StatusOK, mapBatchResult(result))
}

// ListSyncRuns — GET /api/v1/sync/runs?limit=N.
// История прогонов, новые первыми.
func (h *APIHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Ошибка чтения истории синхронизаций", "error", err)
		apierrors.InternalError(w, "Ошибка чтения истории синхронизаций")
		return
	}

	resp := struct {
		Runs  []syncRunResponse `json:"runs"`
		Total int               `json:"total"`
	}{
		Runs: make([]syncRunResponse, 0, len(runs)),
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, mapSyncRun(run))
	}
	resp.Total = len(resp.Runs)

	writeJSON(w, http.StatusOK, resp)
}

// mapSyncRun конвертирует доменный SyncRun в HTTP-представление.
func mapSyncRun(run *model.SyncRun) syncRunResponse {
	if run == nil {
		return syncRunResponse{}
	}
	resp := syncRunResponse{
		ID:        run.ID,
		SourceID:  run.SourceID,
		Status:    run.Status,
		DryRun:    run.DryRun,
		Fetched:   run.Fetched,
		New:       run.New,
		Updated:   run.Updated,
		Unchanged: run.Unchanged,
		Skipped:   run.Skipped,
		Written:   run.Written,
		Error:     run.Error,
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// mapBatchResult конвертирует доменный BatchResult в HTTP-представление.
func mapBatchResult(result *model.BatchResult) batchResultResponse {
	resp := batchResultResponse{
		Runs:           make([]syncRunResponse, 0, len(result.Runs)),
		ChangedSources: result.ChangedSources,
		TotalFetched:   result.TotalFetched,
		TotalChanged:   result.TotalChanged,
		TotalUnchanged: result.TotalUnchanged,
		TotalWritten:   result.TotalWritten,
		Failed:         result.Failed,
		ChangeRate:     result.ChangeRatePercent(),
		EfficiencyGain: result.EfficiencyGainPercent(),
		StartedAt:      result.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:     result.FinishedAt.UTC().Format(time.RFC3339),
	}
	if resp.ChangedSources == nil {
		resp.ChangedSources = []string{}
	}
	for _, run := range result.Runs {
		resp.Runs = append(resp.Runs, mapSyncRun(run))
	}
	return resp
}
