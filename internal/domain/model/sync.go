package model

import "time"

// Статусы SyncRun.
const (
	SyncStatusRunning = "running"
	SyncStatusDone    = "done"
	SyncStatusFailed  = "failed"
)

// ChangeSet — результат сравнения fetch-а провайдера с состоянием в БД.
// Вычисляется один раз за прогон и сразу потребляется, в БД не сохраняется.
type ChangeSet struct {
	// New — записи без существующего fingerprint в БД
	New []*ModelRecord
	// Updated — записи, у которых fingerprint отличается от сохранённого
	Updated []*ModelRecord
	// Unchanged — количество записей с совпавшим fingerprint
	Unchanged int
	// Skipped — записи без натурального ключа (не прошли нормализацию)
	Skipped int
}

// HasChanges возвращает true, если есть хотя бы одна новая или изменённая запись.
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Updated) > 0
}

// Writable возвращает объединение new и updated — ровно тот набор,
// который должен попасть в bulk upsert.
func (c *ChangeSet) Writable() []*ModelRecord {
	out := make([]*ModelRecord, 0, len(c.New)+len(c.Updated))
	out = append(out, c.New...)
	out = append(out, c.Updated...)
	return out
}

// SyncRun — одно выполнение Incremental Sync Engine для одного источника.
// Создаётся в начале прогона, финализируется в конце, пишется в историю sync_runs.
type SyncRun struct {
	// ID — UUID прогона
	ID string
	// SourceID — slug провайдера
	SourceID string
	// Status — running / done / failed
	Status string
	// DryRun — прогон без записи в БД и инвалидации
	DryRun bool
	// Fetched — всего записей получено от провайдера
	Fetched int
	// New — новых записей
	New int
	// Updated — изменённых записей
	Updated int
	// Unchanged — записей без изменений
	Unchanged int
	// Skipped — записей без натурального ключа
	Skipped int
	// Written — фактически записано в БД
	Written int
	// Error — текст ошибки при Status = failed
	Error string
	// StartedAt — время начала прогона
	StartedAt time.Time
	// FinishedAt — время завершения прогона
	FinishedAt time.Time
}

// BatchResult — агрегированный результат прогона Sync Orchestrator по всем источникам.
type BatchResult struct {
	// Runs — результаты по каждому источнику
	Runs []*SyncRun
	// ChangedSources — источники, у которых ChangeSet оказался непустым
	ChangedSources []string
	// TotalFetched — всего записей получено по всем источникам
	TotalFetched int
	// TotalChanged — всего new + updated
	TotalChanged int
	// TotalUnchanged — всего записей с совпавшим fingerprint
	TotalUnchanged int
	// TotalWritten — всего записано в БД
	TotalWritten int
	// Failed — количество источников, завершившихся с ошибкой
	Failed int
	// StartedAt — время начала batch-а
	StartedAt time.Time
	// FinishedAt — время завершения batch-а
	FinishedAt time.Time
}

// ChangeRatePercent — доля изменённых записей от полученных, в процентах.
func (b *BatchResult) ChangeRatePercent() float64 {
	if b.TotalFetched == 0 {
		return 0
	}
	return float64(b.TotalChanged) / float64(b.TotalFetched) * 100
}

// EfficiencyGainPercent — доля записей, которые не пришлось переписывать,
// в процентах: unchanged / fetched. Пропущенные записи (без натурального
// ключа) выигрышем не считаются.
func (b *BatchResult) EfficiencyGainPercent() float64 {
	if b.TotalFetched == 0 {
		return 0
	}
	return float64(b.TotalUnchanged) / float64(b.TotalFetched) * 100
}
