package model

import "testing"

func TestBatchResultPercentages(t *testing.T) {
	// 10 получено: 3 изменено, 4 без изменений, 3 пропущено
	b := &BatchResult{
		TotalFetched:   10,
		TotalChanged:   3,
		TotalUnchanged: 4,
	}

	if got := b.ChangeRatePercent(); got != 30 {
		t.Errorf("ChangeRatePercent() = %v, ожидалось 30", got)
	}
	// Пропущенные записи не считаются выигрышем: 4/10, не (10-3)/10
	if got := b.EfficiencyGainPercent(); got != 40 {
		t.Errorf("EfficiencyGainPercent() = %v, ожидалось 40", got)
	}
}

func TestBatchResultPercentagesEmptyBatch(t *testing.T) {
	b := &BatchResult{}
	if b.ChangeRatePercent() != 0 || b.EfficiencyGainPercent() != 0 {
		t.Error("пустой batch должен давать нулевые проценты")
	}
}

func TestChangeSetWritable(t *testing.T) {
	c := &ChangeSet{
		New:     []*ModelRecord{{SourceModelID: "a"}},
		Updated: []*ModelRecord{{SourceModelID: "b"}},
	}
	if !c.HasChanges() {
		t.Error("непустой ChangeSet должен сообщать об изменениях")
	}
	if got := c.Writable(); len(got) != 2 {
		t.Errorf("Writable() вернул %d записей, ожидались 2", len(got))
	}
	if (&ChangeSet{Unchanged: 5}).HasChanges() {
		t.Error("ChangeSet только с unchanged не должен сообщать об изменениях")
	}
}
