package execlog

import (
	"context"
	"testing"
	"time"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	rec := &ExecutionRecord{
		ID:            "exec-1",
		Name:          "alpha-sync",
		Type:          "playbook",
		Status:        StatusCompleted,
		CorrelationID: "task-1",
		StartTime:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Duration:      time.Minute,
		TokensIn:      100,
		Events: []Event{
			{Timestamp: time.Date(2026, 8, 20, 12, 0, 1, 0, time.UTC), Type: EventWorkflowStart},
		},
		StepMetrics: map[string]*StepMetrics{
			"fetch": {Count: 2, AverageDuration: time.Second},
		},
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "alpha-sync" || loaded.TokensIn != 100 {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Events) != 1 || loaded.Events[0].Type != EventWorkflowStart {
		t.Errorf("events = %v", loaded.Events)
	}
	if m := loaded.StepMetrics["fetch"]; m == nil || m.Count != 2 {
		t.Errorf("step metrics = %v", loaded.StepMetrics)
	}

	// Re-saving the same id replaces the record.
	rec.Status = StatusFailed
	if err := store.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	loaded, _ = store.Load(ctx, "exec-1")
	if loaded.Status != StatusFailed {
		t.Errorf("status after resave = %s", loaded.Status)
	}

	if _, err := store.Load(ctx, "nope"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestSQLiteQueryFilters(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	save := func(id, name string, status Status, offset time.Duration, corr string) {
		t.Helper()
		rec := &ExecutionRecord{
			ID: id, Name: name, Type: "playbook", Status: status,
			CorrelationID: corr, StartTime: base.Add(offset),
		}
		if err := store.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	save("e1", "alpha-sync", StatusCompleted, 0, "task-1")
	save("e2", "beta-sync", StatusFailed, time.Hour, "task-2")
	save("e3", "gamma-build", StatusCompleted, 2*time.Hour, "task-1")

	byName, err := store.Query(ctx, Query{NameContains: "sync"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 2 || byName[0].ID != "e2" {
		t.Errorf("name query = %v", byName)
	}

	byStatus, _ := store.Query(ctx, Query{Status: StatusFailed})
	if len(byStatus) != 1 || byStatus[0].ID != "e2" {
		t.Errorf("status query = %v", byStatus)
	}

	byCorr, _ := store.Query(ctx, Query{CorrelationID: "task-1"})
	if len(byCorr) != 2 {
		t.Errorf("correlation query = %d", len(byCorr))
	}

	windowed, _ := store.Query(ctx, Query{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	if len(windowed) != 1 || windowed[0].ID != "e2" {
		t.Errorf("window query = %v", windowed)
	}

	limited, _ := store.Query(ctx, Query{Limit: 2})
	if len(limited) != 2 || limited[0].ID != "e3" {
		t.Errorf("limit query = %v", limited)
	}
}
