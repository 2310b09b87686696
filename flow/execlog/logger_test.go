package execlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/state"
)

func TestAggregatesAccumulate(t *testing.T) {
	now := time.Now()
	clock := now
	l := NewLogger(nil, withClock(func() time.Time { return clock }))

	id := l.CreateExecution("nightly-sync", "playbook", WithCorrelationID("task-42"))
	if err := l.Start(id); err != nil {
		t.Fatal(err)
	}

	_ = l.LogStepStart(id, "fetch")
	clock = now.Add(2 * time.Second)
	_ = l.LogStepEnd(id, "fetch", nil)

	_ = l.LogStepStart(id, "fetch")
	clock = now.Add(6 * time.Second)
	_ = l.LogStepEnd(id, "fetch", errors.New("upstream hiccup"))

	_ = l.LogAgentAction(id, "planner", "chose branch", nil)
	_ = l.LogAgentAction(id, "planner", "revised plan", nil)
	_ = l.LogToolCall(id, "git", map[string]interface{}{"args": "clone"})
	_ = l.LogLLMUsage(id, "m1", 1000, 200, 0.03)
	_ = l.LogLLMUsage(id, "m1", 500, 100, 0.01)
	_ = l.LogRetry(id, "fetch", 1, fault.CategoryTransient)
	_ = l.LogError(id, "fetch", errors.New("upstream hiccup"), fault.CategoryTransient, "stack...")

	rec, err := l.Record(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.TokensIn != 1500 || rec.TokensOut != 300 {
		t.Errorf("tokens = %d/%d", rec.TokensIn, rec.TokensOut)
	}
	if rec.Cost < 0.039 || rec.Cost > 0.041 {
		t.Errorf("cost = %v", rec.Cost)
	}
	if len(rec.AgentsUsed) != 1 || rec.AgentsUsed[0] != "planner" {
		t.Errorf("agents = %v", rec.AgentsUsed)
	}
	if len(rec.ToolsUsed) != 1 || rec.ToolsUsed[0] != "git" {
		t.Errorf("tools = %v", rec.ToolsUsed)
	}
	if rec.RetriedSteps != 1 || rec.FailedSteps != 1 {
		t.Errorf("retried = %d, failed = %d", rec.RetriedSteps, rec.FailedSteps)
	}

	m := rec.StepMetrics["fetch"]
	if m == nil {
		t.Fatal("no metrics for fetch")
	}
	if m.Count != 2 {
		t.Errorf("count = %d", m.Count)
	}
	// Durations 2s and 4s: average 3s, max 4s.
	if m.AverageDuration != 3*time.Second || m.MaxDuration != 4*time.Second {
		t.Errorf("avg = %v, max = %v", m.AverageDuration, m.MaxDuration)
	}
	if m.Retried != 1 || m.Failed != 1 {
		t.Errorf("metrics retried = %d, failed = %d", m.Retried, m.Failed)
	}

	if steps := rec.Steps(); len(steps) != 1 || steps[0] != "fetch" {
		t.Errorf("steps = %v", steps)
	}
	if errs := rec.Errors(); len(errs) != 1 || errs[0].Message != "upstream hiccup" {
		t.Errorf("errors = %v", errs)
	}
}

func TestStateSnapshotsAroundExecution(t *testing.T) {
	s := state.NewStore()
	if err := s.Create("phase", "init"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(store, WithStateStore(s))

	id := l.CreateExecution("deploy", "workflow")
	if err := s.SetValue("phase", "done", "agent"); err != nil {
		t.Fatal(err)
	}
	if err := l.Complete(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	rec, _ := l.Record(id)
	if rec.InitialState["phase"] != "init" || rec.FinalState["phase"] != "done" {
		t.Errorf("snapshots = %v / %v", rec.InitialState, rec.FinalState)
	}
	if rec.Status != StatusCompleted || rec.EndTime.IsZero() {
		t.Errorf("record = %+v", rec)
	}

	// Persisted under <dir>/YYYY/MM/DD/<id>_<name>.json.
	day := rec.StartTime.Format("2006/01/02")
	path := filepath.Join(dir, day, rec.ID+"_deploy.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("record file missing: %v", err)
	}
}

func TestFileStoreQueryAndMetrics(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	mk := func(name string, status Status, offset time.Duration, corr string) *ExecutionRecord {
		rec := &ExecutionRecord{
			ID:            "exec-" + name,
			Name:          name,
			Type:          "playbook",
			Status:        status,
			CorrelationID: corr,
			StartTime:     base.Add(offset),
			Duration:      time.Minute,
			ToolsUsed:     []string{"git"},
			StepMetrics:   map[string]*StepMetrics{},
		}
		if err := store.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		return rec
	}
	mk("alpha-sync", StatusCompleted, 0, "task-1")
	mk("beta-sync", StatusFailed, time.Hour, "task-2")
	mk("gamma-build", StatusCompleted, 25*time.Hour, "task-1")

	byName, err := store.Query(ctx, Query{NameContains: "sync"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 2 {
		t.Errorf("name query = %d records", len(byName))
	}
	if byName[0].Name != "beta-sync" {
		t.Errorf("ordering: first = %s, want newest", byName[0].Name)
	}

	byStatus, _ := store.Query(ctx, Query{Status: StatusFailed})
	if len(byStatus) != 1 || byStatus[0].Name != "beta-sync" {
		t.Errorf("status query = %v", byStatus)
	}

	byCorr, _ := store.Query(ctx, Query{CorrelationID: "task-1"})
	if len(byCorr) != 2 {
		t.Errorf("correlation query = %d records", len(byCorr))
	}

	windowed, _ := store.Query(ctx, Query{From: base, To: base.Add(2 * time.Hour)})
	if len(windowed) != 2 {
		t.Errorf("window query = %d records", len(windowed))
	}

	loaded, err := store.Load(ctx, "exec-alpha-sync")
	if err != nil || loaded.Name != "alpha-sync" {
		t.Errorf("load = %v, %v", loaded, err)
	}

	m, err := Metrics(ctx, store, base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if m.Total != 3 || m.ByStatus[StatusCompleted] != 2 {
		t.Errorf("metrics = %+v", m)
	}
	if m.SuccessRate < 0.66 || m.SuccessRate > 0.67 {
		t.Errorf("success rate = %v", m.SuccessRate)
	}
	if m.AverageDuration["playbook"] != time.Minute {
		t.Errorf("average duration = %v", m.AverageDuration)
	}
	if len(m.TopTools) != 1 || m.TopTools[0] != "git" {
		t.Errorf("top tools = %v", m.TopTools)
	}
	if m.ByDate["2026-08-20"] != 2 || m.ByDate["2026-08-21"] != 1 {
		t.Errorf("by date = %v", m.ByDate)
	}
}

func TestRecordUnknownExecution(t *testing.T) {
	l := NewLogger(nil)
	if _, err := l.Record("missing"); err == nil {
		t.Error("expected not-found error")
	}
	if err := l.LogToolCall("missing", "git", nil); err == nil {
		t.Error("expected not-found error from log op")
	}
}
