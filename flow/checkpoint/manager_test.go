package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s := state.NewStore()
	if err := s.Create("state_version", int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("name", "initial"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndRestore(t *testing.T) {
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cp, err := m.Create("wf-001", "step-1", KindManual, map[string]interface{}{"note": "before edit"})
	if err != nil {
		t.Fatal(err)
	}
	if cp.ID == "" || cp.Kind != KindManual {
		t.Fatalf("bad checkpoint: %+v", cp)
	}

	if err := s.SetValue("state_version", int64(2), "agent"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetValue("name", "mutated", "agent"); err != nil {
		t.Fatal(err)
	}

	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}
	if got := s.GetValue("state_version", nil); got != int64(1) {
		t.Errorf("state_version = %v, want 1 after restore", got)
	}
	if got := s.GetValue("name", nil); got != "initial" {
		t.Errorf("name = %v, want initial after restore", got)
	}
}

func TestRestorePreservesNewerVariables(t *testing.T) {
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cp, err := m.Create("wf-001", "step-1", KindManual, nil)
	if err != nil {
		t.Fatal(err)
	}

	// A variable created after the snapshot survives restore untouched.
	if err := s.Create("late_arrival", "kept"); err != nil {
		t.Fatal(err)
	}
	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}
	if got := s.GetValue("late_arrival", nil); got != "kept" {
		t.Errorf("late_arrival = %v, want kept", got)
	}
}

func TestRestoreCreatesMissingWithWorkflowScope(t *testing.T) {
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cp, err := m.Create("wf-001", "step-1", KindManual, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("name", "anyone"); err != nil {
		t.Fatal(err)
	}
	if err := m.Restore(cp.ID); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get("name")
	if err != nil {
		t.Fatalf("deleted variable not recreated: %v", err)
	}
	if v.Scope != state.ScopeWorkflow || v.Value != "initial" {
		t.Errorf("recreated variable = %+v", v)
	}
}

func TestRestoreNotFound(t *testing.T) {
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = m.Restore("no-such-id")
	var nf *fault.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestRestoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t)
	m, err := NewManager(s, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = m.Restore("broken")
	if err == nil {
		t.Fatal("corrupt checkpoint should fail to restore")
	}
	var nf *fault.NotFoundError
	if errors.As(err, &nf) {
		t.Errorf("corrupt file should be a load error, not not-found: %v", err)
	}
}

func TestLatestFilters(t *testing.T) {
	now := time.Now()
	clock := now
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir(), withClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatal(err)
	}

	mk := func(step string, kind Kind, at time.Duration) *Checkpoint {
		clock = now.Add(at)
		cp, err := m.Create("wf-001", step, kind, nil)
		if err != nil {
			t.Fatal(err)
		}
		return cp
	}

	first := mk("step-1", KindManual, 0)
	second := mk("step-2", KindAuto, time.Second)
	third := mk("step-3", KindManual, 2*time.Second)

	latest, err := m.Latest("wf-001", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != third.ID {
		t.Errorf("Latest = %s, want most recent %s", latest.ID, third.ID)
	}

	latestAuto, err := m.Latest("wf-001", Filter{Kind: KindAuto})
	if err != nil {
		t.Fatal(err)
	}
	if latestAuto.ID != second.ID {
		t.Errorf("Latest auto = %s, want %s", latestAuto.ID, second.ID)
	}

	before, err := m.Latest("wf-001", Filter{BeforeStep: "step-3"})
	if err != nil {
		t.Fatal(err)
	}
	if before.ID != second.ID {
		t.Errorf("Latest before step-3 = %s, want %s", before.ID, second.ID)
	}

	if _, err := m.Latest("wf-001", Filter{BeforeStep: "step-1"}); err == nil {
		t.Error("nothing exists before step-1")
	}
	if _, err := m.Latest("other-wf", Filter{}); err == nil {
		t.Error("unknown workflow should have no checkpoints")
	}
	_ = first
}

func TestCheckAuto(t *testing.T) {
	now := time.Now()
	clock := now
	s := newTestStore(t)
	m, err := NewManager(s, t.TempDir(),
		WithAutoInterval(time.Minute),
		withClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatal(err)
	}

	cp, err := m.CheckAuto("wf-001", "step-1")
	if err != nil || cp == nil {
		t.Fatalf("first CheckAuto should create: cp=%v err=%v", cp, err)
	}

	clock = now.Add(30 * time.Second)
	cp, err = m.CheckAuto("wf-001", "step-2")
	if err != nil || cp != nil {
		t.Fatalf("CheckAuto inside interval should be a no-op: cp=%v err=%v", cp, err)
	}

	clock = now.Add(90 * time.Second)
	cp, err = m.CheckAuto("wf-001", "step-3")
	if err != nil || cp == nil {
		t.Fatalf("CheckAuto after interval should create: cp=%v err=%v", cp, err)
	}
}

func TestDeleteRemovesDiskAndIndex(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t)
	m, err := NewManager(s, dir)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := m.Create("wf-001", "step-1", KindManual, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(cp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(cp.ID); err == nil {
		t.Error("checkpoint still indexed after delete")
	}
	if _, err := os.Stat(filepath.Join(dir, cp.ID+".json")); !os.IsNotExist(err) {
		t.Error("checkpoint file still on disk after delete")
	}
}

func TestIndexReloadAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t)
	m, err := NewManager(s, dir)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := m.Create("wf-001", "step-1", KindManual, nil)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(s, dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m2.Get(cp.ID)
	if err != nil {
		t.Fatalf("fresh manager did not index existing checkpoint: %v", err)
	}
	if got.Workflow != "wf-001" || got.State["state_version"] != float64(1) && got.State["state_version"] != int64(1) {
		t.Errorf("reloaded checkpoint = %+v", got)
	}
}
