package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

func TestSetValueAndGetValue(t *testing.T) {
	s := NewStore()
	if err := s.Create("counter", int64(1)); err != nil {
		t.Fatal(err)
	}

	if err := s.SetValue("counter", int64(2), "agent-a"); err != nil {
		t.Fatal(err)
	}
	if got := s.GetValue("counter", nil); got != int64(2) {
		t.Errorf("GetValue = %v, want 2", got)
	}

	if err := s.SetValue("counter", int64(7), "agent-b"); err != nil {
		t.Fatal(err)
	}
	if got := s.GetValue("counter", nil); got != int64(7) {
		t.Errorf("GetValue = %v, want last successful write 7", got)
	}
}

func TestSetValueTypeMismatchLeavesValueUnchanged(t *testing.T) {
	s := NewStore()
	if err := s.Create("counter", int64(1)); err != nil {
		t.Fatal(err)
	}

	err := s.SetValue("counter", "not a number", "agent-a")
	var verr *fault.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := s.GetValue("counter", nil); got != int64(1) {
		t.Errorf("failed write mutated value: %v", got)
	}
}

func TestCoercion(t *testing.T) {
	s := NewStore()
	if err := s.Create("ratio", 1.5, WithType(KindFloat, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetValue("ratio", int64(2), "agent-a"); err != nil {
		t.Fatalf("coercible write rejected: %v", err)
	}
	if got := s.GetValue("ratio", nil); got != 2.0 {
		t.Errorf("GetValue = %v (%T), want 2.0", got, got)
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name      string
		opts      []VarOption
		requestor string
		wantErr   bool
	}{
		{"read_only rejects all", []VarOption{WithPermission(PermReadOnly), WithOwner("owner")}, "owner", true},
		{"read_write accepts anyone", []VarOption{WithPermission(PermReadWrite)}, "stranger", false},
		{"private accepts owner", []VarOption{WithPermission(PermPrivate), WithOwner("owner")}, "owner", false},
		{"private rejects stranger", []VarOption{WithPermission(PermPrivate), WithOwner("owner")}, "stranger", true},
		{"protected accepts owner", []VarOption{WithPermission(PermProtected), WithOwner("owner")}, "owner", false},
		{"protected accepts listed", []VarOption{WithPermission(PermProtected), WithOwner("owner"), WithAccessList("friend")}, "friend", false},
		{"protected rejects unlisted", []VarOption{WithPermission(PermProtected), WithOwner("owner"), WithAccessList("friend")}, "stranger", true},
		{"shared accepts anyone", []VarOption{WithPermission(PermShared)}, "stranger", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore()
			if err := st.Create("v", "initial", tt.opts...); err != nil {
				t.Fatal(err)
			}
			err := st.SetValue("v", "updated", tt.requestor)
			if tt.wantErr {
				var aerr *fault.AccessError
				if !errors.As(err, &aerr) {
					t.Errorf("expected AccessError, got %v", err)
				}
				if got := st.GetValue("v", nil); got != "initial" {
					t.Errorf("denied write mutated value: %v", got)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestChangeHistory(t *testing.T) {
	s := NewStore()
	if err := s.Create("x", int64(0)); err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		if err := s.SetValue("x", i, "agent"); err != nil {
			t.Fatal(err)
		}
	}

	events := s.ChangeHistory("x", 0)
	if len(events) != 3 {
		t.Fatalf("history length = %d, want 3 (one event per successful mutation)", len(events))
	}
	for i, ev := range events {
		if ev.Old != int64(i) || ev.New != int64(i+1) {
			t.Errorf("event %d: old=%v new=%v", i, ev.Old, ev.New)
		}
		if ev.Requestor != "agent" {
			t.Errorf("event %d requestor = %q", i, ev.Requestor)
		}
	}

	limited := s.ChangeHistory("x", 2)
	if len(limited) != 2 || limited[1].New != int64(3) {
		t.Errorf("limited history wrong: %v", limited)
	}
}

func TestChangeHistoryRingBound(t *testing.T) {
	s := NewStore(WithChangeCapacity(5))
	if err := s.Create("x", int64(0)); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 10; i++ {
		if err := s.SetValue("x", i, "agent"); err != nil {
			t.Fatal(err)
		}
	}
	events := s.ChangeHistory("", 0)
	if len(events) != 5 {
		t.Fatalf("ring retained %d events, want 5", len(events))
	}
	if events[0].New != int64(6) || events[4].New != int64(10) {
		t.Errorf("ring kept wrong window: first=%v last=%v", events[0].New, events[4].New)
	}
}

func TestFailedWriteAppendsNoEvent(t *testing.T) {
	s := NewStore()
	if err := s.Create("v", "x", WithPermission(PermReadOnly)); err != nil {
		t.Fatal(err)
	}
	_ = s.SetValue("v", "y", "anyone")
	if got := len(s.ChangeHistory("", 0)); got != 0 {
		t.Errorf("denied write appended %d events", got)
	}
}

func TestHooks(t *testing.T) {
	t.Run("pre_change abort blocks write", func(t *testing.T) {
		s := NewStore()
		if err := s.Create("v", int64(1)); err != nil {
			t.Fatal(err)
		}
		s.AddHook(PhasePreChange, func(ev ChangeEvent) error {
			return errors.New("vetoed")
		})
		if err := s.SetValue("v", int64(2), "agent"); err == nil {
			t.Fatal("expected pre_change veto")
		}
		if got := s.GetValue("v", nil); got != int64(1) {
			t.Errorf("vetoed write mutated value: %v", got)
		}
	})

	t.Run("validation failure is ValidationError", func(t *testing.T) {
		s := NewStore()
		if err := s.Create("v", int64(1)); err != nil {
			t.Fatal(err)
		}
		s.AddHook(PhaseValidation, func(ev ChangeEvent) error {
			if n, ok := ev.New.(int64); ok && n < 0 {
				return errors.New("must be non-negative")
			}
			return nil
		})
		err := s.SetValue("v", int64(-5), "agent")
		var verr *fault.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("post_change failure does not roll back", func(t *testing.T) {
		s := NewStore()
		if err := s.Create("v", int64(1)); err != nil {
			t.Fatal(err)
		}
		s.AddHook(PhasePostChange, func(ev ChangeEvent) error {
			return errors.New("observer exploded")
		})
		if err := s.SetValue("v", int64(2), "agent"); err != nil {
			t.Fatalf("post hook failure leaked: %v", err)
		}
		if got := s.GetValue("v", nil); got != int64(2) {
			t.Errorf("post hook failure rolled back: %v", got)
		}
	})
}

func TestValidatorRejects(t *testing.T) {
	s := NewStore()
	err := s.Create("port", int64(80), WithValidator(func(v interface{}) error {
		if n, ok := v.(int64); ok && (n < 1 || n > 65535) {
			return errors.New("port out of range")
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetValue("port", int64(99999), "agent"); err == nil {
		t.Fatal("validator should reject out-of-range port")
	}
	if got := s.GetValue("port", nil); got != int64(80) {
		t.Errorf("rejected write mutated value: %v", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	s := NewStore(withClock(func() time.Time { return clock }))

	if err := s.Create("ephemeral", "here", WithTTL(time.Second)); err != nil {
		t.Fatal(err)
	}
	if got := s.GetValue("ephemeral", "absent"); got != "here" {
		t.Errorf("fresh variable absent: %v", got)
	}

	clock = now.Add(1100 * time.Millisecond)
	if got := s.GetValue("ephemeral", "absent"); got != "absent" {
		t.Errorf("expired variable still visible: %v", got)
	}
	if _, err := s.Get("ephemeral"); err == nil {
		t.Error("Get should report expired variable as not found")
	}
	if err := s.SetValue("ephemeral", "again", "agent"); err == nil {
		t.Error("SetValue should reject expired variable")
	}
	if _, ok := s.ExportMap()["ephemeral"]; ok {
		t.Error("ExportMap should omit expired variable")
	}
}

func TestGroups(t *testing.T) {
	s := NewStore()
	if err := s.Create("a", int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("b", int64(2)); err != nil {
		t.Fatal(err)
	}
	s.CreateGroup("pair", "two values")
	if err := s.AddToGroup("pair", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToGroup("pair", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToGroup("pair", "missing"); err == nil {
		t.Error("adding a missing variable should fail")
	}

	values, err := s.GroupValues("pair")
	if err != nil {
		t.Fatal(err)
	}
	if values["a"] != int64(1) || values["b"] != int64(2) {
		t.Errorf("group values = %v", values)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := NewStore()
	if err := s.Create("x", int64(10), WithScope(ScopeWorkflow)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("name", "atlas", WithPermission(PermProtected), WithOwner("o"), WithAccessList("a", "b"), WithTags("t1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("weights", []interface{}{1.0, 2.0}); err != nil {
		t.Fatal(err)
	}
	s.CreateGroup("g", "group")
	if err := s.AddToGroup("g", "x"); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	fresh := NewStore()
	if err := fresh.Load(path); err != nil {
		t.Fatal(err)
	}

	if got := fresh.GetValue("x", nil); got != int64(10) {
		t.Errorf(`GetValue("x") = %v (%T), want int64 10`, got, got)
	}
	v, err := fresh.Get("name")
	if err != nil {
		t.Fatal(err)
	}
	if v.Permission != PermProtected || v.Owner != "o" || len(v.AccessList) != 2 || len(v.Tags) != 1 {
		t.Errorf("metadata lost in round trip: %+v", v)
	}
	if _, err := fresh.GroupValues("g"); err != nil {
		t.Errorf("groups lost in round trip: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore()
	if err := s.Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("loading a missing file should fail")
	}
}

func TestDeletePermissions(t *testing.T) {
	s := NewStore()
	if err := s.Create("v", "x", WithPermission(PermPrivate), WithOwner("owner")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("v", "stranger"); err == nil {
		t.Error("stranger should not delete a private variable")
	}
	if err := s.Delete("v", "owner"); err != nil {
		t.Errorf("owner delete failed: %v", err)
	}
	if _, err := s.Get("v"); err == nil {
		t.Error("variable still present after delete")
	}
}

func TestDuplicateCreate(t *testing.T) {
	s := NewStore()
	if err := s.Create("v", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("v", 2); err == nil {
		t.Error("duplicate create should fail")
	}
}
