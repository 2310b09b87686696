package retry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

func transientErr() error { return errors.New("connection refused") }

func TestStandardRetriesToSuccess(t *testing.T) {
	policy := expPolicy()
	strategy := NewStandard(fault.NewCategorizer())
	rctx := NewContext("wf-001", "fetch", "exec-1")

	calls := 0
	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		calls++
		if calls <= 2 {
			return nil, transientErr()
		}
		return "ok", nil
	}

	start := time.Now()
	result, outcome, err := strategy.Execute(context.Background(), rctx, policy, fn, nil)
	elapsed := time.Since(start)

	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if len(rctx.Attempts) != 3 {
		t.Errorf("attempt history length = %d, want 3", len(rctx.Attempts))
	}
	// Delays: 100ms after first failure, 200ms after second.
	if rctx.TotalDelay != 300*time.Millisecond {
		t.Errorf("cumulative delay = %v, want 300ms", rctx.TotalDelay)
	}
	if elapsed < 300*time.Millisecond {
		t.Errorf("returned before sleeping the scheduled delays: %v", elapsed)
	}
}

func TestStandardMaxRetriesExceeded(t *testing.T) {
	policy := expPolicy()
	policy.InitialDelay = time.Millisecond
	strategy := NewStandard(fault.NewCategorizer())
	rctx := NewContext("wf-001", "fetch", "exec-2")

	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, transientErr()
	}

	_, outcome, err := strategy.Execute(context.Background(), rctx, policy, fn, nil)
	if outcome != OutcomeMaxRetriesExceeded {
		t.Errorf("outcome = %s, want max_retries_exceeded", outcome)
	}
	if err == nil {
		t.Error("expected final error")
	}
	// Initial attempt plus three retries.
	if len(rctx.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(rctx.Attempts))
	}
}

func TestStandardAbortsOnFatalCategory(t *testing.T) {
	policy := expPolicy()
	strategy := NewStandard(fault.NewCategorizer())
	rctx := NewContext("wf-001", "fetch", "exec-3")

	calls := 0
	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		calls++
		return nil, &fault.SecurityError{Message: "bad signature"}
	}

	_, outcome, _ := strategy.Execute(context.Background(), rctx, policy, fn, nil)
	if outcome != OutcomeAborted {
		t.Errorf("outcome = %s, want aborted", outcome)
	}
	if calls != 1 {
		t.Errorf("fatal error invoked fn %d times, want 1", calls)
	}
}

func TestStandardPolicyRejected(t *testing.T) {
	policy := expPolicy() // retries only transient
	strategy := NewStandard(fault.NewCategorizer())
	rctx := NewContext("wf-001", "fetch", "exec-4")

	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, &fault.ValidationError{Message: "bad input"}
	}

	_, outcome, _ := strategy.Execute(context.Background(), rctx, policy, fn, nil)
	if outcome != OutcomePolicyRejected {
		t.Errorf("outcome = %s, want policy_rejected", outcome)
	}
}

func TestStandardContextCancellation(t *testing.T) {
	policy := expPolicy()
	policy.InitialDelay = time.Second
	strategy := NewStandard(fault.NewCategorizer())
	rctx := NewContext("wf-001", "fetch", "exec-5")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, transientErr()
	}

	start := time.Now()
	_, outcome, err := strategy.Execute(ctx, rctx, policy, fn, nil)
	if outcome != OutcomeAborted || !errors.Is(err, context.Canceled) {
		t.Errorf("outcome = %s, err = %v", outcome, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation did not interrupt the backoff sleep")
	}
}

func TestDegradingAppliesLadder(t *testing.T) {
	policy := expPolicy()
	policy.InitialDelay = time.Millisecond

	var seenTimeouts []int
	strategy := NewDegrading(fault.NewCategorizer(),
		func(args map[string]interface{}) { args["timeout"] = 30 },
		func(args map[string]interface{}) { args["timeout"] = 10 },
	)
	rctx := NewContext("wf-001", "analyze", "exec-6")

	args := map[string]interface{}{"timeout": 60}
	fn := func(ctx context.Context, a map[string]interface{}) (interface{}, error) {
		seenTimeouts = append(seenTimeouts, a["timeout"].(int))
		if a["timeout"].(int) > 10 {
			return nil, transientErr()
		}
		return "degraded ok", nil
	}

	result, outcome, err := strategy.Execute(context.Background(), rctx, policy, fn, args)
	if err != nil || outcome != OutcomeSuccess || result != "degraded ok" {
		t.Fatalf("outcome = %s, result = %v, err = %v", outcome, result, err)
	}
	want := []int{60, 30, 10}
	if len(seenTimeouts) != len(want) {
		t.Fatalf("timeouts seen = %v, want %v", seenTimeouts, want)
	}
	for i := range want {
		if seenTimeouts[i] != want[i] {
			t.Errorf("attempt %d used timeout %d, want %d", i, seenTimeouts[i], want[i])
		}
	}
}

func TestFailoverAdvancesCandidates(t *testing.T) {
	policy := expPolicy()
	policy.InitialDelay = time.Millisecond

	var order []string
	mk := func(name string, fail bool) Fn {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			order = append(order, name)
			if fail {
				return nil, transientErr()
			}
			return name, nil
		}
	}

	strategy := NewFailover(fault.NewCategorizer(), mk("primary", true), mk("secondary", true), mk("tertiary", false))
	rctx := NewContext("wf-001", "publish", "exec-7")

	result, outcome, err := strategy.Execute(context.Background(), rctx, policy, nil, nil)
	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	if result != "tertiary" {
		t.Errorf("result = %v, want tertiary", result)
	}
	if len(order) != 3 || order[0] != "primary" || order[1] != "secondary" || order[2] != "tertiary" {
		t.Errorf("candidate order = %v", order)
	}
}

func TestManagerBindingAndMonitor(t *testing.T) {
	dir := t.TempDir()
	mon, err := NewMonitor(dir)
	if err != nil {
		t.Fatal(err)
	}
	mgr := NewManager(fault.NewCategorizer(), WithMonitor(mon))

	fast := expPolicy()
	fast.InitialDelay = time.Millisecond
	mgr.RegisterPolicy("fast", fast)
	mgr.Bind("wf-001", "fetch", "fast", "standard")

	calls := 0
	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, transientErr()
		}
		return "ok", nil
	}

	result, outcome, rctx, err := mgr.Execute(context.Background(), "wf-001", "fetch", "exec-100", fn, nil)
	if err != nil || outcome != OutcomeSuccess || result != "ok" {
		t.Fatalf("outcome = %s, result = %v, err = %v", outcome, result, err)
	}
	if rctx.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", rctx.RetryCount)
	}

	// Monitor wrote one record file for the execution.
	if _, err := os.Stat(filepath.Join(dir, "exec-100.json")); err != nil {
		t.Errorf("monitor record missing: %v", err)
	}

	stats := mon.WorkflowStats("wf-001")
	if stats.Operations != 1 || stats.Attempts != 2 || stats.Successes != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("success rate = %v", stats.SuccessRate)
	}
	if len(stats.MostRetried) != 1 || stats.MostRetried[0] != "fetch" {
		t.Errorf("most retried = %v", stats.MostRetried)
	}
}

func TestManagerDefaultResolution(t *testing.T) {
	mgr := NewManager(nil)
	fn := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return 42, nil
	}
	result, outcome, _, err := mgr.Execute(context.Background(), "wf-x", "unbound-step", "exec-200", fn, nil)
	if err != nil || outcome != OutcomeSuccess || result != 42 {
		t.Errorf("default resolution failed: %v %v %v", result, outcome, err)
	}
}
