package retry

import (
	"testing"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

func expPolicy() *Policy {
	return &Policy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		Backoff:       BackoffExponential,
		BackoffFactor: 2.0,
		RetryOn:       []fault.Category{fault.CategoryTransient},
		AbortOn:       []fault.Category{fault.CategorySecurity},
	}
}

func TestExponentialDelays(t *testing.T) {
	p := expPolicy()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond, // clamped at MaxDelay
	}
	for n, w := range want {
		if got := p.Delay(n); got != w {
			t.Errorf("Delay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestConstantAndLinearDelays(t *testing.T) {
	constant := &Policy{InitialDelay: 50 * time.Millisecond, Backoff: BackoffConstant}
	for n := 0; n < 4; n++ {
		if got := constant.Delay(n); got != 50*time.Millisecond {
			t.Errorf("constant Delay(%d) = %v", n, got)
		}
	}

	linear := &Policy{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffLinear}
	want := []time.Duration{50, 100, 150, 200}
	for n, w := range want {
		if got := linear.Delay(n); got != w*time.Millisecond {
			t.Errorf("linear Delay(%d) = %v, want %v", n, got, w*time.Millisecond)
		}
	}
}

func TestFibonacciDelays(t *testing.T) {
	p := &Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffFibonacci}
	want := []time.Duration{10, 10, 20, 30, 50, 80}
	for n, w := range want {
		if got := p.Delay(n); got != w*time.Millisecond {
			t.Errorf("fibonacci Delay(%d) = %v, want %v", n, got, w*time.Millisecond)
		}
	}
}

func TestRandomDelayWithinBounds(t *testing.T) {
	p := &Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Backoff: BackoffRandom, BackoffFactor: 2.0}
	for n := 0; n < 5; n++ {
		d := p.Delay(n)
		lo := 100 * time.Millisecond
		hi := time.Duration(float64(lo) * pow(2.0, n))
		if d < lo || d > hi {
			t.Errorf("random Delay(%d) = %v outside [%v, %v]", n, d, lo, hi)
		}
	}
}

func TestDecorrelatedJitterDelays(t *testing.T) {
	p := &Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Backoff: BackoffDecorrelatedJitter}

	first := p.Delay(0)
	if first != 100*time.Millisecond {
		t.Errorf("first decorrelated delay = %v, want initial", first)
	}
	prev := first
	for n := 1; n < 5; n++ {
		d := p.Delay(n)
		if d < 100*time.Millisecond || d > 3*prev {
			t.Errorf("decorrelated Delay(%d) = %v outside [initial, 3*prev=%v]", n, d, 3*prev)
		}
		prev = d
	}
}

func TestJitterSpread(t *testing.T) {
	p := &Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Backoff:      BackoffConstant,
		Jitter:       true,
		JitterFactor: 0.5,
	}
	for i := 0; i < 20; i++ {
		d := p.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Errorf("jittered delay %v outside ±50%% band", d)
		}
	}
}

func TestShouldRetryOrder(t *testing.T) {
	now := time.Now()

	t.Run("max retries", func(t *testing.T) {
		p := expPolicy()
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategoryTransient
		rctx.RetryCount = 3
		if p.ShouldRetry(rctx, now) {
			t.Error("should refuse once retry_count >= max_retries")
		}
	})

	t.Run("abort category", func(t *testing.T) {
		p := expPolicy()
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategorySecurity
		if p.ShouldRetry(rctx, now) {
			t.Error("should refuse abort_on category")
		}
	})

	t.Run("category not in retry_on", func(t *testing.T) {
		p := expPolicy()
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategoryLogical
		if p.ShouldRetry(rctx, now) {
			t.Error("should refuse category outside retry_on")
		}
	})

	t.Run("overall timeout", func(t *testing.T) {
		p := expPolicy()
		p.Timeout = time.Second
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategoryTransient
		rctx.StartTime = now.Add(-2 * time.Second)
		if p.ShouldRetry(rctx, now) {
			t.Error("should refuse after overall timeout")
		}
	})

	t.Run("cumulative delay cap", func(t *testing.T) {
		p := expPolicy()
		p.MaxTotalDelay = 500 * time.Millisecond
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategoryTransient
		rctx.TotalDelay = 600 * time.Millisecond
		if p.ShouldRetry(rctx, now) {
			t.Error("should refuse after cumulative delay cap")
		}
	})

	t.Run("accepts retryable", func(t *testing.T) {
		p := expPolicy()
		rctx := NewContext("wf", "step", "ex")
		rctx.Category = fault.CategoryTransient
		rctx.RetryCount = 1
		if !p.ShouldRetry(rctx, now) {
			t.Error("retryable context refused")
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	p := expPolicy()
	p.Breaker = &BreakerConfig{Threshold: 3, Recovery: 100 * time.Millisecond}

	now := time.Now()
	rctx := NewContext("wf", "step", "ex")
	rctx.Category = fault.CategoryTransient

	// Two failures: still closed.
	p.RecordFailure(now)
	p.RecordFailure(now)
	if !p.ShouldRetry(rctx, now) {
		t.Fatal("breaker opened before threshold")
	}

	// Third consecutive failure opens the circuit.
	p.RecordFailure(now)
	if p.ShouldRetry(rctx, now) {
		t.Fatal("breaker should be open at threshold")
	}
	if got := p.BreakerState(now); got != "open" {
		t.Errorf("state = %s, want open", got)
	}

	// After the recovery window: half-open, retries flow again.
	later := now.Add(150 * time.Millisecond)
	if !p.ShouldRetry(rctx, later) {
		t.Fatal("breaker should admit after recovery window")
	}

	// In half-open, one failure re-opens.
	p.RecordFailure(later)
	if p.ShouldRetry(rctx, later) {
		t.Error("half-open breaker should re-open on failure")
	}

	// A success closes fully.
	p.RecordSuccess()
	muchLater := later.Add(200 * time.Millisecond)
	if !p.ShouldRetry(rctx, muchLater) {
		t.Error("breaker should close on success")
	}
}
