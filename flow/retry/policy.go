// Package retry implements per-step retry policies with pluggable backoff,
// a circuit breaker, execution strategies, and a persistent retry monitor.
//
// A Policy decides whether a failed attempt is retried and how long to wait
// before the next one. Strategies drive the actual re-invocation: Standard
// repeats the same call, Degrading simplifies the call parameters on each
// attempt, Failover rotates through alternate candidates. The Manager binds
// named policies and strategies to (workflow, step) pairs and records every
// operation through the Monitor.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

// BackoffKind selects the delay schedule between attempts.
type BackoffKind string

const (
	BackoffConstant           BackoffKind = "constant"
	BackoffLinear             BackoffKind = "linear"
	BackoffExponential        BackoffKind = "exponential"
	BackoffFibonacci          BackoffKind = "fibonacci"
	BackoffRandom             BackoffKind = "random"
	BackoffDecorrelatedJitter BackoffKind = "decorrelated_jitter"
)

// BreakerConfig configures a policy's circuit breaker.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int

	// Recovery is how long the circuit stays open before probing.
	Recovery time.Duration
}

// Policy is the retry configuration for a step.
//
// ShouldRetry applies its checks in a fixed order: open circuit, attempt
// budget, abort categories, retry categories, overall timeout, cumulative
// delay budget. Delay computes the backoff for a given attempt, capped at
// MaxDelay and optionally jittered.
//
// A Policy carries the mutable circuit breaker and decorrelated-jitter
// state for the step it is bound to; it is safe for concurrent use.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Backoff       BackoffKind
	BackoffFactor float64

	// Jitter spreads delays by up to ±JitterFactor of the computed value.
	Jitter       bool
	JitterFactor float64

	// RetryOn lists the categories worth retrying. A category absent from
	// this list is not retried.
	RetryOn []fault.Category

	// AbortOn lists categories that stop retrying immediately regardless
	// of RetryOn.
	AbortOn []fault.Category

	// Timeout bounds the whole operation from the first attempt. Zero
	// means unbounded.
	Timeout time.Duration

	// MaxTotalDelay bounds the sum of sleeps across attempts. Zero means
	// unbounded.
	MaxTotalDelay time.Duration

	// Breaker, when non-nil, enables the circuit breaker.
	Breaker *BreakerConfig

	mu        sync.Mutex
	breaker   *breaker
	prevDelay time.Duration
	rng       *rand.Rand
}

// DefaultPolicy retries the transient family of categories with exponential
// backoff and no circuit breaker.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Backoff:       BackoffExponential,
		BackoffFactor: 2.0,
		RetryOn: []fault.Category{
			fault.CategoryTransient,
			fault.CategoryResource,
			fault.CategoryDependency,
			fault.CategoryTimeout,
		},
		AbortOn: []fault.Category{
			fault.CategorySecurity,
			fault.CategoryPermission,
		},
	}
}

// ShouldRetry reports whether the attempt described by rctx deserves
// another try under this policy.
func (p *Policy) ShouldRetry(rctx *Context, now time.Time) bool {
	if p.breakerOpen(now) {
		return false
	}
	if rctx.RetryCount >= p.MaxRetries {
		return false
	}
	for _, c := range p.AbortOn {
		if rctx.Category == c {
			return false
		}
	}
	retryable := false
	for _, c := range p.RetryOn {
		if rctx.Category == c {
			retryable = true
			break
		}
	}
	if !retryable {
		return false
	}
	if p.Timeout > 0 && now.Sub(rctx.StartTime) >= p.Timeout {
		return false
	}
	if p.MaxTotalDelay > 0 && rctx.TotalDelay >= p.MaxTotalDelay {
		return false
	}
	return true
}

// Delay computes the backoff before retry attempt retryCount (zero-based).
// The result is capped at MaxDelay and jittered when enabled.
func (p *Policy) Delay(retryCount int) time.Duration {
	base := p.InitialDelay
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = base * time.Duration(retryCount+1)
	case BackoffExponential:
		d = time.Duration(float64(base) * pow(factor, retryCount))
	case BackoffFibonacci:
		d = base * time.Duration(fib(retryCount+1))
	case BackoffRandom:
		hi := float64(base) * pow(factor, retryCount)
		d = time.Duration(float64(base) + p.random()*(hi-float64(base)))
	case BackoffDecorrelatedJitter:
		d = p.decorrelated(base)
	default:
		d = base
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && p.JitterFactor > 0 {
		spread := float64(d) * p.JitterFactor
		d += time.Duration((p.random()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// decorrelated implements the AWS decorrelated-jitter schedule: the first
// delay is the base, each later delay is uniform(base, previous*3).
func (p *Policy) decorrelated(base time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.prevDelay == 0 {
		p.prevDelay = base
		return base
	}
	hi := float64(p.prevDelay) * 3
	d := time.Duration(float64(base) + p.randomLocked()*(hi-float64(base)))
	p.prevDelay = d
	return d
}

// RecordSuccess closes the circuit and resets schedule state.
func (p *Policy) RecordSuccess() {
	p.mu.Lock()
	p.prevDelay = 0
	p.mu.Unlock()
	if b := p.getBreaker(); b != nil {
		b.recordSuccess()
	}
}

// RecordFailure feeds the circuit breaker.
func (p *Policy) RecordFailure(now time.Time) {
	if b := p.getBreaker(); b != nil {
		b.recordFailure(now)
	}
}

// BreakerState reports the circuit state, or "disabled" without a breaker.
func (p *Policy) BreakerState(now time.Time) string {
	b := p.getBreaker()
	if b == nil {
		return "disabled"
	}
	return b.state(now)
}

func (p *Policy) breakerOpen(now time.Time) bool {
	b := p.getBreaker()
	return b != nil && b.open(now)
}

func (p *Policy) getBreaker() *breaker {
	if p.Breaker == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.breaker == nil {
		p.breaker = newBreaker(p.Breaker.Threshold, p.Breaker.Recovery)
	}
	return p.breaker
}

func (p *Policy) random() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.randomLocked()
}

func (p *Policy) randomLocked() float64 {
	if p.rng == nil {
		// Jitter timing only, not security sensitive.
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404
	}
	return p.rng.Float64()
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func fib(n int) int64 {
	a, b := int64(0), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
