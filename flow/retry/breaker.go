package retry

import (
	"sync"
	"time"
)

// breaker is a consecutive-failure circuit breaker.
//
// Closed until failures reach the threshold, then open for the recovery
// window. After the window it enters half-open: one more failure re-opens
// it, one success closes it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, recovery time.Duration) *breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &breaker{threshold: threshold, recovery: recovery}
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.recovery)
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return false
	}
	if now.Before(b.openUntil) {
		return true
	}
	// Recovery window elapsed: half-open. One failure away from re-opening.
	b.openUntil = time.Time{}
	b.failures = b.threshold - 1
	return false
}

func (b *breaker) state(now time.Time) string {
	b.mu.Lock()
	openUntil := b.openUntil
	failures := b.failures
	b.mu.Unlock()

	switch {
	case !openUntil.IsZero() && now.Before(openUntil):
		return "open"
	case failures >= b.threshold-1 && b.threshold > 1:
		return "half_open"
	default:
		return "closed"
	}
}
