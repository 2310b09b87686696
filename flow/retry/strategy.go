package retry

import (
	"context"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

// Fn is a retryable unit of work. Args are owned by the strategy for the
// duration of the call; the degrading strategy mutates them between
// attempts.
type Fn func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Strategy drives repeated invocation of a function under a policy.
//
// Execute returns the function result, the terminal outcome, and the last
// error (nil on success). Strategies honor context cancellation during
// backoff sleeps.
type Strategy interface {
	Execute(ctx context.Context, rctx *Context, policy *Policy, fn Fn, args map[string]interface{}) (interface{}, Outcome, error)
}

// Standard re-invokes the same function with unchanged arguments.
type Standard struct {
	Categorizer *fault.Categorizer
}

// NewStandard returns the plain retry strategy.
func NewStandard(categorizer *fault.Categorizer) *Standard {
	return &Standard{Categorizer: categorizer}
}

// Execute implements Strategy.
func (s *Standard) Execute(ctx context.Context, rctx *Context, policy *Policy, fn Fn, args map[string]interface{}) (interface{}, Outcome, error) {
	return runLoop(ctx, rctx, policy, s.Categorizer, func(attempt int) (interface{}, error) {
		return fn(ctx, args)
	})
}

// DegradationStep mutates call arguments before a retry, trading fidelity
// for a better chance of success (shorter timeout, simplified output,
// essential-only mode).
type DegradationStep func(args map[string]interface{})

// Degrading applies one ladder entry per retry. Retries beyond the ladder
// reuse the last entry.
type Degrading struct {
	Categorizer *fault.Categorizer
	Ladder      []DegradationStep
}

// NewDegrading returns a strategy applying ladder entries on each retry.
func NewDegrading(categorizer *fault.Categorizer, ladder ...DegradationStep) *Degrading {
	return &Degrading{Categorizer: categorizer, Ladder: ladder}
}

// Execute implements Strategy.
func (d *Degrading) Execute(ctx context.Context, rctx *Context, policy *Policy, fn Fn, args map[string]interface{}) (interface{}, Outcome, error) {
	return runLoop(ctx, rctx, policy, d.Categorizer, func(attempt int) (interface{}, error) {
		if attempt > 0 && len(d.Ladder) > 0 {
			idx := attempt - 1
			if idx >= len(d.Ladder) {
				idx = len(d.Ladder) - 1
			}
			d.Ladder[idx](args)
		}
		return fn(ctx, args)
	})
}

// Failover rotates through candidate functions: the first attempt uses the
// first candidate, each retry advances to the next, wrapping around.
type Failover struct {
	Categorizer *fault.Categorizer
	Candidates  []Fn
}

// NewFailover returns a strategy cycling through candidates.
func NewFailover(categorizer *fault.Categorizer, candidates ...Fn) *Failover {
	return &Failover{Categorizer: categorizer, Candidates: candidates}
}

// Execute implements Strategy.
func (f *Failover) Execute(ctx context.Context, rctx *Context, policy *Policy, fn Fn, args map[string]interface{}) (interface{}, Outcome, error) {
	candidates := f.Candidates
	if len(candidates) == 0 {
		candidates = []Fn{fn}
	}
	return runLoop(ctx, rctx, policy, f.Categorizer, func(attempt int) (interface{}, error) {
		return candidates[attempt%len(candidates)](ctx, args)
	})
}

// runLoop is the shared attempt/classify/consult/sleep cycle.
func runLoop(ctx context.Context, rctx *Context, policy *Policy, categorizer *fault.Categorizer, invoke func(attempt int) (interface{}, error)) (interface{}, Outcome, error) {
	if categorizer == nil {
		categorizer = fault.NewCategorizer()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	rctx.MaxRetries = policy.MaxRetries

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, OutcomeAborted, err
		}

		now := time.Now()
		result, err := invoke(attempt)
		if err == nil {
			rctx.recordAttempt(now, nil, "", 0)
			policy.RecordSuccess()
			return result, OutcomeSuccess, nil
		}

		category := categorizer.Categorize(err)
		rctx.Err = err
		rctx.Category = category
		policy.RecordFailure(time.Now())

		if !policy.ShouldRetry(rctx, time.Now()) {
			rctx.recordAttempt(now, err, category, 0)
			return nil, rejectOutcome(rctx, policy, category), err
		}

		delay := policy.Delay(rctx.RetryCount)
		rctx.recordAttempt(now, err, category, delay)
		rctx.RetryCount++
		rctx.LastRetryAt = time.Now()
		rctx.NextRetryAt = rctx.LastRetryAt.Add(delay)
		rctx.TotalDelay += delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, OutcomeAborted, ctx.Err()
		case <-timer.C:
		}
	}
}

// rejectOutcome maps a ShouldRetry refusal to its terminal outcome.
func rejectOutcome(rctx *Context, policy *Policy, category fault.Category) Outcome {
	for _, c := range policy.AbortOn {
		if category == c {
			return OutcomeAborted
		}
	}
	if rctx.RetryCount >= policy.MaxRetries {
		return OutcomeMaxRetriesExceeded
	}
	if policy.Timeout > 0 && time.Since(rctx.StartTime) >= policy.Timeout {
		return OutcomeTimeoutExceeded
	}
	return OutcomePolicyRejected
}
