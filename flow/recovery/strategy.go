package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/agentflow-go/flow/checkpoint"
	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/retry"
)

// Strategy decides whether it can handle a failure and, if so, which
// action to take. Strategies are consulted in registration order; the
// first whose CanHandle returns true wins.
type Strategy interface {
	Name() string
	CanHandle(rc *Context) bool
	Recover(ctx context.Context, rc *Context) (Action, error)
}

// RetryStrategy handles categories the policy declares retryable. Recover
// sleeps the policy's backoff delay for the current attempt and hands the
// decision back as retry, or abort once the attempt budget is spent.
type RetryStrategy struct {
	Policy *retry.Policy
}

// NewRetryStrategy wraps a policy; nil uses the default policy.
func NewRetryStrategy(p *retry.Policy) *RetryStrategy {
	if p == nil {
		p = retry.DefaultPolicy()
	}
	return &RetryStrategy{Policy: p}
}

func (s *RetryStrategy) Name() string { return "retry" }

// CanHandle implements Strategy.
func (s *RetryStrategy) CanHandle(rc *Context) bool {
	for _, c := range s.Policy.RetryOn {
		if rc.Category == c {
			return true
		}
	}
	return false
}

// Recover implements Strategy.
func (s *RetryStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	if rc.Attempt > s.Policy.MaxRetries {
		return ActionAbort, nil
	}
	delay := s.Policy.Delay(rc.Attempt - 1)
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ActionAbort, ctx.Err()
	case <-timer.C:
	}
	return ActionRetry, nil
}

// RollbackStrategy restores the latest checkpoint taken before the failing
// step. It handles logical, state-invalid, and dependency failures, where
// retrying the same input cannot help but an earlier state might.
type RollbackStrategy struct {
	Checkpoints *checkpoint.Manager
}

// NewRollbackStrategy wraps a checkpoint manager.
func NewRollbackStrategy(m *checkpoint.Manager) *RollbackStrategy {
	return &RollbackStrategy{Checkpoints: m}
}

func (s *RollbackStrategy) Name() string { return "rollback" }

// CanHandle implements Strategy.
func (s *RollbackStrategy) CanHandle(rc *Context) bool {
	switch rc.Category {
	case fault.CategoryLogical, fault.CategoryStateInvalid, fault.CategoryDependency:
		return s.Checkpoints != nil
	}
	return false
}

// Recover implements Strategy. Without a usable checkpoint the action is
// abort.
func (s *RollbackStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	cp, err := s.Checkpoints.Latest(rc.Workflow, checkpoint.Filter{BeforeStep: rc.Step})
	if err != nil {
		return ActionAbort, nil
	}
	if err := s.Checkpoints.Restore(cp.ID); err != nil {
		return ActionAbort, err
	}
	if rc.Info == nil {
		rc.Info = make(map[string]interface{})
	}
	rc.Info["restored_checkpoint"] = cp.ID
	return ActionRollback, nil
}

// AlternateFn is a fallback path for a step. Its result, when successful,
// is stored on the recovery context under "alternate_result".
type AlternateFn func(ctx context.Context, rc *Context) (interface{}, error)

// AlternatePathStrategy runs a registered substitute for the failing step.
type AlternatePathStrategy struct {
	mu         sync.RWMutex
	alternates map[string]AlternateFn
}

// NewAlternatePathStrategy returns an empty registry.
func NewAlternatePathStrategy() *AlternatePathStrategy {
	return &AlternatePathStrategy{alternates: make(map[string]AlternateFn)}
}

func (s *AlternatePathStrategy) Name() string { return "alternate_path" }

// Register installs fn as the alternate for a step id.
func (s *AlternatePathStrategy) Register(step string, fn AlternateFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alternates[step] = fn
}

// CanHandle implements Strategy.
func (s *AlternatePathStrategy) CanHandle(rc *Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.alternates[rc.Step]
	return ok
}

// Recover implements Strategy. A failing alternate downgrades to skip.
func (s *AlternatePathStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	s.mu.RLock()
	fn := s.alternates[rc.Step]
	s.mu.RUnlock()
	if fn == nil {
		return ActionSkip, nil
	}
	result, err := fn(ctx, rc)
	if err != nil {
		return ActionSkip, nil
	}
	if rc.Info == nil {
		rc.Info = make(map[string]interface{})
	}
	rc.Info["alternate_result"] = result
	return ActionAlternate, nil
}
