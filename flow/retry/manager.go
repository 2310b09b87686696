package retry

import (
	"context"
	"sync"

	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
)

// Manager is a registry of named policies and strategies with
// per-(workflow, step) bindings.
//
// Steps without an explicit binding use the "default" policy and the
// "standard" strategy. Every execution is recorded by the monitor when one
// is attached.
type Manager struct {
	mu          sync.RWMutex
	policies    map[string]*Policy
	strategies  map[string]Strategy
	bindings    map[string]binding
	categorizer *fault.Categorizer
	monitor     *Monitor
	emitter     emit.Emitter
}

type binding struct {
	policy   string
	strategy string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMonitor records every retried operation through mon.
func WithMonitor(mon *Monitor) ManagerOption {
	return func(m *Manager) { m.monitor = mon }
}

// WithEmitter routes retry events to e.
func WithEmitter(e emit.Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

// NewManager creates a Manager preloaded with the "default" policy and the
// "standard", "degrading", and "failover" strategies (the latter two with
// empty ladders/candidates until replaced).
func NewManager(categorizer *fault.Categorizer, opts ...ManagerOption) *Manager {
	if categorizer == nil {
		categorizer = fault.NewCategorizer()
	}
	m := &Manager{
		policies:    map[string]*Policy{"default": DefaultPolicy()},
		strategies:  map[string]Strategy{},
		bindings:    make(map[string]binding),
		categorizer: categorizer,
	}
	m.strategies["standard"] = NewStandard(categorizer)
	m.strategies["degrading"] = NewDegrading(categorizer)
	m.strategies["failover"] = NewFailover(categorizer)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterPolicy stores a named policy, replacing any previous one.
func (m *Manager) RegisterPolicy(name string, p *Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[name] = p
}

// RegisterStrategy stores a named strategy, replacing any previous one.
func (m *Manager) RegisterStrategy(name string, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = s
}

// Bind maps a (workflow, step) pair to a policy and strategy by name. An
// empty step binds the whole workflow.
func (m *Manager) Bind(workflow, step, policy, strategy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[bindKey(workflow, step)] = binding{policy: policy, strategy: strategy}
}

// Policy returns the named policy, or nil.
func (m *Manager) Policy(name string) *Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policies[name]
}

// resolve picks the policy and strategy for a step: exact (workflow, step)
// binding first, then workflow-wide, then defaults.
func (m *Manager) resolve(workflow, step string) (*Policy, Strategy) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bindings[bindKey(workflow, step)]
	if !ok {
		b, ok = m.bindings[bindKey(workflow, "")]
	}
	if !ok {
		b = binding{policy: "default", strategy: "standard"}
	}

	policy := m.policies[b.policy]
	if policy == nil {
		policy = m.policies["default"]
	}
	strategy := m.strategies[b.strategy]
	if strategy == nil {
		strategy = m.strategies["standard"]
	}
	return policy, strategy
}

// Execute runs fn for the given step under its bound policy and strategy.
// The returned Context holds the attempt history.
func (m *Manager) Execute(ctx context.Context, workflow, step, executionID string, fn Fn, args map[string]interface{}) (interface{}, Outcome, *Context, error) {
	policy, strategy := m.resolve(workflow, step)
	rctx := NewContext(workflow, step, executionID)

	if m.monitor != nil {
		m.monitor.begin(rctx)
	}

	result, outcome, err := strategy.Execute(ctx, rctx, policy, fn, args)

	if m.monitor != nil {
		m.monitor.finish(rctx, outcome)
	}
	if m.emitter != nil && rctx.RetryCount > 0 {
		m.emitter.Emit(emit.Event{
			Workflow: workflow,
			Step:     step,
			Msg:      "retries_exhausted_or_recovered",
			Meta: map[string]interface{}{
				"attempts":       len(rctx.Attempts),
				"outcome":        string(outcome),
				"total_delay_ms": rctx.TotalDelay.Milliseconds(),
			},
		})
	}
	return result, outcome, rctx, err
}

func bindKey(workflow, step string) string {
	return workflow + "\x00" + step
}
