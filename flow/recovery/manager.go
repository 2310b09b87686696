package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentflow-go/flow/checkpoint"
	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/retry"
	"github.com/dshills/agentflow-go/flow/state"
)

const defaultHistoryCapacity = 200

// StepFn is a unit of work run under recovery or a transaction.
type StepFn func(ctx context.Context) (interface{}, error)

// Manager owns the strategy chain and drives error handling for steps.
//
// HandleError categorizes the error, snapshots state, consults the
// strategies in order, and records the decision. Run and Transaction wrap
// step functions with the recovery and rollback contracts.
type Manager struct {
	mu          sync.Mutex
	categorizer *fault.Categorizer
	checkpoints *checkpoint.Manager
	store       *state.Store
	strategies  []Strategy
	alternates  *AlternatePathStrategy

	preCallbacks   []Callback
	postCallbacks  []Callback
	abortCallbacks []Callback

	// attempts counts consecutive HandleError calls per (workflow, step),
	// reset when Run sees a success.
	attempts map[string]int

	// activeTx tracks checkpoint ids of open transactions.
	activeTx map[string]string

	history     []Record
	historyHead int
	historyCap  int

	localRetryLimit int
	emitter         emit.Emitter
	now             func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEmitter routes recovery events to e.
func WithEmitter(e emit.Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

// WithHistoryCapacity bounds the recovery history ring.
func WithHistoryCapacity(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.historyCap = n
		}
	}
}

// WithLocalRetryLimit caps the retry loop inside WithRecovery.
func WithLocalRetryLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.localRetryLimit = n
		}
	}
}

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...Strategy) ManagerOption {
	return func(m *Manager) { m.strategies = strategies }
}

// WithRetryPolicy swaps the policy behind the default retry strategy.
func WithRetryPolicy(p *retry.Policy) ManagerOption {
	return func(m *Manager) {
		for i, s := range m.strategies {
			if _, ok := s.(*RetryStrategy); ok {
				m.strategies[i] = NewRetryStrategy(p)
			}
		}
	}
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager with the default chain: retry, rollback,
// alternate path. The categorizer may be nil; the checkpoint manager and
// store may be nil when rollback and snapshots are not needed.
func NewManager(categorizer *fault.Categorizer, checkpoints *checkpoint.Manager, store *state.Store, opts ...ManagerOption) *Manager {
	if categorizer == nil {
		categorizer = fault.NewCategorizer()
	}
	m := &Manager{
		categorizer:     categorizer,
		checkpoints:     checkpoints,
		store:           store,
		alternates:      NewAlternatePathStrategy(),
		attempts:        make(map[string]int),
		activeTx:        make(map[string]string),
		historyCap:      defaultHistoryCapacity,
		localRetryLimit: 3,
		now:             time.Now,
	}
	m.strategies = []Strategy{
		NewRetryStrategy(nil),
		NewRollbackStrategy(checkpoints),
		m.alternates,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterAlternate installs a fallback path for a step id.
func (m *Manager) RegisterAlternate(step string, fn AlternateFn) {
	m.alternates.Register(step, fn)
}

// OnPreRecovery registers a callback run before strategy selection.
func (m *Manager) OnPreRecovery(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preCallbacks = append(m.preCallbacks, cb)
}

// OnPostRecovery registers a callback run after a decision is made.
func (m *Manager) OnPostRecovery(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCallbacks = append(m.postCallbacks, cb)
}

// OnAbort registers a callback run only when the chosen action is abort.
func (m *Manager) OnAbort(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCallbacks = append(m.abortCallbacks, cb)
}

// HandleError decides the recovery action for an error raised by a step.
// Info is caller-supplied detail merged into the recovery context.
func (m *Manager) HandleError(ctx context.Context, err error, workflow, step string, info map[string]interface{}) (Action, *Context, error) {
	rc := &Context{
		Err:       err,
		Category:  m.categorizer.Categorize(err),
		Workflow:  workflow,
		Step:      step,
		Timestamp: m.now(),
		Info:      info,
	}
	if m.store != nil {
		rc.StateSnapshot = m.store.ExportMap()
	}

	m.mu.Lock()
	key := workflow + "\x00" + step
	m.attempts[key]++
	rc.Attempt = m.attempts[key]
	pre := append([]Callback(nil), m.preCallbacks...)
	post := append([]Callback(nil), m.postCallbacks...)
	onAbort := append([]Callback(nil), m.abortCallbacks...)
	strategies := append([]Strategy(nil), m.strategies...)
	m.mu.Unlock()

	for _, cb := range pre {
		cb(rc)
	}

	action := ActionAbort
	strategyName := ""
	var recoverErr error
	for _, s := range strategies {
		if !s.CanHandle(rc) {
			continue
		}
		strategyName = s.Name()
		action, recoverErr = s.Recover(ctx, rc)
		break
	}

	for _, cb := range post {
		cb(rc)
	}
	if action == ActionAbort {
		for _, cb := range onAbort {
			cb(rc)
		}
	}

	m.record(rc, action, strategyName)
	m.emitEvent(emit.Event{
		Workflow: workflow,
		Step:     step,
		Level:    emit.LevelWarn,
		Msg:      "recovery_action",
		Meta: map[string]interface{}{
			"action":   string(action),
			"category": string(rc.Category),
			"strategy": strategyName,
			"attempt":  rc.Attempt,
			"error":    err.Error(),
		},
	})
	return action, rc, recoverErr
}

// Run executes fn and, on failure, resolves the recovery action. Retry and
// abort outcomes carry the original error to the caller; skip, rollback,
// alternate, notify, and custom swallow it. An alternate's result replaces
// the step result.
func (m *Manager) Run(ctx context.Context, workflow, step string, fn StepFn) (interface{}, Outcome, error) {
	result, err := fn(ctx)
	if err == nil {
		m.resetAttempts(workflow, step)
		return result, OutcomeSuccess, nil
	}

	action, rc, _ := m.HandleError(ctx, err, workflow, step, nil)
	switch action {
	case ActionRetry:
		return nil, OutcomeRetry, err
	case ActionAbort:
		return nil, OutcomeAbort, err
	case ActionAlternate:
		return rc.Info["alternate_result"], OutcomeAlternate, nil
	case ActionSkip:
		return nil, OutcomeSkip, nil
	case ActionRollback:
		return nil, OutcomeRollback, nil
	case ActionNotify:
		return nil, OutcomeNotify, nil
	default:
		return nil, OutcomeCustom, nil
	}
}

// Transaction snapshots state, runs fn, and on any error restores the
// snapshot and returns the original error. On success the transaction
// bookkeeping is released and the checkpoint kept for audit.
func (m *Manager) Transaction(ctx context.Context, workflow, step string, fn StepFn) (interface{}, error) {
	if m.checkpoints == nil {
		return nil, fmt.Errorf("transaction %s/%s: no checkpoint manager configured", workflow, step)
	}
	cp, err := m.checkpoints.Create(workflow, step, checkpoint.KindTransactional, map[string]interface{}{
		"transaction": true,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction %s/%s: %w", workflow, step, err)
	}

	txKey := workflow + "\x00" + step
	m.mu.Lock()
	m.activeTx[txKey] = cp.ID
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.activeTx, txKey)
		m.mu.Unlock()
	}()

	result, err := fn(ctx)
	if err != nil {
		if restoreErr := m.checkpoints.Restore(cp.ID); restoreErr != nil {
			m.emitEvent(emit.Event{
				Workflow: workflow,
				Step:     step,
				Level:    emit.LevelError,
				Msg:      "transaction_restore_failed",
				Meta:     map[string]interface{}{"checkpoint": cp.ID, "error": restoreErr.Error()},
			})
		}
		return nil, err
	}
	return result, nil
}

// WithRecovery runs fn under Run, looping on retry outcomes up to the local
// retry limit. When the limit is exhausted the last error is returned.
func WithRecovery(ctx context.Context, m *Manager, workflow, step string, fn StepFn) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= m.localRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, outcome, err := m.Run(ctx, workflow, step, fn)
		switch outcome {
		case OutcomeRetry:
			lastErr = err
			continue
		case OutcomeAbort:
			return nil, err
		default:
			return result, nil
		}
	}
	return nil, lastErr
}

// LocalRetryLimit returns the cap applied to local retry loops.
func (m *Manager) LocalRetryLimit() int {
	return m.localRetryLimit
}

// History returns the recovery records, oldest first.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.history))
	for i := 0; i < len(m.history); i++ {
		out = append(out, m.history[(m.historyHead+i)%len(m.history)])
	}
	return out
}

func (m *Manager) resetAttempts(workflow, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, workflow+"\x00"+step)
}

func (m *Manager) record(rc *Context, action Action, strategy string) {
	rec := Record{
		Timestamp: rc.Timestamp,
		Workflow:  rc.Workflow,
		Step:      rc.Step,
		Category:  rc.Category,
		Action:    action,
		Strategy:  strategy,
		Error:     rc.Err.Error(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < m.historyCap {
		m.history = append(m.history, rec)
		return
	}
	m.history[m.historyHead] = rec
	m.historyHead = (m.historyHead + 1) % m.historyCap
}

func (m *Manager) emitEvent(ev emit.Event) {
	if m.emitter != nil {
		m.emitter.Emit(ev)
	}
}
