package execlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/progress"
	"github.com/dshills/agentflow-go/flow/state"
)

// Logger builds ExecutionRecords as workflows run. Active records live in
// memory; completion writes them through the configured store.
type Logger struct {
	mu         sync.Mutex
	records    map[string]*ExecutionRecord
	stepStarts map[string]map[string]time.Time
	store      Store
	state      *state.Store
	tracker    *progress.Tracker
	emitter    emit.Emitter
	now        func() time.Time
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithStateStore captures initial and final state snapshots from s.
func WithStateStore(s *state.Store) LoggerOption {
	return func(l *Logger) { l.state = s }
}

// WithTracker mirrors each execution as a workflow in the progress tracker.
func WithTracker(t *progress.Tracker) LoggerOption {
	return func(l *Logger) { l.tracker = t }
}

// WithEmitter routes log lifecycle events to e.
func WithEmitter(e emit.Emitter) LoggerOption {
	return func(l *Logger) { l.emitter = e }
}

func withClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates a Logger persisting finished records through store.
// A nil store keeps records in memory only.
func NewLogger(store Store, opts ...LoggerOption) *Logger {
	l := &Logger{
		records:    make(map[string]*ExecutionRecord),
		stepStarts: make(map[string]map[string]time.Time),
		store:      store,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ExecOption customizes a new execution record.
type ExecOption func(*ExecutionRecord)

// WithDescription sets the record description.
func WithDescription(d string) ExecOption {
	return func(r *ExecutionRecord) { r.Description = d }
}

// WithCorrelationID ties the execution to an external id.
func WithCorrelationID(id string) ExecOption {
	return func(r *ExecutionRecord) { r.CorrelationID = id }
}

// WithParent links the execution to a parent execution id.
func WithParent(id string) ExecOption {
	return func(r *ExecutionRecord) { r.Parent = id }
}

// CreateExecution initializes a record, captures the initial state
// snapshot, and creates a matching progress workflow when a tracker is
// attached. Returns the execution id.
func (l *Logger) CreateExecution(name, execType string, opts ...ExecOption) string {
	now := l.now()
	rec := &ExecutionRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        execType,
		Status:      StatusRunning,
		StartTime:   now,
		StepMetrics: make(map[string]*StepMetrics),
	}
	for _, opt := range opts {
		opt(rec)
	}
	if l.state != nil {
		rec.InitialState = l.state.ExportMap()
	}
	if l.tracker != nil {
		rec.ProgressID = l.tracker.CreateWorkflow(name)
	}

	l.mu.Lock()
	l.records[rec.ID] = rec
	l.stepStarts[rec.ID] = make(map[string]time.Time)
	l.mu.Unlock()
	return rec.ID
}

// Start emits the workflow_start event.
func (l *Logger) Start(id string) error {
	return l.append(id, Event{Type: EventWorkflowStart}, func(rec *ExecutionRecord) {
		rec.Status = StatusRunning
	})
}

// Complete finishes the record successfully, captures the final state, and
// persists through the store.
func (l *Logger) Complete(ctx context.Context, id string) error {
	return l.finish(ctx, id, StatusCompleted, "")
}

// Abort finishes the record as aborted with a reason.
func (l *Logger) Abort(ctx context.Context, id, reason string) error {
	return l.finish(ctx, id, StatusAborted, reason)
}

// Fail finishes the record as failed with a reason.
func (l *Logger) Fail(ctx context.Context, id, reason string) error {
	return l.finish(ctx, id, StatusFailed, reason)
}

// Pause marks the record paused.
func (l *Logger) Pause(id string) error {
	return l.append(id, Event{Type: EventWorkflowEnd, Message: "paused"}, func(rec *ExecutionRecord) {
		rec.Status = StatusPaused
	})
}

// Resume returns a paused record to running.
func (l *Logger) Resume(id string) error {
	return l.append(id, Event{Type: EventWorkflowStart, Message: "resumed"}, func(rec *ExecutionRecord) {
		rec.Status = StatusRunning
	})
}

func (l *Logger) finish(ctx context.Context, id string, status Status, reason string) error {
	ev := Event{Type: EventWorkflowEnd}
	if reason != "" {
		ev.Message = reason
	}
	err := l.append(id, ev, func(rec *ExecutionRecord) {
		now := l.now()
		rec.Status = status
		rec.EndTime = now
		rec.Duration = now.Sub(rec.StartTime)
		if l.state != nil {
			rec.FinalState = l.state.ExportMap()
		}
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	rec := l.records[id]
	delete(l.stepStarts, id)
	l.mu.Unlock()

	if l.store != nil && rec != nil {
		if err := l.store.Save(ctx, rec); err != nil {
			l.emitEvent(emit.Event{
				Workflow: rec.Name,
				Level:    emit.LevelWarn,
				Msg:      "execution_record_persist_failed",
				Meta:     map[string]interface{}{"execution_id": id, "error": err.Error()},
			})
		}
	}
	return nil
}

// LogStepStart records a step beginning and opens its timer.
func (l *Logger) LogStepStart(id, step string) error {
	return l.append(id, Event{Type: EventStepStart, Step: step}, func(rec *ExecutionRecord) {
		if starts := l.stepStarts[id]; starts != nil {
			starts[step] = l.now()
		}
	})
}

// LogStepEnd records a step finishing and folds the elapsed time into the
// step metrics. A non-nil stepErr counts the step as failed.
func (l *Logger) LogStepEnd(id, step string, stepErr error) error {
	ev := Event{Type: EventStepEnd, Step: step}
	if stepErr != nil {
		ev.Message = stepErr.Error()
	}
	return l.append(id, ev, func(rec *ExecutionRecord) {
		now := l.now()
		m := rec.StepMetrics[step]
		if m == nil {
			m = &StepMetrics{}
			rec.StepMetrics[step] = m
		}
		if started, ok := l.stepStarts[id][step]; ok {
			elapsed := now.Sub(started)
			m.Count++
			m.TotalDuration += elapsed
			m.AverageDuration = m.TotalDuration / time.Duration(m.Count)
			if elapsed > m.MaxDuration {
				m.MaxDuration = elapsed
			}
			delete(l.stepStarts[id], step)
		}
		if stepErr != nil {
			m.Failed++
			rec.FailedSteps++
		}
	})
}

// LogAgentAction records an action by a named agent.
func (l *Logger) LogAgentAction(id, agent, action string, data map[string]interface{}) error {
	return l.append(id, Event{Type: EventAgentAction, Message: action, Data: mergeData(data, "agent", agent)}, func(rec *ExecutionRecord) {
		rec.AgentsUsed = addUnique(rec.AgentsUsed, agent)
	})
}

// LogToolCall records a tool invocation.
func (l *Logger) LogToolCall(id, tool string, data map[string]interface{}) error {
	return l.append(id, Event{Type: EventToolCall, Data: mergeData(data, "tool", tool)}, func(rec *ExecutionRecord) {
		rec.ToolsUsed = addUnique(rec.ToolsUsed, tool)
	})
}

// LogLLMUsage records token consumption and cost for a model call.
func (l *Logger) LogLLMUsage(id, model string, tokensIn, tokensOut int64, cost float64) error {
	data := map[string]interface{}{
		"model": model, "tokens_in": tokensIn, "tokens_out": tokensOut, "cost": cost,
	}
	return l.append(id, Event{Type: EventLLMUsage, Data: data}, func(rec *ExecutionRecord) {
		rec.TokensIn += tokensIn
		rec.TokensOut += tokensOut
		rec.Cost += cost
	})
}

// LogDecision records a branching decision with its reasoning.
func (l *Logger) LogDecision(id, decision, reasoning string) error {
	return l.append(id, Event{Type: EventDecision, Message: decision, Data: map[string]interface{}{"reasoning": reasoning}}, nil)
}

// LogStateChange records one variable mutation.
func (l *Logger) LogStateChange(id, name string, oldValue, newValue interface{}) error {
	return l.append(id, Event{Type: EventStateChange, Message: name}, func(rec *ExecutionRecord) {
		rec.StateChanges = append(rec.StateChanges, StateDelta{
			Timestamp: l.now(), Name: name, Old: oldValue, New: newValue,
		})
	})
}

// LogCheckpoint records a checkpoint being taken.
func (l *Logger) LogCheckpoint(id, checkpointID string) error {
	return l.append(id, Event{Type: EventCheckpoint, Message: checkpointID}, nil)
}

// LogRollback records a restore to an earlier checkpoint.
func (l *Logger) LogRollback(id, checkpointID, reason string) error {
	return l.append(id, Event{Type: EventRollback, Message: checkpointID, Data: map[string]interface{}{"reason": reason}}, nil)
}

// LogRetry records one retry of a step.
func (l *Logger) LogRetry(id, step string, attempt int, category fault.Category) error {
	data := map[string]interface{}{"attempt": attempt, "category": string(category)}
	return l.append(id, Event{Type: EventRetry, Step: step, Data: data}, func(rec *ExecutionRecord) {
		rec.RetriedSteps++
		m := rec.StepMetrics[step]
		if m == nil {
			m = &StepMetrics{}
			rec.StepMetrics[step] = m
		}
		m.Retried++
	})
}

// LogError records a categorized error, optionally with traceback text.
func (l *Logger) LogError(id, step string, err error, category fault.Category, traceback string) error {
	data := map[string]interface{}{"category": string(category)}
	if traceback != "" {
		data["traceback"] = traceback
	}
	return l.append(id, Event{Type: EventError, Step: step, Message: err.Error(), Data: data}, nil)
}

// LogUserInput records input supplied by a user mid-execution.
func (l *Logger) LogUserInput(id, prompt, input string) error {
	return l.append(id, Event{Type: EventUserInput, Message: prompt, Data: map[string]interface{}{"input": input}}, nil)
}

// LogMemoryUsage records a memory high-water mark in bytes.
func (l *Logger) LogMemoryUsage(id string, bytes int64) error {
	return l.append(id, Event{Type: EventMemoryUsage, Data: map[string]interface{}{"bytes": bytes}}, nil)
}

// Record returns a copy of an active or finished in-memory record.
func (l *Logger) Record(id string) (ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return ExecutionRecord{}, &fault.NotFoundError{Kind: "execution", Name: id}
	}
	return copyRecord(rec), nil
}

// append adds an event and applies the aggregate mutation under the lock.
func (l *Logger) append(id string, ev Event, mutate func(*ExecutionRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return &fault.NotFoundError{Kind: "execution", Name: id}
	}
	ev.Timestamp = l.now()
	rec.Events = append(rec.Events, ev)
	if mutate != nil {
		mutate(rec)
	}
	return nil
}

func (l *Logger) emitEvent(ev emit.Event) {
	if l.emitter != nil {
		l.emitter.Emit(ev)
	}
}

func copyRecord(rec *ExecutionRecord) ExecutionRecord {
	out := *rec
	out.Events = append([]Event(nil), rec.Events...)
	out.AgentsUsed = append([]string(nil), rec.AgentsUsed...)
	out.ToolsUsed = append([]string(nil), rec.ToolsUsed...)
	out.StateChanges = append([]StateDelta(nil), rec.StateChanges...)
	out.StepMetrics = make(map[string]*StepMetrics, len(rec.StepMetrics))
	for k, v := range rec.StepMetrics {
		copied := *v
		out.StepMetrics[k] = &copied
	}
	return out
}

func mergeData(data map[string]interface{}, key, value string) map[string]interface{} {
	if data == nil {
		data = make(map[string]interface{})
	}
	data[key] = value
	return data
}
