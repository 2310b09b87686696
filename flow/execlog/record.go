// Package execlog records workflow executions as structured event streams
// with per-record aggregates, persisted to files or SQL databases and
// queryable by name, status, date range, and correlation id.
package execlog

import "time"

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusPaused    Status = "paused"
)

// EventType classifies a logged event.
type EventType string

const (
	EventWorkflowStart EventType = "workflow_start"
	EventWorkflowEnd   EventType = "workflow_end"
	EventStepStart     EventType = "step_start"
	EventStepEnd       EventType = "step_end"
	EventAgentAction   EventType = "agent_action"
	EventToolCall      EventType = "tool_call"
	EventLLMUsage      EventType = "llm_usage"
	EventDecision      EventType = "decision"
	EventStateChange   EventType = "state_change"
	EventCheckpoint    EventType = "checkpoint"
	EventRollback      EventType = "rollback"
	EventRetry         EventType = "retry"
	EventError         EventType = "error"
	EventUserInput     EventType = "user_input"
	EventMemoryUsage   EventType = "memory_usage"
)

// Event is one entry in an execution's ordered event list.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Step      string                 `json:"step_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// StepMetrics aggregates timing per step, with a running average.
type StepMetrics struct {
	Count           int           `json:"count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	Retried         int           `json:"retried"`
	Failed          int           `json:"failed"`
}

// StateDelta is one recorded state mutation.
type StateDelta struct {
	Timestamp time.Time   `json:"timestamp"`
	Name      string      `json:"name"`
	Old       interface{} `json:"old_value"`
	New       interface{} `json:"new_value"`
}

// ExecutionRecord is the full account of one workflow execution.
type ExecutionRecord struct {
	ID            string `json:"execution_id"`
	Name          string `json:"name"`
	Type          string `json:"execution_type"`
	Description   string `json:"description,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Parent        string `json:"parent_id,omitempty"`

	Status    Status        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`

	AgentsUsed []string `json:"agents_used"`
	ToolsUsed  []string `json:"tools_used"`
	TokensIn   int64    `json:"tokens_in"`
	TokensOut  int64    `json:"tokens_out"`
	Cost       float64  `json:"cost"`

	Events       []Event                 `json:"events"`
	StepMetrics  map[string]*StepMetrics `json:"step_metrics"`
	RetriedSteps int                     `json:"retried_steps"`
	FailedSteps  int                     `json:"failed_steps"`

	ProgressID   string                 `json:"progress_id,omitempty"`
	InitialState map[string]interface{} `json:"initial_state,omitempty"`
	FinalState   map[string]interface{} `json:"final_state,omitempty"`
	StateChanges []StateDelta           `json:"state_changes,omitempty"`
}

// Steps extracts the distinct step ids in first-seen order.
func (r *ExecutionRecord) Steps() []string {
	seen := make(map[string]bool)
	var steps []string
	for _, ev := range r.Events {
		if ev.Type != EventStepStart || seen[ev.Step] {
			continue
		}
		seen[ev.Step] = true
		steps = append(steps, ev.Step)
	}
	return steps
}

// Errors extracts the error events in order.
func (r *ExecutionRecord) Errors() []Event {
	var errs []Event
	for _, ev := range r.Events {
		if ev.Type == EventError {
			errs = append(errs, ev)
		}
	}
	return errs
}

// addUnique appends s to list when absent, preserving order.
func addUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
