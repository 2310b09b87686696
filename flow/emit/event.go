// Package emit provides observability events for the workflow runtime.
//
// Runtime subsystems (state store, checkpoint manager, retry engine,
// recovery manager, progress tracker) accept an optional Emitter and report
// notable occurrences through it. Emitters fan the events out to logs,
// buffers, or OpenTelemetry spans.
package emit

// Level classifies the severity of an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one observability record emitted during workflow execution.
//
// Events are intentionally small: a workflow/step locus, a message, and a
// free-form metadata map. Richer audit records (token counts, per-step
// metrics) live in the execution log, not here.
type Event struct {
	// Workflow identifies the workflow execution that emitted this event.
	// Empty for process-wide events.
	Workflow string

	// Step identifies the step within the workflow. Empty for
	// workflow-level events.
	Step string

	// Level is the event severity. Zero value is treated as info.
	Level Level

	// Msg is a short machine-friendly description, e.g. "checkpoint_created",
	// "retry_scheduled", "hook_failed".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "error": error text
	//   - "category": fault category
	//   - "checkpoint_id": checkpoint identifier
	//   - "delay_ms": retry delay
	//   - "attempt": retry attempt number
	Meta map[string]interface{}
}
