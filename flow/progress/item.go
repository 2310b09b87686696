// Package progress tracks hierarchical work items with weighted rollup,
// completion-time estimation, periodic broadcast to subscribed sessions,
// and snapshot/restore of the whole tree.
package progress

import "time"

// Kind classifies a work item within the hierarchy.
type Kind string

const (
	KindWorkflow  Kind = "workflow"
	KindStep      Kind = "step"
	KindSubtask   Kind = "subtask"
	KindOperation Kind = "operation"
)

// Status is the lifecycle state of an item.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
	StatusSkipped    Status = "skipped"
	StatusWaiting    Status = "waiting"
)

// terminal statuses reject further progress updates.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Event names the change broadcast for a dirty item.
type Event string

const (
	EventStarted   Event = "started"
	EventUpdated   Event = "updated"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
	EventPaused    Event = "paused"
	EventSkipped   Event = "skipped"
)

// Item is one node in the progress tree. Items reference each other by id
// only; the tracker owns the arena.
//
// Invariant: Percent == WorkCompleted / TotalWork × 100, and a parent's
// Percent is the weight-normalized average of its children's.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        Kind   `json:"item_type"`
	Parent      string `json:"parent_id,omitempty"`
	Description string `json:"description,omitempty"`

	Weight        float64 `json:"weight"`
	TotalWork     float64 `json:"total_work"`
	WorkCompleted float64 `json:"work_completed"`
	Percent       float64 `json:"percent_complete"`
	Status        Status  `json:"status"`
	Message       string  `json:"message,omitempty"`

	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty"`
	CompletedAt    time.Time     `json:"completed_at,omitempty"`
	PausedAt       time.Time     `json:"paused_at,omitempty"`
	PausedDuration time.Duration `json:"paused_duration"`

	Children []string `json:"child_ids"`

	EstimatedDuration   time.Duration `json:"estimated_duration,omitempty"`
	EstimatedCompletion time.Time     `json:"estimated_completion_time,omitempty"`
}

// activeElapsed is the running time excluding paused intervals.
func (it *Item) activeElapsed(now time.Time) time.Duration {
	if it.StartedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(it.StartedAt) - it.PausedDuration
	if it.Status == StatusPaused && !it.PausedAt.IsZero() {
		elapsed -= now.Sub(it.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Message is the wire format broadcast to subscribed sessions.
type Message struct {
	Type                string     `json:"type"`
	ClientID            string     `json:"client_id"`
	Event               Event      `json:"event"`
	ItemID              string     `json:"item_id"`
	ItemType            Kind       `json:"item_type"`
	Name                string     `json:"name"`
	Status              Status     `json:"status"`
	Progress            float64    `json:"progress"`
	Workflow            string     `json:"workflow_id"`
	Timestamp           time.Time  `json:"timestamp"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}
