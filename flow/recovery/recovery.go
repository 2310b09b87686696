// Package recovery selects and applies recovery actions for failed
// workflow steps. A Manager owns an ordered strategy chain (retry,
// rollback, alternate path), transactional execution against the
// checkpoint store, and a bounded history of recovery decisions.
package recovery

import (
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

// Action is the decision produced for a handled error.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionSkip      Action = "skip"
	ActionRollback  Action = "rollback"
	ActionAlternate Action = "alternate"
	ActionNotify    Action = "notify"
	ActionAbort     Action = "abort"
	ActionCustom    Action = "custom"
)

// Outcome tags the result of running a step under recovery. Success means
// the step finished without error; every other value names the recovery
// action that was chosen for its failure.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "retry"
	OutcomeSkip      Outcome = "skip"
	OutcomeRollback  Outcome = "rollback"
	OutcomeAlternate Outcome = "alternate"
	OutcomeNotify    Outcome = "notify"
	OutcomeAbort     Outcome = "abort"
	OutcomeCustom    Outcome = "custom"
)

// Context carries everything a strategy needs to decide on an error.
type Context struct {
	Err       error
	Category  fault.Category
	Workflow  string
	Step      string
	Timestamp time.Time

	// Attempt counts consecutive recoveries for this step since the last
	// success, starting at 1.
	Attempt int

	// StateSnapshot is the store contents at the moment of failure.
	StateSnapshot map[string]interface{}

	// Info holds caller-supplied detail. Strategies may add keys; the
	// alternate-path strategy stores its result under "alternate_result".
	Info map[string]interface{}
}

// Record is one entry in the manager's recovery history.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Workflow  string         `json:"workflow_id"`
	Step      string         `json:"step_id"`
	Category  fault.Category `json:"category"`
	Action    Action         `json:"action"`
	Strategy  string         `json:"strategy"`
	Error     string         `json:"error"`
}

// Callback observes recovery decisions. Pre callbacks run before strategy
// selection, post callbacks after, and abort callbacks only when the chosen
// action is abort.
type Callback func(*Context)
