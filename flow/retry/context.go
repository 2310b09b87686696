package retry

import (
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

// Outcome is the terminal result of a retried operation.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailed             Outcome = "failed"
	OutcomeMaxRetriesExceeded Outcome = "max_retries_exceeded"
	OutcomeTimeoutExceeded    Outcome = "timeout_exceeded"
	OutcomeAborted            Outcome = "aborted"
	OutcomePolicyRejected     Outcome = "policy_rejected"
)

// Attempt records one invocation of the retried function.
type Attempt struct {
	Number   int            `json:"number"`
	At       time.Time      `json:"at"`
	Error    string         `json:"error,omitempty"`
	Category fault.Category `json:"category,omitempty"`
	Delay    time.Duration  `json:"delay_ms,omitempty"`
}

// Context carries the mutable state of one retried step execution.
type Context struct {
	Workflow    string `json:"workflow_id"`
	Step        string `json:"step_id"`
	ExecutionID string `json:"execution_id"`

	// Err is the most recent error; Category its classification.
	Err      error          `json:"-"`
	Category fault.Category `json:"category,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	StartTime   time.Time `json:"start_time"`
	LastRetryAt time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`

	// TotalDelay is the sum of sleeps so far.
	TotalDelay time.Duration `json:"total_delay_ms"`

	// Attempts lists every invocation, including the final one.
	Attempts []Attempt `json:"attempts"`

	// State is scratch space shared between attempts, e.g. by the
	// degrading strategy.
	State map[string]interface{} `json:"state,omitempty"`
}

// NewContext initializes a retry context for one step execution.
func NewContext(workflow, step, executionID string) *Context {
	return &Context{
		Workflow:    workflow,
		Step:        step,
		ExecutionID: executionID,
		StartTime:   time.Now(),
		State:       make(map[string]interface{}),
	}
}

// recordAttempt appends one invocation to the history.
func (c *Context) recordAttempt(at time.Time, err error, category fault.Category, delay time.Duration) {
	a := Attempt{Number: len(c.Attempts) + 1, At: at, Category: category, Delay: delay}
	if err != nil {
		a.Error = err.Error()
	}
	c.Attempts = append(c.Attempts, a)
}
