package retry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the persisted trace of one retried operation, written as
// <dir>/<execution_id>.json when the operation finishes.
type Record struct {
	ExecutionID string        `json:"execution_id"`
	Workflow    string        `json:"workflow_id"`
	Step        string        `json:"step_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Attempts    []Attempt     `json:"attempts"`
	Outcome     Outcome       `json:"outcome"`
	TotalDelay  time.Duration `json:"total_delay"`
}

// Stats aggregates records for reporting.
type Stats struct {
	Operations   int            `json:"operations"`
	Attempts     int            `json:"attempts"`
	Successes    int            `json:"successes"`
	SuccessRate  float64        `json:"success_rate"`
	AverageDelay time.Duration  `json:"average_delay"`
	ByStep       map[string]int `json:"retries_by_step"`

	// MostRetried lists step ids by descending retry count.
	MostRetried []string `json:"most_retried"`
}

// Monitor records retry operations to disk and answers statistics queries.
// Records are kept in memory for the life of the process and persisted one
// file per operation. Disk failures are remembered on the record but do not
// fail the operation.
type Monitor struct {
	mu      sync.Mutex
	dir     string
	active  map[string]*Record
	records []*Record
}

// NewMonitor creates a Monitor persisting into dir. An empty dir disables
// persistence.
func NewMonitor(dir string) (*Monitor, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create retry monitor dir: %w", err)
		}
	}
	return &Monitor{dir: dir, active: make(map[string]*Record)}, nil
}

func (m *Monitor) begin(rctx *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[rctx.ExecutionID] = &Record{
		ExecutionID: rctx.ExecutionID,
		Workflow:    rctx.Workflow,
		Step:        rctx.Step,
		StartTime:   rctx.StartTime,
	}
}

func (m *Monitor) finish(rctx *Context, outcome Outcome) {
	m.mu.Lock()
	rec, ok := m.active[rctx.ExecutionID]
	if !ok {
		rec = &Record{ExecutionID: rctx.ExecutionID, Workflow: rctx.Workflow, Step: rctx.Step, StartTime: rctx.StartTime}
	}
	delete(m.active, rctx.ExecutionID)
	rec.EndTime = time.Now()
	rec.Attempts = append([]Attempt(nil), rctx.Attempts...)
	rec.Outcome = outcome
	rec.TotalDelay = rctx.TotalDelay
	m.records = append(m.records, rec)
	dir := m.dir
	m.mu.Unlock()

	if dir == "" {
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	// Best effort: monitoring must not fail the retried operation.
	_ = os.WriteFile(filepath.Join(dir, sanitize(rec.ExecutionID)+".json"), data, 0o644)
}

// WorkflowStats aggregates all finished records for a workflow. An empty
// workflow aggregates everything.
func (m *Monitor) WorkflowStats(workflow string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ByStep: make(map[string]int)}
	var totalDelay time.Duration
	for _, rec := range m.records {
		if workflow != "" && rec.Workflow != workflow {
			continue
		}
		stats.Operations++
		stats.Attempts += len(rec.Attempts)
		if rec.Outcome == OutcomeSuccess {
			stats.Successes++
		}
		totalDelay += rec.TotalDelay
		if retries := len(rec.Attempts) - 1; retries > 0 {
			stats.ByStep[rec.Step] += retries
		}
	}
	if stats.Operations > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Operations)
		stats.AverageDelay = totalDelay / time.Duration(stats.Operations)
	}

	steps := make([]string, 0, len(stats.ByStep))
	for step := range stats.ByStep {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool {
		if stats.ByStep[steps[i]] != stats.ByStep[steps[j]] {
			return stats.ByStep[steps[i]] > stats.ByStep[steps[j]]
		}
		return steps[i] < steps[j]
	})
	stats.MostRetried = steps
	return stats
}

// StepStats aggregates records for one (workflow, step).
func (m *Monitor) StepStats(workflow, step string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ByStep: make(map[string]int)}
	var totalDelay time.Duration
	for _, rec := range m.records {
		if rec.Workflow != workflow || rec.Step != step {
			continue
		}
		stats.Operations++
		stats.Attempts += len(rec.Attempts)
		if rec.Outcome == OutcomeSuccess {
			stats.Successes++
		}
		totalDelay += rec.TotalDelay
	}
	if stats.Operations > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Operations)
		stats.AverageDelay = totalDelay / time.Duration(stats.Operations)
	}
	return stats
}

// sanitize keeps execution ids filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
