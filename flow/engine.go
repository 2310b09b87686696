// Package flow is the workflow execution runtime: a directed graph of nodes
// executed under recovery, transactions, and retry, with progress tracking
// and execution logging wired in. Subsystems live in the flow/* packages;
// the Runtime ties them together.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/agentflow-go/flow/recovery"
)

// NodeFn is the unit of work for one node. Inputs maps predecessor node ids
// to their outputs, restricted to edges whose guard passed.
type NodeFn func(ctx context.Context, inputs map[string]interface{}) (interface{}, error)

// Node is one executable vertex in a workflow graph.
type Node struct {
	ID   string
	Kind string
	Fn   NodeFn
}

// Guard decides whether an edge is followed, given the source node's output.
type Guard func(output interface{}) bool

// Edge connects two nodes, optionally guarded.
type Edge struct {
	From  string
	To    string
	Guard Guard
}

// Result is one workflow run: the final node's output plus every node's
// output keyed by id.
type Result struct {
	ExecutionID string
	Output      interface{}
	Outputs     map[string]interface{}
	Skipped     []string
}

// Engine executes a node graph against a Runtime. Nodes run in topological
// order; each node passes through the auto-checkpoint check, then the
// recovery-guarded transactional path, with the retry engine invoking the
// node body.
type Engine struct {
	rt    *Runtime
	nodes map[string]*Node
	order []string
	edges []Edge

	// skipDefaults maps a node kind to the conservative output substituted
	// when recovery decides to skip a node, keeping downstream nodes
	// executable.
	skipDefaults map[string]interface{}
}

// NewEngine creates an empty graph bound to a runtime.
func NewEngine(rt *Runtime) *Engine {
	return &Engine{
		rt:           rt,
		nodes:        make(map[string]*Node),
		skipDefaults: make(map[string]interface{}),
	}
}

// AddNode registers a node. Node ids must be unique.
func (e *Engine) AddNode(id, kind string, fn NodeFn) error {
	if _, exists := e.nodes[id]; exists {
		return fmt.Errorf("node %s already registered", id)
	}
	e.nodes[id] = &Node{ID: id, Kind: kind, Fn: fn}
	e.order = append(e.order, id)
	return nil
}

// AddEdge connects from → to. A nil guard always passes.
func (e *Engine) AddEdge(from, to string, guard Guard) error {
	if e.nodes[from] == nil {
		return fmt.Errorf("unknown node %s", from)
	}
	if e.nodes[to] == nil {
		return fmt.Errorf("unknown node %s", to)
	}
	e.edges = append(e.edges, Edge{From: from, To: to, Guard: guard})
	return nil
}

// RegisterSkipDefault sets the output substituted for skipped nodes of the
// given kind.
func (e *Engine) RegisterSkipDefault(kind string, output interface{}) {
	e.skipDefaults[kind] = output
}

// topoOrder returns node ids in dependency order, stable with respect to
// registration order among ready nodes.
func (e *Engine) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(e.nodes))
	for id := range e.nodes {
		indegree[id] = 0
	}
	for _, edge := range e.edges {
		indegree[edge.To]++
	}

	var sorted []string
	remaining := len(e.nodes)
	done := make(map[string]bool, len(e.nodes))
	for remaining > 0 {
		progressed := false
		for _, id := range e.order {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			sorted = append(sorted, id)
			remaining--
			progressed = true
			for _, edge := range e.edges {
				if edge.From == id {
					indegree[edge.To]--
				}
			}
		}
		if !progressed {
			return nil, errors.New("workflow graph contains a cycle")
		}
	}
	return sorted, nil
}

// Run executes the graph. The workflow name becomes the execution record
// name; the returned Result carries the final node's output.
func (e *Engine) Run(ctx context.Context, workflow string, input map[string]interface{}) (*Result, error) {
	sorted, err := e.topoOrder()
	if err != nil {
		return nil, err
	}

	execID := e.rt.Logger.CreateExecution(workflow, "workflow")
	if err := e.rt.Logger.Start(execID); err != nil {
		return nil, err
	}
	rec, err := e.rt.Logger.Record(execID)
	if err != nil {
		return nil, err
	}
	progressRoot := rec.ProgressID
	if progressRoot != "" {
		_ = e.rt.Tracker.Start(progressRoot)
	}

	stepItems := make(map[string]string, len(sorted))
	if progressRoot != "" {
		for _, id := range sorted {
			if itemID, err := e.rt.Tracker.CreateStep(progressRoot, id); err == nil {
				stepItems[id] = itemID
			}
		}
	}

	result := &Result{ExecutionID: execID, Outputs: make(map[string]interface{})}
	executed := make(map[string]bool, len(sorted))

	for _, id := range sorted {
		node := e.nodes[id]
		inputs, reachable := e.gatherInputs(id, input, result.Outputs, executed)
		if !reachable {
			result.Skipped = append(result.Skipped, id)
			result.Outputs[id] = e.skipDefaults[node.Kind]
			if itemID := stepItems[id]; itemID != "" {
				_ = e.rt.Tracker.Skip(itemID, false)
			}
			continue
		}

		out, err := e.runNode(ctx, workflow, execID, node, inputs, stepItems[id], result)
		if err != nil {
			if progressRoot != "" {
				_ = e.rt.Tracker.Fail(progressRoot, err.Error(), false)
			}
			_ = e.rt.Logger.Fail(ctx, execID, err.Error())
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		result.Outputs[id] = out
		result.Output = out
		executed[id] = true
	}

	if progressRoot != "" {
		_ = e.rt.Tracker.Complete(progressRoot)
	}
	if err := e.rt.Logger.Complete(ctx, execID); err != nil {
		return result, err
	}
	return result, nil
}

// gatherInputs collects predecessor outputs along satisfied edges. A node
// with incoming edges but no satisfied one is unreachable and gets skipped.
func (e *Engine) gatherInputs(id string, input map[string]interface{}, outputs map[string]interface{}, executed map[string]bool) (map[string]interface{}, bool) {
	inputs := make(map[string]interface{}, len(input)+2)
	for k, v := range input {
		inputs[k] = v
	}

	incoming := 0
	satisfied := 0
	for _, edge := range e.edges {
		if edge.To != id {
			continue
		}
		incoming++
		if !executed[edge.From] {
			continue
		}
		out := outputs[edge.From]
		if edge.Guard != nil && !edge.Guard(out) {
			continue
		}
		inputs[edge.From] = out
		satisfied++
	}
	if incoming > 0 && satisfied == 0 {
		return nil, false
	}
	return inputs, true
}

// runNode executes one node through the full path: auto checkpoint, the
// recovery manager's guarded transactional run with a bounded local retry
// loop, the retry engine inside, and progress plus log emission around it.
func (e *Engine) runNode(ctx context.Context, workflow, execID string, node *Node, inputs map[string]interface{}, itemID string, result *Result) (interface{}, error) {
	if cp, err := e.rt.Checkpoints.CheckAuto(workflow, node.ID); err == nil && cp != nil {
		_ = e.rt.Logger.LogCheckpoint(execID, cp.ID)
	}

	if itemID != "" {
		_ = e.rt.Tracker.Start(itemID)
	}
	_ = e.rt.Logger.LogStepStart(execID, node.ID)
	if e.rt.Metrics != nil {
		e.rt.Metrics.nodeStarted()
		defer e.rt.Metrics.nodeFinished()
	}
	started := time.Now()

	stepFn := func(ctx context.Context) (interface{}, error) {
		return e.rt.Recovery.Transaction(ctx, workflow, node.ID, func(ctx context.Context) (interface{}, error) {
			out, _, rctx, err := e.rt.Retry.Execute(ctx, workflow, node.ID, execID,
				func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					return node.Fn(ctx, args)
				}, inputs)
			for _, attempt := range rctx.Attempts {
				if attempt.Number > 1 {
					_ = e.rt.Logger.LogRetry(execID, node.ID, attempt.Number, attempt.Category)
				}
			}
			if e.rt.Metrics != nil {
				e.rt.Metrics.countRetries(workflow, node.ID, rctx.RetryCount, rctx.TotalDelay)
			}
			return out, err
		})
	}

	var out interface{}
	var runErr error
	limit := e.rt.Recovery.LocalRetryLimit()
	for attempt := 0; ; attempt++ {
		res, outcome, err := e.rt.Recovery.Run(ctx, workflow, node.ID, stepFn)
		if outcome == recovery.OutcomeSuccess || outcome == recovery.OutcomeAlternate {
			out = res
			break
		}
		if outcome == recovery.OutcomeRetry || outcome == recovery.OutcomeRollback {
			if attempt < limit {
				continue
			}
			if err == nil {
				err = fmt.Errorf("node %s did not recover after %d attempts", node.ID, attempt+1)
			}
			runErr = err
			break
		}
		if outcome == recovery.OutcomeAbort {
			runErr = err
			break
		}
		// skip, notify, custom: substitute the conservative default.
		out = e.skipDefaults[node.Kind]
		result.Skipped = append(result.Skipped, node.ID)
		break
	}

	status := "success"
	if runErr != nil {
		status = "error"
	}
	if e.rt.Metrics != nil {
		e.rt.Metrics.observeStep(workflow, node.ID, time.Since(started), status)
	}
	_ = e.rt.Logger.LogStepEnd(execID, node.ID, runErr)
	if itemID != "" {
		if runErr != nil {
			_ = e.rt.Tracker.Fail(itemID, runErr.Error(), false)
		} else {
			_ = e.rt.Tracker.Complete(itemID)
		}
	}
	if runErr != nil {
		category := e.rt.Categorizer.Categorize(runErr)
		_ = e.rt.Logger.LogError(execID, node.ID, runErr, category, "")
	}
	return out, runErr
}
