package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
)

// Tracker owns the arena of progress items. One mutex guards the arena,
// the dirty set, and the session registry; background loops take it only
// briefly.
type Tracker struct {
	mu        sync.Mutex
	items     map[string]*Item
	roots     map[string]bool
	dirty     map[string]Event
	sessions  map[string]map[string]Session
	estimator *Estimator
	emitter   emit.Emitter

	dir                string
	broadcastInterval  time.Duration
	checkpointInterval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithEmitter routes tracker events to e.
func WithEmitter(e emit.Emitter) TrackerOption {
	return func(t *Tracker) { t.emitter = e }
}

// WithCheckpointDir enables the checkpoint loop, writing snapshots into dir.
func WithCheckpointDir(dir string) TrackerOption {
	return func(t *Tracker) { t.dir = dir }
}

// WithBroadcastInterval sets how often dirty items are flushed to sessions.
func WithBroadcastInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.broadcastInterval = d }
}

// WithCheckpointInterval sets how often the tree is snapshotted.
func WithCheckpointInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.checkpointInterval = d }
}

// WithHistoryWindow bounds the estimator's per-item sample history.
func WithHistoryWindow(n int) TrackerOption {
	return func(t *Tracker) { t.estimator = NewEstimator(n) }
}

func withClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker. Background loops start only when
// Run is called.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		items:              make(map[string]*Item),
		roots:              make(map[string]bool),
		dirty:              make(map[string]Event),
		sessions:           make(map[string]map[string]Session),
		estimator:          NewEstimator(0),
		broadcastInterval:  500 * time.Millisecond,
		checkpointInterval: 30 * time.Second,
		done:               make(chan struct{}),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ItemOption customizes a created item.
type ItemOption func(*Item)

// WithID fixes the item id instead of generating one.
func WithID(id string) ItemOption { return func(it *Item) { it.ID = id } }

// WithWeight sets the rollup weight (default 1).
func WithWeight(w float64) ItemOption { return func(it *Item) { it.Weight = w } }

// WithTotalWork sets the work unit total (default 100).
func WithTotalWork(w float64) ItemOption { return func(it *Item) { it.TotalWork = w } }

// WithDescription sets the display description.
func WithDescription(d string) ItemOption { return func(it *Item) { it.Description = d } }

// CreateWorkflow adds a root item and returns its id.
func (t *Tracker) CreateWorkflow(name string, opts ...ItemOption) string {
	id, _ := t.create(name, KindWorkflow, "", opts)
	return id
}

// CreateStep adds a step under a parent item.
func (t *Tracker) CreateStep(parent, name string, opts ...ItemOption) (string, error) {
	return t.create(name, KindStep, parent, opts)
}

// CreateSubtask adds a subtask under a parent item.
func (t *Tracker) CreateSubtask(parent, name string, opts ...ItemOption) (string, error) {
	return t.create(name, KindSubtask, parent, opts)
}

// CreateOperation adds an operation under a parent item.
func (t *Tracker) CreateOperation(parent, name string, opts ...ItemOption) (string, error) {
	return t.create(name, KindOperation, parent, opts)
}

func (t *Tracker) create(name string, kind Kind, parent string, opts []ItemOption) (string, error) {
	now := t.now()
	it := &Item{
		Name:      name,
		Kind:      kind,
		Parent:    parent,
		Weight:    1,
		TotalWork: 100,
		Status:    StatusNotStarted,
		CreatedAt: now,
	}
	for _, opt := range opts {
		opt(it)
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if parent != "" {
		p, ok := t.items[parent]
		if !ok {
			return "", &fault.NotFoundError{Kind: "progress item", Name: parent}
		}
		p.Children = append(p.Children, it.ID)
	} else {
		t.roots[it.ID] = true
	}
	if dur, ok := t.estimator.initialEstimate(kind, it.TotalWork); ok {
		it.EstimatedDuration = dur
		it.EstimatedCompletion = now.Add(dur)
	}
	t.items[it.ID] = it
	return it.ID, nil
}

// Item returns a copy of the item, or an error when unknown.
func (t *Tracker) Item(id string) (Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return Item{}, &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	copied := *it
	copied.Children = append([]string(nil), it.Children...)
	return copied, nil
}

// Start moves an item to in_progress. Starting an in_progress item is a
// no-op.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	if it.Status == StatusInProgress {
		return nil
	}
	if it.Status.terminal() {
		return &fault.StateError{Message: "cannot start finished item " + id}
	}
	now := t.now()
	it.Status = StatusInProgress
	it.StartedAt = now
	it.UpdatedAt = now
	t.markDirty(it.ID, EventStarted)
	return nil
}

// UpdateProgress sets an item's percent, clamped to [0, 100]. Reaching 100
// completes the item.
func (t *Tracker) UpdateProgress(id string, percent float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(id, percent)
}

// IncrementProgress adds delta to an item's current percent.
func (t *Tracker) IncrementProgress(id string, delta float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	return t.updateLocked(id, it.Percent+delta)
}

func (t *Tracker) updateLocked(id string, percent float64) error {
	it, ok := t.items[id]
	if !ok {
		return &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	if it.Status.terminal() {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	now := t.now()
	it.Percent = percent
	it.WorkCompleted = percent / 100 * it.TotalWork
	it.UpdatedAt = now

	t.estimator.record(id, it.activeElapsed(now), percent)
	if eta, ok := t.estimator.estimate(id, percent, now); ok {
		it.EstimatedCompletion = eta
	}

	if percent >= 100 {
		t.completeLocked(it, now)
	} else {
		t.markDirty(it.ID, EventUpdated)
	}
	t.rollup(it.Parent, now)
	return nil
}

// Complete snaps an item to 100 percent.
func (t *Tracker) Complete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	if it.Status.terminal() {
		return nil
	}
	now := t.now()
	it.Percent = 100
	it.WorkCompleted = it.TotalWork
	it.UpdatedAt = now
	t.completeLocked(it, now)
	t.rollup(it.Parent, now)
	return nil
}

func (t *Tracker) completeLocked(it *Item, now time.Time) {
	it.Status = StatusCompleted
	it.CompletedAt = now
	t.estimator.recordCompletion(it.Kind, it.TotalWork, it.activeElapsed(now))
	t.estimator.drop(it.ID)
	t.markDirty(it.ID, EventCompleted)
}

// Fail marks an item failed, optionally cascading to descendants.
func (t *Tracker) Fail(id, msg string, cascade bool) error {
	return t.transition(id, cascade, func(it *Item, now time.Time) {
		it.Status = StatusFailed
		it.Message = msg
		it.UpdatedAt = now
		t.estimator.drop(it.ID)
		t.markDirty(it.ID, EventFailed)
	})
}

// Pause marks an item paused, optionally cascading.
func (t *Tracker) Pause(id string, cascade bool) error {
	return t.transition(id, cascade, func(it *Item, now time.Time) {
		if it.Status != StatusInProgress {
			return
		}
		it.Status = StatusPaused
		it.PausedAt = now
		it.UpdatedAt = now
		t.markDirty(it.ID, EventPaused)
	})
}

// Resume returns a paused item to in_progress, accumulating the paused
// duration.
func (t *Tracker) Resume(id string, cascade bool) error {
	return t.transition(id, cascade, func(it *Item, now time.Time) {
		if it.Status != StatusPaused {
			return
		}
		if !it.PausedAt.IsZero() {
			it.PausedDuration += now.Sub(it.PausedAt)
			it.PausedAt = time.Time{}
		}
		it.Status = StatusInProgress
		it.UpdatedAt = now
		t.markDirty(it.ID, EventUpdated)
	})
}

// Skip marks an item skipped, optionally cascading.
func (t *Tracker) Skip(id string, cascade bool) error {
	return t.transition(id, cascade, func(it *Item, now time.Time) {
		if it.Status.terminal() {
			return
		}
		it.Status = StatusSkipped
		it.UpdatedAt = now
		t.estimator.drop(it.ID)
		t.markDirty(it.ID, EventSkipped)
	})
}

func (t *Tracker) transition(id string, cascade bool, apply func(*Item, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return &fault.NotFoundError{Kind: "progress item", Name: id}
	}
	now := t.now()
	apply(it, now)
	if cascade {
		t.walkDescendants(it, func(child *Item) { apply(child, now) })
	}
	t.rollup(it.Parent, now)
	return nil
}

func (t *Tracker) walkDescendants(it *Item, fn func(*Item)) {
	for _, childID := range it.Children {
		child, ok := t.items[childID]
		if !ok {
			continue
		}
		fn(child)
		t.walkDescendants(child, fn)
	}
}

// rollup recomputes ancestor percents as the weight-normalized average of
// their children, up to the root.
func (t *Tracker) rollup(parentID string, now time.Time) {
	for parentID != "" {
		parent, ok := t.items[parentID]
		if !ok {
			return
		}
		var weighted, weights float64
		for _, childID := range parent.Children {
			child, ok := t.items[childID]
			if !ok {
				continue
			}
			weighted += child.Percent * child.Weight
			weights += child.Weight
		}
		if weights > 0 {
			parent.Percent = weighted / weights
			parent.WorkCompleted = parent.Percent / 100 * parent.TotalWork
			parent.UpdatedAt = now
			t.markDirty(parent.ID, EventUpdated)
		}
		parentID = parent.Parent
	}
}

// markDirty records the latest event for an item. Callers hold the mutex.
func (t *Tracker) markDirty(id string, ev Event) {
	t.dirty[id] = ev
}

// rootWorkflow walks parent links to the owning root. Callers hold the
// mutex.
func (t *Tracker) rootWorkflow(id string) string {
	for {
		it, ok := t.items[id]
		if !ok {
			return ""
		}
		if it.Parent == "" {
			return it.ID
		}
		id = it.Parent
	}
}

func (t *Tracker) emitEvent(ev emit.Event) {
	if t.emitter != nil {
		t.emitter.Emit(ev)
	}
}
