package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/state"
)

// Manager creates, indexes, restores, and deletes checkpoints for one state
// store.
//
// The in-memory index is guarded by a mutex; disk I/O happens outside the
// lock. Create surfaces disk errors to the caller. Restore tolerates a
// missing index entry by reading the file directly.
type Manager struct {
	mu        sync.Mutex
	store     *state.Store
	dir       string
	index     map[string]*Checkpoint
	lastAuto  map[string]time.Time
	autoEvery time.Duration
	emitter   emit.Emitter
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAutoInterval enables auto checkpoints when at least d has elapsed
// since the last auto checkpoint for a workflow. Zero disables them.
func WithAutoInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.autoEvery = d }
}

// WithEmitter routes checkpoint events to e.
func WithEmitter(e emit.Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager persisting into dir. Existing checkpoint
// files in dir are loaded into the index; corrupt files are skipped with a
// warning event.
func NewManager(store *state.Store, dir string, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	m := &Manager{
		store:    store,
		dir:      dir,
		index:    make(map[string]*Checkpoint),
		lastAuto: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loadIndex()
	return m, nil
}

// loadIndex scans dir for checkpoint files. Corrupt entries are logged and
// skipped so one bad file cannot take down startup.
func (m *Manager) loadIndex() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.emitEvent(emit.Event{Level: emit.LevelWarn, Msg: "checkpoint_index_scan_failed",
			Meta: map[string]interface{}{"error": err.Error()}})
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := m.readFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			m.emitEvent(emit.Event{Level: emit.LevelWarn, Msg: "checkpoint_load_skip",
				Meta: map[string]interface{}{"file": entry.Name(), "error": err.Error()}})
			continue
		}
		m.mu.Lock()
		m.index[cp.ID] = cp
		m.mu.Unlock()
	}
}

// Create snapshots the state store and persists the checkpoint. Disk errors
// are returned and nothing is indexed.
func (m *Manager) Create(workflow, step string, kind Kind, metadata map[string]interface{}) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Step:      step,
		Kind:      kind,
		Timestamp: m.now(),
		State:     m.store.ExportMap(),
		Metadata:  metadata,
	}

	if err := m.writeFile(cp); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.index[cp.ID] = cp
	if kind == KindAuto {
		m.lastAuto[workflow] = cp.Timestamp
	}
	m.mu.Unlock()

	m.emitEvent(emit.Event{
		Workflow: workflow,
		Step:     step,
		Msg:      "checkpoint_created",
		Meta:     map[string]interface{}{"checkpoint_id": cp.ID, "kind": string(kind)},
	})
	return cp, nil
}

// Get returns the indexed checkpoint by id.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.index[id]
	if !ok {
		return nil, &fault.NotFoundError{Kind: "checkpoint", Name: id}
	}
	return cp, nil
}

// Restore replays the checkpoint's snapshot into the state store: every
// name in the snapshot has its value replaced, variables missing from the
// store are created with workflow scope, and variables absent from the
// snapshot are left untouched.
func (m *Manager) Restore(id string) error {
	m.mu.Lock()
	cp, ok := m.index[id]
	m.mu.Unlock()

	if !ok {
		loaded, err := m.readFile(m.filePath(id))
		if err != nil {
			if os.IsNotExist(err) {
				return &fault.NotFoundError{Kind: "checkpoint", Name: id}
			}
			return err
		}
		cp = loaded
		m.mu.Lock()
		m.index[id] = cp
		m.mu.Unlock()
	}

	for name, value := range cp.State {
		m.store.RestoreValue(name, value)
	}

	m.emitEvent(emit.Event{
		Workflow: cp.Workflow,
		Step:     cp.Step,
		Msg:      "checkpoint_restored",
		Meta:     map[string]interface{}{"checkpoint_id": id},
	})
	return nil
}

// Filter narrows Latest queries.
type Filter struct {
	// Kind, when non-empty, matches only checkpoints of that kind.
	Kind Kind

	// BeforeStep, when non-empty, matches only checkpoints created strictly
	// before the first checkpoint of the named step. When the step has no
	// checkpoints yet, every checkpoint qualifies.
	BeforeStep string
}

// Latest returns the most recent checkpoint for the workflow matching the
// filter, by timestamp.
func (m *Manager) Latest(workflow string, filter Filter) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cutoff time.Time
	haveCutoff := false
	if filter.BeforeStep != "" {
		for _, cp := range m.index {
			if cp.Workflow == workflow && cp.Step == filter.BeforeStep {
				if !haveCutoff || cp.Timestamp.Before(cutoff) {
					cutoff = cp.Timestamp
					haveCutoff = true
				}
			}
		}
	}

	var best *Checkpoint
	for _, cp := range m.index {
		if cp.Workflow != workflow {
			continue
		}
		if filter.Kind != "" && cp.Kind != filter.Kind {
			continue
		}
		if haveCutoff && !cp.Timestamp.Before(cutoff) {
			continue
		}
		if best == nil || cp.Timestamp.After(best.Timestamp) {
			best = cp
		}
	}
	if best == nil {
		return nil, &fault.NotFoundError{Kind: "checkpoint", Name: workflow}
	}
	return best, nil
}

// CheckAuto creates an auto checkpoint when the configured interval has
// elapsed since the last one for this workflow. Returns nil when auto
// checkpoints are disabled or the interval has not elapsed.
func (m *Manager) CheckAuto(workflow, step string) (*Checkpoint, error) {
	if m.autoEvery <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	last, seen := m.lastAuto[workflow]
	due := !seen || m.now().Sub(last) >= m.autoEvery
	m.mu.Unlock()

	if !due {
		return nil, nil
	}
	return m.Create(workflow, step, KindAuto, nil)
}

// Delete removes the checkpoint from the index and disk.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.index[id]
	delete(m.index, id)
	m.mu.Unlock()

	if !ok {
		return &fault.NotFoundError{Kind: "checkpoint", Name: id}
	}
	if err := os.Remove(m.filePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

// List returns the workflow's checkpoints ordered oldest first.
func (m *Manager) List(workflow string) []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Checkpoint, 0)
	for _, cp := range m.index {
		if workflow == "" || cp.Workflow == workflow {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Manager) filePath(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// writeFile persists a checkpoint atomically (temp file, then rename).
func (m *Manager) writeFile(cp *Checkpoint) error {
	data, err := cp.encode()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, ".cp-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, m.filePath(cp.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (m *Manager) readFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", filepath.Base(path), err)
	}
	return &cp, nil
}

func (m *Manager) emitEvent(ev emit.Event) {
	if m.emitter != nil {
		m.emitter.Emit(ev)
	}
}
