package state

import (
	"sync"
	"time"

	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/fault"
)

// HookPhase identifies where in the mutation pipeline a hook runs.
type HookPhase string

const (
	// PhasePreChange hooks run before validation. An error aborts the write.
	PhasePreChange HookPhase = "pre_change"

	// PhaseValidation hooks run with the candidate value. An error rejects
	// the write as a ValidationError.
	PhaseValidation HookPhase = "validation"

	// PhasePostChange hooks run after commit. Errors are emitted and do not
	// roll back.
	PhasePostChange HookPhase = "post_change"
)

// Hook observes or vetoes a variable mutation. Hooks run while the store
// lock is held: they must return quickly and must not call back into the
// store with a blocking write.
type Hook func(event ChangeEvent) error

const defaultChangeCap = 1000

// Store is a collection of variables guarded by one mutex.
//
// All operations are atomic with respect to each other. The zero value is
// not usable; construct with NewStore.
type Store struct {
	mu      sync.Mutex
	vars    map[string]*Variable
	groups  map[string]*Group
	hooks   map[HookPhase][]Hook
	changes []ChangeEvent
	head    int
	count   int
	cap     int
	emitter emit.Emitter
	now     func() time.Time
}

// StoreOption configures a Store at construction.
type StoreOption func(*Store)

// WithEmitter routes store events (post-hook failures, load warnings) to e.
func WithEmitter(e emit.Emitter) StoreOption {
	return func(s *Store) { s.emitter = e }
}

// WithChangeCapacity bounds the in-memory change history ring.
func WithChangeCapacity(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		vars:   make(map[string]*Variable),
		groups: make(map[string]*Group),
		hooks:  make(map[HookPhase][]Hook),
		cap:    defaultChangeCap,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.changes = make([]ChangeEvent, 0, s.cap)
	return s
}

// VarOption configures a variable at creation.
type VarOption func(*Variable)

func WithScope(scope Scope) VarOption         { return func(v *Variable) { v.Scope = scope } }
func WithPermission(p Permission) VarOption   { return func(v *Variable) { v.Permission = p } }
func WithOwner(owner string) VarOption        { return func(v *Variable) { v.Owner = owner } }
func WithAccessList(ids ...string) VarOption  { return func(v *Variable) { v.AccessList = ids } }
func WithTags(tags ...string) VarOption       { return func(v *Variable) { v.Tags = tags } }
func WithDefault(def interface{}) VarOption   { return func(v *Variable) { v.Default = def } }
func WithTTL(ttl time.Duration) VarOption     { return func(v *Variable) { v.TTL = ttl } }
func WithValidator(fn Validator) VarOption    { return func(v *Variable) { v.Validator = fn } }
func WithType(k Kind, coerce bool) VarOption {
	return func(v *Variable) {
		v.Type = k
		v.AllowCoerce = coerce
	}
}

// Create builds a variable from a name, initial value, and options, then
// registers it. The value kind is recorded from the initial value unless
// WithType declared one, in which case the initial value must match or
// coerce to it.
func (s *Store) Create(name string, value interface{}, opts ...VarOption) error {
	v := &Variable{
		Name:       name,
		Value:      value,
		Scope:      ScopeWorkflow,
		Permission: PermReadWrite,
	}
	for _, opt := range opts {
		opt(v)
	}
	return s.Register(v)
}

// Register adds a fully built variable to the store. The name must be
// unused. Missing type tags are inferred from the value.
func (s *Store) Register(v *Variable) error {
	if v == nil || v.Name == "" {
		return &fault.ValidationError{Message: "variable must have a name"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.vars[v.Name]; ok && !existing.Expired(s.now()) {
		return &fault.ValidationError{Name: v.Name, Message: "variable already exists"}
	}

	if v.Type == "" {
		v.Type = KindOf(v.Value)
	} else if KindOf(v.Value) != v.Type {
		coerced, err := Coerce(v.Value, v.Type)
		if err != nil {
			return &fault.ValidationError{Name: v.Name, Message: err.Error()}
		}
		v.Value = coerced
	}
	if v.Scope == "" {
		v.Scope = ScopeWorkflow
	}
	if v.Permission == "" {
		v.Permission = PermReadWrite
	}

	now := s.now()
	v.CreatedAt = now
	v.UpdatedAt = now
	s.vars[v.Name] = v
	return nil
}

// Get returns a copy of the named variable, or a NotFoundError when the
// variable is absent or expired.
func (s *Store) Get(name string) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok || v.Expired(s.now()) {
		return nil, &fault.NotFoundError{Kind: "variable", Name: name}
	}
	return v.clone(), nil
}

// GetValue returns the variable's value, or def when the variable is
// absent or expired. A present variable with a nil value falls back to its
// declared default before def.
func (s *Store) GetValue(name string, def interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok || v.Expired(s.now()) {
		return def
	}
	if v.Value == nil && v.Default != nil {
		return v.Default
	}
	return v.Value
}

// SetValue writes a new value to the named variable on behalf of requestor.
//
// Pipeline: existence and expiry check, permission check, pre-change hooks,
// validation hooks plus the variable's own type and validator, commit,
// change event, post-change hooks. Any failure before commit aborts with
// no mutation. Post-change hook errors are emitted and swallowed.
func (s *Store) SetValue(name string, value interface{}, requestor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	v, ok := s.vars[name]
	if !ok || v.Expired(now) {
		return &fault.NotFoundError{Kind: "variable", Name: name}
	}

	if !v.writable(requestor) {
		return &fault.AccessError{Name: name, Requestor: requestor, Message: string(v.Permission) + " variable"}
	}

	candidate := ChangeEvent{Name: name, Old: v.Value, New: value, Requestor: requestor, Timestamp: now}

	for _, hook := range s.hooks[PhasePreChange] {
		if err := hook(candidate); err != nil {
			return err
		}
	}

	for _, hook := range s.hooks[PhaseValidation] {
		if err := hook(candidate); err != nil {
			return &fault.ValidationError{Name: name, Message: err.Error()}
		}
	}

	committed := value
	if KindOf(value) != v.Type {
		if !v.AllowCoerce {
			return &fault.ValidationError{
				Name:    name,
				Message: "expected " + string(v.Type) + ", got " + string(KindOf(value)),
			}
		}
		coerced, err := Coerce(value, v.Type)
		if err != nil {
			return &fault.ValidationError{Name: name, Message: err.Error()}
		}
		committed = coerced
	}

	if v.Validator != nil {
		if err := v.Validator(committed); err != nil {
			return &fault.ValidationError{Name: name, Message: err.Error()}
		}
	}

	// Commit point. Nothing below may fail the write.
	candidate.New = committed
	v.Value = committed
	v.UpdatedAt = now
	s.appendChange(candidate)

	for _, hook := range s.hooks[PhasePostChange] {
		if err := hook(candidate); err != nil {
			s.emitEvent(emit.Event{
				Level: emit.LevelWarn,
				Msg:   "post_change_hook_failed",
				Meta:  map[string]interface{}{"variable": name, "error": err.Error()},
			})
		}
	}
	return nil
}

// RestoreValue installs a value without permission checks, creating the
// variable with workflow scope when missing. Used by checkpoint restore.
// The change event records the system requestor.
func (s *Store) RestoreValue(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, ok := s.vars[name]
	if !ok {
		s.vars[name] = &Variable{
			Name:       name,
			Value:      value,
			Type:       KindOf(value),
			Scope:      ScopeWorkflow,
			Permission: PermReadWrite,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.appendChange(ChangeEvent{Name: name, Old: nil, New: value, Requestor: "checkpoint", Timestamp: now})
		return
	}

	old := v.Value
	v.Value = value
	v.UpdatedAt = now
	s.appendChange(ChangeEvent{Name: name, Old: old, New: value, Requestor: "checkpoint", Timestamp: now})
}

// Delete removes the named variable on behalf of requestor. Deletion is a
// write and follows the same permission rules as SetValue.
func (s *Store) Delete(name, requestor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok || v.Expired(s.now()) {
		return &fault.NotFoundError{Kind: "variable", Name: name}
	}
	if !v.writable(requestor) {
		return &fault.AccessError{Name: name, Requestor: requestor, Message: string(v.Permission) + " variable"}
	}
	delete(s.vars, name)
	return nil
}

// CreateGroup registers an empty named group. Re-creating an existing group
// updates its description and keeps its members.
func (s *Store) CreateGroup(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.groups[name]; ok {
		g.Description = description
		return
	}
	s.groups[name] = &Group{Name: name, Description: description, Variables: make(map[string]bool)}
}

// AddToGroup adds a variable to a group, creating the group if needed. The
// variable must exist.
func (s *Store) AddToGroup(group, variable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.vars[variable]; !ok || v.Expired(s.now()) {
		return &fault.NotFoundError{Kind: "variable", Name: variable}
	}
	g, ok := s.groups[group]
	if !ok {
		g = &Group{Name: group, Variables: make(map[string]bool)}
		s.groups[group] = g
	}
	g.Variables[variable] = true
	return nil
}

// GroupValues returns the current values of a group's live members.
func (s *Store) GroupValues(group string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return nil, &fault.NotFoundError{Kind: "group", Name: group}
	}
	now := s.now()
	out := make(map[string]interface{}, len(g.Variables))
	for name := range g.Variables {
		if v, ok := s.vars[name]; ok && !v.Expired(now) {
			out[name] = v.Value
		}
	}
	return out, nil
}

// AddHook registers a hook for the given phase. Hooks run in registration
// order under the store lock.
func (s *Store) AddHook(phase HookPhase, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[phase] = append(s.hooks[phase], hook)
}

// ChangeHistory returns up to limit change events, newest last. A non-empty
// name filters to that variable; limit <= 0 returns all retained events.
func (s *Store) ChangeHistory(name string, limit int) []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.orderedChanges()
	if name != "" {
		filtered := all[:0:0]
		for _, ev := range all {
			if ev.Name == name {
				filtered = append(filtered, ev)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// ExportMap returns a snapshot of every live variable's value.
func (s *Store) ExportMap() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]interface{}, len(s.vars))
	for name, v := range s.vars {
		if !v.Expired(now) {
			out[name] = v.Value
		}
	}
	return out
}

// Names returns the names of all live variables.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]string, 0, len(s.vars))
	for name, v := range s.vars {
		if !v.Expired(now) {
			out = append(out, name)
		}
	}
	return out
}

// appendChange adds an event to the bounded ring. Caller holds the lock.
func (s *Store) appendChange(ev ChangeEvent) {
	if len(s.changes) < s.cap {
		s.changes = append(s.changes, ev)
		s.count++
		return
	}
	s.changes[s.head] = ev
	s.head = (s.head + 1) % s.cap
	s.count++
}

// orderedChanges returns retained events oldest first. Caller holds the lock.
func (s *Store) orderedChanges() []ChangeEvent {
	out := make([]ChangeEvent, 0, len(s.changes))
	for i := 0; i < len(s.changes); i++ {
		out = append(out, s.changes[(s.head+i)%len(s.changes)])
	}
	return out
}

func (s *Store) emitEvent(ev emit.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}
