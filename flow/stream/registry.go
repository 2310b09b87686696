package stream

import (
	"sort"
	"sync"
)

// Registry tracks active streams for introspection and cancellation.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Processor)}
}

// Add registers a running processor under its stream id.
func (r *Registry) Add(p *Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[p.ID()] = p
}

// Remove drops a finished stream.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Get returns the processor for a stream id, or nil.
func (r *Registry) Get(id string) *Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[id]
}

// Cancel flags the named stream for cooperative termination. Returns false
// when the stream is unknown.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	p := r.streams[id]
	r.mu.RUnlock()
	if p == nil {
		return false
	}
	p.Cancel()
	return true
}

// IDs lists the active stream ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
