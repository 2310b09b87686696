package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, organized
// by workflow for later inspection.
//
// Intended for development, testing, and post-run analysis. All events are
// kept until cleared, so long-running production workflows should prefer
// LogEmitter or OTelEmitter.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // workflow -> events in emission order
}

// HistoryFilter selects a subset of a workflow's events. Empty fields match
// everything; set fields combine with AND.
type HistoryFilter struct {
	Step  string
	Msg   string
	Level Level
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to the buffer for its workflow.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.Workflow] = append(b.events[event.Workflow], event)
}

// History returns a copy of all events for the workflow, in emission order.
func (b *BufferedEmitter) History(workflow string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[workflow]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the workflow's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(workflow string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for _, ev := range b.events[workflow] {
		if filter.Step != "" && ev.Step != filter.Step {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.Level != "" && ev.Level != filter.Level {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops all events for the workflow. An empty workflow clears
// everything.
func (b *BufferedEmitter) Clear(workflow string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if workflow == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, workflow)
}
