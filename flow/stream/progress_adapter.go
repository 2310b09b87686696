package stream

import (
	"github.com/dshills/agentflow-go/flow/progress"
)

// ProgressAdapter mirrors stream lifecycle events into a progress tracker
// item: started starts it, progress chunks update its percent, complete
// finishes it, and error fails it.
type ProgressAdapter struct {
	tracker *progress.Tracker
	itemID  string
}

// NewProgressAdapter binds a tracker item to a stream.
func NewProgressAdapter(tracker *progress.Tracker, itemID string) *ProgressAdapter {
	return &ProgressAdapter{tracker: tracker, itemID: itemID}
}

// Wrap chains the adapter in front of a sink.
func (a *ProgressAdapter) Wrap(sink Sink) Sink {
	return func(ev Event) error {
		a.observe(ev)
		if sink != nil {
			return sink(ev)
		}
		return nil
	}
}

func (a *ProgressAdapter) observe(ev Event) {
	if a.tracker == nil {
		return
	}
	switch ev.Kind {
	case EventStarted:
		_ = a.tracker.Start(a.itemID)
	case EventChunk:
		if ev.Chunk != nil && ev.Chunk.Type == ChunkProgress {
			if pct, ok := ev.Chunk.Content.(float64); ok {
				_ = a.tracker.UpdateProgress(a.itemID, pct)
			}
		}
	case EventComplete:
		_ = a.tracker.Complete(a.itemID)
	case EventError:
		msg := "stream failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		_ = a.tracker.Fail(a.itemID, msg, false)
	}
}
