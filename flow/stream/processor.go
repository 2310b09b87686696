package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventKind is the lifecycle phase of a processor notification.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventChunk     EventKind = "chunk"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Event is one notification from a running stream: a started marker, a
// chunk, and finally exactly one of complete, error, or cancelled.
type Event struct {
	Kind  EventKind
	Chunk *Chunk
	Err   error
}

// Transform optionally rewrites each source item before it is chunked.
type Transform func(item interface{}) (interface{}, error)

// Sink receives processor events. A sink error aborts the stream.
type Sink func(Event) error

// Processor drives one stream: it pulls items from a source, applies the
// transform, assigns monotonically increasing chunk ids, and pushes
// lifecycle events to a sink. The cancel flag is checked between items.
type Processor struct {
	id        string
	format    Format
	transform Transform
	cancelled atomic.Bool
	nextID    int64
	now       func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithTransform rewrites items before chunking.
func WithTransform(t Transform) ProcessorOption {
	return func(p *Processor) { p.transform = t }
}

// WithStreamID fixes the processor id instead of generating one.
func WithStreamID(id string) ProcessorOption {
	return func(p *Processor) { p.id = id }
}

func withClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor for the given format.
func NewProcessor(format Format, opts ...ProcessorOption) *Processor {
	p := &Processor{format: format, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.id == "" {
		p.id = uuid.NewString()
	}
	return p
}

// ID returns the stream id.
func (p *Processor) ID() string { return p.id }

// Format returns the stream's wire format.
func (p *Processor) Format() Format { return p.format }

// Cancel requests cooperative termination; the processor stops before the
// next item.
func (p *Processor) Cancel() { p.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (p *Processor) Cancelled() bool { return p.cancelled.Load() }

// Process runs the stream to completion. The sink sees started, then one
// event per chunk, then complete; on failure the error event carries the
// cause and Process returns it; on cancellation the cancelled event is
// emitted and Process returns nil.
func (p *Processor) Process(ctx context.Context, src Source, sink Sink) error {
	if err := sink(Event{Kind: EventStarted}); err != nil {
		return err
	}

	for {
		if p.cancelled.Load() {
			return sink(Event{Kind: EventCancelled})
		}
		if err := ctx.Err(); err != nil {
			_ = sink(Event{Kind: EventCancelled})
			return err
		}

		item, ok, err := src.Next(ctx)
		if err != nil {
			_ = sink(Event{Kind: EventError, Err: err})
			return err
		}
		if !ok {
			return sink(Event{Kind: EventComplete})
		}

		if p.transform != nil {
			item, err = p.transform(item)
			if err != nil {
				_ = sink(Event{Kind: EventError, Err: err})
				return err
			}
		}

		chunk := p.makeChunk(item)
		if err := sink(Event{Kind: EventChunk, Chunk: &chunk}); err != nil {
			return err
		}
	}
}

func (p *Processor) makeChunk(item interface{}) Chunk {
	id := int(atomic.AddInt64(&p.nextID, 1))
	chunk := Chunk{ID: id, Timestamp: p.now()}
	switch v := item.(type) {
	case Chunk:
		chunk.Type = v.Type
		chunk.Content = v.Content
	case *Chunk:
		chunk.Type = v.Type
		chunk.Content = v.Content
	case string:
		chunk.Type = ChunkDelta
		chunk.Content = v
	case []byte:
		chunk.Type = ChunkData
		chunk.Content = v
	case float64:
		chunk.Type = ChunkProgress
		chunk.Content = v
	default:
		chunk.Type = ChunkData
		chunk.Content = v
	}
	return chunk
}
