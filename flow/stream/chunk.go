// Package stream delivers sequences of chunks to HTTP and WebSocket
// clients in text, JSON-lines, SSE, or binary form, with cooperative
// cancellation and a registry of active streams.
package stream

import "time"

// ChunkType classifies a chunk's payload.
type ChunkType string

const (
	ChunkDelta    ChunkType = "delta"
	ChunkData     ChunkType = "data"
	ChunkEvent    ChunkType = "event"
	ChunkProgress ChunkType = "progress"
	ChunkMetadata ChunkType = "metadata"
	ChunkError    ChunkType = "error"
)

// Chunk is one unit of streamed output. IDs increase monotonically within
// a stream, starting at 1.
type Chunk struct {
	ID        int         `json:"id"`
	Type      ChunkType   `json:"type"`
	Content   interface{} `json:"content,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Format selects the wire encoding of a stream.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatSSE    Format = "sse"
	FormatBinary Format = "binary"
)

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatSSE:
		return "text/event-stream"
	case FormatBinary:
		return "application/octet-stream"
	default:
		return "text/plain; charset=utf-8"
	}
}
