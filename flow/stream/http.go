package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// encodeText renders a chunk as its raw delta text.
func encodeText(c *Chunk) []byte {
	if s, ok := c.Content.(string); ok {
		return []byte(s)
	}
	return []byte(fmt.Sprint(c.Content))
}

// encodeJSONLine renders a chunk as one JSON object per line.
func encodeJSONLine(c *Chunk) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeSSE renders a named server-sent event with a JSON data payload.
func encodeSSE(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event + "\ndata: " + string(data) + "\n\n"), nil
}

// encodeBinary renders bytes as-is; other content falls back to JSON.
func encodeBinary(c *Chunk) ([]byte, error) {
	if b, ok := c.Content.([]byte); ok {
		return b, nil
	}
	return json.Marshal(c.Content)
}

// WriteResponse streams the source to an HTTP response in the processor's
// format, setting the content type and flushing after every write.
func WriteResponse(ctx context.Context, w http.ResponseWriter, p *Processor, src Source) error {
	return p.Process(ctx, src, ResponseSink(w, p))
}

// ResponseSink returns a sink that writes events to an HTTP response in the
// processor's format. Headers are set immediately; every write is flushed.
// Use this directly when chaining with other sinks, e.g. a progress adapter.
func ResponseSink(w http.ResponseWriter, p *Processor) Sink {
	w.Header().Set("Content-Type", p.Format().ContentType())
	if p.Format() == FormatSSE {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
	}
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	switch p.Format() {
	case FormatSSE:
		return func(ev Event) error {
			var payload interface{}
			name := string(ev.Kind)
			switch ev.Kind {
			case EventStarted:
				payload = map[string]interface{}{"stream_id": p.ID()}
			case EventChunk:
				payload = ev.Chunk
				name = "chunk"
			case EventComplete:
				payload = map[string]interface{}{"stream_id": p.ID()}
			case EventError:
				payload = map[string]interface{}{"error": ev.Err.Error()}
			case EventCancelled:
				payload = map[string]interface{}{"stream_id": p.ID()}
			}
			frame, err := encodeSSE(name, payload)
			if err != nil {
				return err
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
			flush()
			return nil
		}

	case FormatJSON:
		return func(ev Event) error {
			if ev.Kind != EventChunk {
				return nil
			}
			line, err := encodeJSONLine(ev.Chunk)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return err
			}
			flush()
			return nil
		}

	case FormatBinary:
		return func(ev Event) error {
			if ev.Kind != EventChunk {
				return nil
			}
			frame, err := encodeBinary(ev.Chunk)
			if err != nil {
				return err
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
			flush()
			return nil
		}

	default:
		return func(ev Event) error {
			if ev.Kind != EventChunk {
				return nil
			}
			if _, err := w.Write(encodeText(ev.Chunk)); err != nil {
				return err
			}
			flush()
			return nil
		}
	}
}
