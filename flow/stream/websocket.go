package stream

import (
	"context"

	"github.com/gorilla/websocket"
)

// StreamToWebSocket forwards the source to a websocket connection. JSON
// format sends each chunk as a JSON message, text sends the delta text,
// binary sends raw bytes.
func StreamToWebSocket(ctx context.Context, conn *websocket.Conn, p *Processor, src Source) error {
	return p.Process(ctx, src, func(ev Event) error {
		if ev.Kind != EventChunk {
			return nil
		}
		switch p.Format() {
		case FormatText:
			return conn.WriteMessage(websocket.TextMessage, encodeText(ev.Chunk))
		case FormatBinary:
			frame, err := encodeBinary(ev.Chunk)
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.BinaryMessage, frame)
		default:
			return conn.WriteJSON(ev.Chunk)
		}
	})
}
