package progress

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session receives broadcast messages for a workflow. Implementations must
// tolerate concurrent Send calls.
type Session interface {
	ID() string
	Send(Message) error
	Close() error
}

// WebSocketSession delivers messages over a gorilla websocket connection.
type WebSocketSession struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSession wraps an accepted connection.
func NewWebSocketSession(id string, conn *websocket.Conn) *WebSocketSession {
	return &WebSocketSession{id: id, conn: conn}
}

// ID implements Session.
func (s *WebSocketSession) ID() string { return s.id }

// Send implements Session.
func (s *WebSocketSession) Send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// Close implements Session.
func (s *WebSocketSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
