package room

import (
	"sync"

	"github.com/gorilla/websocket"
)

// maxMessageBytes caps inbound message size on a room connection.
const maxMessageBytes = 64 * 1024

// WSConn adapts a gorilla websocket connection to the room Conn interface.
// Writes are serialized with a mutex: the member's writer goroutine is the
// usual writer, but close handshakes can race it.
type WSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSConn wraps an upgraded websocket connection and applies the inbound
// read limit.
func NewWSConn(conn *websocket.Conn) *WSConn {
	conn.SetReadLimit(maxMessageBytes)
	return &WSConn{conn: conn}
}

// Send writes payload as a JSON text message.
func (c *WSConn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(payload)
}

// ReadJSON reads the next inbound message into v. Only one reader may call
// this at a time.
func (c *WSConn) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

// Close closes the underlying connection.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
