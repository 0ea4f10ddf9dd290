package socket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
)

// Connection wraps one client's WebSocket, serializing writes: coder/websocket
// permits only one writer at a time per conn, but SendToken/SendAudioChunk/
// Emit are each called from whichever goroutine the stage graph happens to
// run that stage on, so every write must go through writeMu.
type Connection struct {
	SessionID string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// newConnection wraps an accepted WebSocket for one client.
func newConnection(sessionID string, conn *websocket.Conn) *Connection {
	return &Connection{SessionID: sessionID, conn: conn}
}

// Send marshals frame as JSON and writes it as one text message. Safe for
// concurrent use by multiple stage goroutines.
func (c *Connection) Send(ctx context.Context, frame OutboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying WebSocket with the given status and reason.
func (c *Connection) Close(status websocket.StatusCode, reason string) error {
	return c.conn.Close(status, reason)
}

// Registry tracks live connections by session ID, the way webchat-style
// adapters in the corpus keep a connection map so a reply can be routed back
// to the right client without threading a *Connection through every call.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry returns an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers conn under sessionID, replacing any prior connection for
// that session (a client that reconnects takes over its session).
func (r *Registry) Add(sessionID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sessionID] = conn
}

// Remove unregisters the connection for sessionID, if it is still the one
// that was added (a stale goroutine closing out from under a reconnect must
// not evict the new connection).
func (r *Registry) Remove(sessionID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[sessionID]; ok && current == conn {
		delete(r.conns, sessionID)
	}
}

// Get returns the live connection for sessionID, if any.
func (r *Registry) Get(sessionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[sessionID]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
