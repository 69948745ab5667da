// Package events implements the push infrastructure C8 streams progress
// and result events over, and the LISTEN/NOTIFY pub/sub C9 uses to
// announce active per-tenant queues, grounded on the teacher's
// pkg/events/manager.go connection-manager pattern (§4.8, §4.9).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds how long a push write may block a session's stream.
const writeTimeout = 5 * time.Second

// Event is one server-push message delivered to a session's stream (§4.8):
// either a progress event keyed by progressToken, or a completed-test
// result event.
type Event struct {
	Type          string `json:"type"` // "progress" | "result"
	RunID         string `json:"run_id"`
	ProgressToken string `json:"progress_token,omitempty"`
	Payload       any    `json:"payload"`
}

// Connection is a single session's live push stream.
type Connection struct {
	SessionID string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// Done reports when the connection is replaced (a reconnect) or
// unregistered, letting the caller's read/accept loop unblock.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Manager fans server-push events out to every connected session, one
// process-wide instance per server process (§4.8).
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection // session id -> connection
}

// NewManager builds an empty push-event Manager.
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*Connection)}
}

// Register binds conn to sessionID's push stream, replacing any prior
// connection for that session (a reconnect).
func (m *Manager) Register(sessionID string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{SessionID: sessionID, conn: conn, ctx: ctx, cancel: cancel}

	m.mu.Lock()
	if prior, ok := m.connections[sessionID]; ok {
		prior.cancel()
	}
	m.connections[sessionID] = c
	m.mu.Unlock()
	return c
}

// Unregister removes sessionID's connection, a no-op if already removed.
func (m *Manager) Unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[sessionID]; ok {
		c.cancel()
		delete(m.connections, sessionID)
	}
}

// Push delivers ev to sessionID's stream if one is connected; silently
// drops it otherwise (§4.8: events aren't guaranteed ordered/delivered
// across reconnects — the caller falls back to get_status for durable
// state).
func (m *Manager) Push(sessionID string, ev Event) error {
	m.mu.RLock()
	c, ok := m.connections[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal push event: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// newEventID returns a fresh random event id. Push does not call it, and
// Event carries no id field.
func newEventID() string { return uuid.NewString() }
