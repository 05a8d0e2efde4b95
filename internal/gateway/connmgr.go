package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// Conn represents a single WebSocket connection subscribed to one thread.
type Conn struct {
	ID          string
	ThreadID    string
	WS          *websocket.Conn
	writeMu     sync.Mutex
	ConnectedAt time.Time
}

// Send writes an envelope to the WebSocket connection (thread-safe).
func (c *Conn) Send(env stream.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WS.WriteJSON(env)
}

// ConnManager tracks all active WebSocket connections by thread.
type ConnManager struct {
	mu      sync.RWMutex
	conns   map[string]*Conn           // connID → conn
	waiters map[string][]chan struct{} // threadID → pending WaitSubscriber calls
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		conns:   make(map[string]*Conn),
		waiters: make(map[string][]chan struct{}),
	}
}

// Add registers a new connection and wakes anyone waiting for its thread.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
	for _, ch := range m.waiters[conn.ThreadID] {
		close(ch)
	}
	delete(m.waiters, conn.ThreadID)
}

// Remove unregisters a connection.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Publish sends an envelope to every connection of a thread and returns how
// many received it.
func (m *ConnManager) Publish(threadID string, env stream.Envelope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent := 0
	for _, conn := range m.conns {
		if conn.ThreadID != threadID {
			continue
		}
		if err := conn.Send(env); err != nil {
			slog.Warn("publish failed", "thread", threadID, "conn", conn.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Broadcast sends an envelope to all connections.
func (m *ConnManager) Broadcast(env stream.Envelope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent := 0
	for _, conn := range m.conns {
		if err := conn.Send(env); err != nil {
			slog.Warn("broadcast failed", "conn", conn.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// WaitSubscriber blocks until a connection for threadID exists or ctx ends.
func (m *ConnManager) WaitSubscriber(ctx context.Context, threadID string) bool {
	m.mu.Lock()
	for _, conn := range m.conns {
		if conn.ThreadID == threadID {
			m.mu.Unlock()
			return true
		}
	}
	ch := make(chan struct{})
	m.waiters[threadID] = append(m.waiters[threadID], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		m.dropWaiter(threadID, ch)
		return false
	}
}

func (m *ConnManager) dropWaiter(threadID string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.waiters[threadID]
	for i, w := range waiters {
		if w == ch {
			m.waiters[threadID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(m.waiters[threadID]) == 0 {
		delete(m.waiters, threadID)
	}
}

// ClientCount returns the number of connected sockets.
func (m *ConnManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
