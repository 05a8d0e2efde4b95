package socket

import (
	"context"
	"net/http"
	"sync"

	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// Manager keeps at most one open socket: the one of the active conversation.
// Opening a different conversation closes the previous socket first.
type Manager struct {
	BaseURL    string
	Header     http.Header
	Classifier stream.Classifier
	// HooksFor builds the lifecycle hooks of a conversation's socket.
	HooksFor func(conversationID string) Hooks

	mu     sync.Mutex
	active *Reader
}

// Open ensures the socket of conversationID is open and returns it.
func (m *Manager) Open(ctx context.Context, conversationID string) (*Reader, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.ConversationID == conversationID && !isDone(m.active) {
			return m.active, nil
		}
		m.active.Close()
		m.active = nil
	}

	var hooks Hooks
	if m.HooksFor != nil {
		hooks = m.HooksFor(conversationID)
	}
	r, err := Dial(ctx, m.BaseURL, conversationID, m.Classifier, hooks, m.Header)
	if err != nil {
		return nil, err
	}
	m.active = r
	return r, nil
}

// Active returns the open socket, if any.
func (m *Manager) Active() *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close closes the active socket.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	m.active = nil
	return err
}

func isDone(r *Reader) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}
