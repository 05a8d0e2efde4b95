package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the visible conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Sealed    bool      `json:"sealed"`
}

// Accumulator owns the lifecycle of in-progress assistant messages.
// Stream consumers only mutate message text through it.
type Accumulator interface {
	StartAssistantMessage() string
	AppendAssistantMessage(id, delta string)
	UpdateAssistantMessage(id, text string)
	SealAssistantMessage(id string)
}

// ChangeType identifies what a Change describes.
type ChangeType string

const (
	ChangeMessageAdded      ChangeType = "message_added"
	ChangeMessageAppended   ChangeType = "message_appended"
	ChangeMessageReplaced   ChangeType = "message_replaced"
	ChangeMessageSealed     ChangeType = "message_sealed"
	ChangeStructuredData    ChangeType = "structured_data"
	ChangeAttachmentUpdated ChangeType = "attachment_updated"
	ChangeAttachmentRemoved ChangeType = "attachment_removed"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Type      ChangeType
	MessageID string
	// Delta is the appended text for ChangeMessageAppended.
	Delta string
	// Message is a snapshot of the message after the change.
	Message    *Message
	Attachment *Attachment
	Structured json.RawMessage
}

// Store holds the in-memory state of one conversation: its ordered message
// list, side-channel structured data and draft attachments. It is safe for
// concurrent use. Listeners run outside the state lock, one change at a time
// and in mutation order, so a listener must not mutate the store it watches.
type Store struct {
	notifyMu       sync.Mutex // held from mutation through notification
	mu             sync.Mutex
	conversationID string
	messages       []*Message
	byID           map[string]*Message
	structured     []json.RawMessage
	attachments    []*Attachment

	listenerMu sync.Mutex
	listeners  map[int]func(Change)
	nextListen int

	now func() time.Time
}

// New creates an empty store for a conversation.
func New(conversationID string) *Store {
	return &Store{
		conversationID: conversationID,
		byID:           make(map[string]*Message),
		listeners:      make(map[int]func(Change)),
		now:            time.Now,
	}
}

// ConversationID returns the conversation this store belongs to.
func (s *Store) ConversationID() string { return s.conversationID }

// Subscribe registers fn for every change. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(c Change) {
	s.listenerMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for i := 0; i < s.nextListen; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) add(role, content string, sealed bool) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
		Sealed:    sealed,
	}
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	return msg
}

// AddUserMessage appends a user message and returns its id.
func (s *Store) AddUserMessage(text string) string {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg := s.add(RoleUser, text, true)
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageAdded, MessageID: snap.ID, Message: &snap})
	return snap.ID
}

// AddAssistantMessage appends an already complete assistant message, such as
// a synthetic error line, and returns its id.
func (s *Store) AddAssistantMessage(text string) string {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg := s.add(RoleAssistant, text, true)
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageAdded, MessageID: snap.ID, Message: &snap})
	return snap.ID
}

// StartAssistantMessage creates an empty, in-progress assistant message.
// Calling it again before the previous message is sealed creates a second
// concurrent message; callers track which one is current.
func (s *Store) StartAssistantMessage() string {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg := s.add(RoleAssistant, "", false)
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageAdded, MessageID: snap.ID, Message: &snap})
	return snap.ID
}

// AppendAssistantMessage concatenates delta onto the message. Unknown ids,
// sealed messages and empty deltas leave the store unchanged.
func (s *Store) AppendAssistantMessage(id, delta string) {
	if delta == "" {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok || msg.Sealed {
		s.mu.Unlock()
		return
	}
	msg.Content += delta
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageAppended, MessageID: id, Delta: delta, Message: &snap})
}

// UpdateAssistantMessage replaces the message text, discarding previously
// accumulated deltas. Unknown ids and sealed messages are ignored.
func (s *Store) UpdateAssistantMessage(id, text string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok || msg.Sealed {
		s.mu.Unlock()
		return
	}
	msg.Content = text
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageReplaced, MessageID: id, Message: &snap})
}

// SealAssistantMessage marks the message complete; later appends and updates
// against it are ignored.
func (s *Store) SealAssistantMessage(id string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok || msg.Sealed {
		s.mu.Unlock()
		return
	}
	msg.Sealed = true
	snap := *msg
	s.mu.Unlock()
	s.notify(Change{Type: ChangeMessageSealed, MessageID: id, Message: &snap})
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Messages returns a snapshot of the conversation in display order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// AddStructuredData records an out-of-band payload delivered with the answer.
func (s *Store) AddStructuredData(data json.RawMessage) {
	cp := append(json.RawMessage(nil), data...)
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	s.structured = append(s.structured, cp)
	s.mu.Unlock()
	s.notify(Change{Type: ChangeStructuredData, Structured: cp})
}

// StructuredData returns the payloads received so far, oldest first.
func (s *Store) StructuredData() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.structured))
	copy(out, s.structured)
	return out
}
