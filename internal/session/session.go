package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/lhdbsbz/analystdesk/internal/config"
	"github.com/lhdbsbz/analystdesk/internal/socket"
	"github.com/lhdbsbz/analystdesk/internal/store"
	"github.com/lhdbsbz/analystdesk/internal/stream"
	"github.com/lhdbsbz/analystdesk/internal/turn"
)

// ErrTurnInProgress is returned by Send while the conversation is still
// receiving the answer to a previous turn.
var ErrTurnInProgress = errors.New("session: a turn is already in progress")

// ErrorPrefix starts the synthetic assistant line recorded when a turn
// cannot be delivered.
const ErrorPrefix = "[error] "

// Options configures a Session.
type Options struct {
	Registry *Registry
	Client   *turn.Client
	// Transport is config.TransportSSE or config.TransportWS.
	Transport string
	// SocketURL is the socket base URL, used with the ws transport.
	SocketURL string
	Header    http.Header
}

// Session binds the conversation stores to one transport. It tracks the
// active conversation and at most one turn in flight per conversation.
type Session struct {
	registry  *Registry
	client    *turn.Client
	transport string
	sockets   *socket.Manager

	mu     sync.Mutex
	active string
	turns  map[string]*Turn
}

// New creates a session.
func New(opts Options) *Session {
	s := &Session{
		registry:  opts.Registry,
		client:    opts.Client,
		transport: opts.Transport,
		turns:     make(map[string]*Turn),
	}
	if s.registry == nil {
		s.registry = NewRegistry("")
	}
	if s.transport == config.TransportWS {
		s.sockets = &socket.Manager{
			BaseURL:    opts.SocketURL,
			Header:     opts.Header,
			Classifier: opts.Client.Classifier,
			HooksFor:   s.hooksFor,
		}
	}
	return s
}

// Turn is one submitted message awaiting its answer.
type Turn struct {
	ConversationID string

	once sync.Once
	done chan struct{}
}

// Done is closed once the answer is complete, failed or the transport closed.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn is done or ctx ends.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Turn) finish() { t.once.Do(func() { close(t.done) }) }

// Registry returns the conversation list.
func (s *Session) Registry() *Registry { return s.registry }

// Active returns the active conversation id, or "" before the first send.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Store returns the store of the active conversation, or nil.
func (s *Session) Store() *store.Store {
	id := s.Active()
	if id == "" {
		return nil
	}
	return s.registry.GetOrCreate(id)
}

// NewConversation makes the next Send start a fresh conversation.
func (s *Session) NewConversation() {
	s.Switch("")
}

// Switch changes the active conversation. A socket held for another
// conversation is closed.
func (s *Session) Switch(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	if s.sockets == nil {
		return
	}
	if r := s.sockets.Active(); r != nil && r.ConversationID != id {
		if err := s.sockets.Close(); err != nil {
			slog.Debug("close conversation socket", "conversation", r.ConversationID, "error", err)
		}
	}
}

// Send submits text with the ready draft attachments of the active
// conversation, creating the conversation on first use. Over SSE the
// returned turn is already done; over WS the answer arrives on the socket.
// Delivery failures are recorded as an assistant error line and returned.
func (s *Session) Send(ctx context.Context, text string, opts turn.Options) (*Turn, error) {
	id := s.ensureConversation()
	st := s.registry.GetOrCreate(id)
	t, err := s.begin(id)
	if err != nil {
		return nil, err
	}

	st.AddUserMessage(text)
	out, used := turn.Build(id, text, st.Attachments(), opts)
	st.ClearAttachments(used...)

	ws := s.transport == config.TransportWS
	if ws {
		err = s.submit(ctx, out)
	} else {
		err = s.stream(ctx, st, out)
	}
	if err != nil {
		slog.Warn("turn failed", "conversation", id, "transport", s.transport, "error", err)
		st.AddAssistantMessage(ErrorPrefix + err.Error())
		s.end(id)
		return nil, err
	}
	if !ws {
		s.end(id)
	}
	return t, nil
}

// Close closes the conversation socket, if any.
func (s *Session) Close() error {
	if s.sockets == nil {
		return nil
	}
	return s.sockets.Close()
}

func (s *Session) ensureConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		s.active = uuid.NewString()
	}
	return s.active
}

func (s *Session) begin(id string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.turns[id]; busy {
		return nil, ErrTurnInProgress
	}
	t := &Turn{ConversationID: id, done: make(chan struct{})}
	s.turns[id] = t
	return t, nil
}

func (s *Session) end(id string) {
	s.mu.Lock()
	t := s.turns[id]
	delete(s.turns, id)
	s.mu.Unlock()
	if t != nil {
		t.finish()
	}
}

func (s *Session) stream(ctx context.Context, st *store.Store, out turn.OutboundTurn) error {
	var current string
	ensure := func() string {
		if current == "" {
			current = st.StartAssistantMessage()
		}
		return current
	}
	seal := func() {
		if current != "" {
			st.SealAssistantMessage(current)
			current = ""
		}
	}

	err := s.client.Stream(ctx, out, stream.Sink{
		OnToken:          func(text string) { st.AppendAssistantMessage(ensure(), text) },
		OnFinal:          func(text string) { st.UpdateAssistantMessage(ensure(), text) },
		OnStructuredData: st.AddStructuredData,
		OnTerminal:       func(stream.Kind) { seal() },
	})
	seal()
	return err
}

func (s *Session) submit(ctx context.Context, out turn.OutboundTurn) error {
	if _, err := s.sockets.Open(ctx, out.ThreadID); err != nil {
		return err
	}
	ack, err := s.client.Submit(ctx, out)
	if err != nil {
		return err
	}
	slog.Debug("turn acknowledged", "conversation", ack.ThreadID, "status", ack.Status)
	return nil
}

func (s *Session) hooksFor(id string) socket.Hooks {
	st := s.registry.GetOrCreate(id)
	d := &socket.Dispatcher{
		Acc:              st,
		OnStructuredData: st.AddStructuredData,
		OnTurnEnd:        func(stream.Kind) { s.end(id) },
	}
	return socket.Hooks{
		OnMessage: d.Handle,
		OnError: func(err error) {
			slog.Warn("conversation socket error", "conversation", id, "error", err)
		},
		OnClose: func(code int, reason string) {
			if cur := d.Current(); cur != "" {
				st.SealAssistantMessage(cur)
			}
			d.Reset()
			s.end(id)
			slog.Debug("conversation socket closed", "conversation", id, "code", code, "reason", reason)
		},
	}
}
