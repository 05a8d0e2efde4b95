package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// ErrNoConversation is returned when a socket is requested without a conversation id.
var ErrNoConversation = errors.New("socket: conversation id is required")

// Hooks are the connection lifecycle callbacks. They run on the reader
// goroutine, one at a time, in arrival order.
type Hooks struct {
	OnMessage func(stream.Event)
	OnError   func(error)
	// OnClose is called once when the connection ends, whichever side closed it.
	OnClose func(code int, reason string)
}

// Reader owns one socket scoped to a conversation.
type Reader struct {
	ConversationID string

	ws         *websocket.Conn
	classifier stream.Classifier
	hooks      Hooks

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Endpoint returns the socket URL of a conversation: base + "/" + id.
func Endpoint(base, conversationID string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(conversationID)
}

// Dial opens the socket for conversationID and starts reading. There is no
// automatic reconnection: when the connection drops, OnClose fires and the
// reader is finished.
func Dial(ctx context.Context, baseURL, conversationID string, classifier stream.Classifier, hooks Hooks, header http.Header) (*Reader, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	endpoint := Endpoint(baseURL, conversationID)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	r := &Reader{
		ConversationID: conversationID,
		ws:             ws,
		classifier:     classifier,
		hooks:          hooks,
		closing:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	slog.Debug("socket connected", "conversation", conversationID)
	go r.readLoop()
	return r, nil
}

// Done is closed after the read loop has exited and OnClose has run.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Close closes the socket. Safe to call more than once and from hooks.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = r.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if cerr := r.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

func (r *Reader) closedLocally() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

func (r *Reader) readLoop() {
	defer close(r.done)
	code, reason := websocket.CloseNormalClosure, ""
	defer func() {
		_ = r.ws.Close()
		slog.Debug("socket closed", "conversation", r.ConversationID, "code", code, "reason", reason)
		if r.hooks.OnClose != nil {
			r.hooks.OnClose(code, reason)
		}
	}()

	for {
		_, msg, err := r.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, ce.Text
			case r.closedLocally():
			default:
				code, reason = websocket.CloseAbnormalClosure, err.Error()
				if r.hooks.OnError != nil {
					r.hooks.OnError(err)
				}
			}
			return
		}

		env, err := stream.DecodeEnvelope(msg)
		if err != nil {
			slog.Warn("dropping malformed socket message", "conversation", r.ConversationID, "error", err)
			continue
		}
		if r.hooks.OnMessage != nil {
			r.hooks.OnMessage(r.classifier.FromEnvelope(env))
		}
	}
}
