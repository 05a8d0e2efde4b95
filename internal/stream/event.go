package stream

import (
	"bytes"
	"encoding/json"
)

// Kind is the discriminator of an inbound workflow event.
type Kind int

const (
	KindUnknown Kind = iota
	KindToken
	KindOutput
	KindStructuredData
	KindError
	KindComplete
	KindUpdate
)

// Wire names of the discriminator ("type" on SSE, "message_type" on sockets).
const (
	TypeToken          = "token"
	TypeOutput         = "output"
	TypeStructuredData = "structured_data"
	TypeError          = "error"
	TypeComplete       = "complete"
	TypeUpdate         = "update"
)

func kindOf(typ string) Kind {
	switch typ {
	case TypeToken:
		return KindToken
	case TypeOutput:
		return KindOutput
	case TypeStructuredData:
		return KindStructuredData
	case TypeError:
		return KindError
	case TypeComplete:
		return KindComplete
	case TypeUpdate:
		return KindUpdate
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindToken:
		return TypeToken
	case KindOutput:
		return TypeOutput
	case KindStructuredData:
		return TypeStructuredData
	case KindError:
		return TypeError
	case KindComplete:
		return TypeComplete
	case KindUpdate:
		return TypeUpdate
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends the turn.
func (k Kind) Terminal() bool { return k == KindError || k == KindComplete }

// Event is one decoded frame from either transport.
type Event struct {
	Kind Kind
	Type string // raw discriminator as received

	// Text is the renderable text of the event; empty means nothing to append.
	Text string
	// Suppressed is set when a token from a non-primary workflow node was filtered.
	Suppressed bool

	Node    string // originating workflow node, if tagged
	History bool   // replayed history (socket envelopes only)

	Data     json.RawMessage // structured_data payload, or the socket data field
	Messages []ChatMessage   // output: embedded conversation messages
	Message  string          // error: human-readable message
}

// ChatMessage is an entry of an output event's embedded conversation.
type ChatMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// Text returns the content when it is a JSON string.
func (m ChatMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return ""
	}
	return s
}

// HasToolCalls reports a pending tool invocation (non-null, non-empty tool_calls).
func (m ChatMessage) HasToolCalls() bool {
	raw := bytes.TrimSpace(m.ToolCalls)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	var calls []json.RawMessage
	if err := json.Unmarshal(raw, &calls); err == nil {
		return len(calls) > 0
	}
	return true
}

// FinalAnswer returns the authoritative answer body of an output event: the
// last embedded message when it is an assistant message without tool calls
// and with non-empty content.
func (e Event) FinalAnswer() (string, bool) {
	if e.Kind != KindOutput || len(e.Messages) == 0 {
		return "", false
	}
	last := e.Messages[len(e.Messages)-1]
	if last.Role != "assistant" || last.HasToolCalls() {
		return "", false
	}
	text := last.Text()
	if text == "" {
		return "", false
	}
	return text, true
}
