package stream

import (
	"bytes"
	"encoding/json"
)

// Mode selects how token events from parallel workflow branches are treated.
type Mode string

const (
	// ModeChat keeps only tokens produced by the primary workflow node.
	ModeChat Mode = "chat"
	// ModeResearch keeps tokens from every node.
	ModeResearch Mode = "research"
)

// DefaultPrimaryNode is the workflow node whose tokens form the chat answer.
const DefaultPrimaryNode = "agent"

// Error prefixes appended to the answer when the workflow reports a failure.
const (
	StreamErrorPrefix = "\n[error] "
	SocketErrorPrefix = "\n[错误] "
)

// fallbackTextFields is the priority order used to find text in events
// whose type carries no dedicated rule.
var fallbackTextFields = []string{"delta", "content", "token", "text"}

// Classifier decodes event payloads into Events. The zero value behaves as
// ModeChat with DefaultPrimaryNode.
type Classifier struct {
	Mode        Mode
	PrimaryNode string
}

func (c Classifier) primaryNode() string {
	if c.PrimaryNode == "" {
		return DefaultPrimaryNode
	}
	return c.PrimaryNode
}

func (c Classifier) filtersNode(node string) bool {
	mode := c.Mode
	if mode == "" {
		mode = ModeChat
	}
	return mode == ModeChat && node != "" && node != c.primaryNode()
}

// Classify decodes the data string of one SSE event. Data that does not parse
// as JSON is treated as plain text so producers that stream raw text still
// work. Valid JSON that is not an object carries no type and no text fields.
func (c Classifier) Classify(data string) Event {
	if !json.Valid([]byte(data)) {
		return Event{Kind: KindToken, Text: data}
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload == nil {
		return Event{Kind: KindUnknown}
	}

	typ, _ := field(payload, "type")
	ev := Event{Kind: kindOf(typ), Type: typ}

	switch ev.Kind {
	case KindStructuredData:
		ev.Data = payload["data"]
	case KindToken:
		ev.Node = metadataNode(payload["metadata"])
		if c.filtersNode(ev.Node) {
			ev.Suppressed = true
			return ev
		}
		if text, ok := field(payload, "content"); ok {
			ev.Text = text
		} else {
			ev.Text = data
		}
	case KindError:
		ev.Message, _ = field(payload, "message")
		ev.Text = StreamErrorPrefix + ev.Message
	case KindUpdate:
	default:
		if ev.Kind == KindOutput {
			ev.Messages = embeddedMessages(payload)
		}
		ev.Text = fallbackText(payload)
	}
	return ev
}

// FromEnvelope classifies an already decoded socket envelope.
func (c Classifier) FromEnvelope(env Envelope) Event {
	ev := Event{
		Kind:    kindOf(env.MessageType),
		Type:    env.MessageType,
		Node:    env.NodeName,
		History: env.IsHistory,
		Data:    env.Data,
	}
	obj := asObject(env.Data)

	switch ev.Kind {
	case KindToken:
		if c.filtersNode(ev.Node) {
			ev.Suppressed = true
			return ev
		}
		if s, ok := asString(env.Data); ok {
			ev.Text = s
		} else if text, ok := field(obj, "content"); ok {
			ev.Text = text
		} else {
			ev.Text, _ = field(obj, "token")
		}
	case KindError:
		ev.Message = stringify(env.Data)
		ev.Text = SocketErrorPrefix + ev.Message
	case KindStructuredData, KindUpdate, KindComplete:
	default:
		if ev.Kind == KindOutput {
			ev.Messages = embeddedMessages(obj)
		}
		ev.Text = fallbackText(obj)
	}
	return ev
}

// field returns the value of key as text. Strings are unquoted, other JSON
// values are returned verbatim. Missing keys and null count as absent.
func field(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", false
	}
	if s, ok := asString(raw); ok {
		return s, true
	}
	return string(bytes.TrimSpace(raw)), true
}

func fallbackText(obj map[string]json.RawMessage) string {
	for _, key := range fallbackTextFields {
		if text, ok := field(obj, key); ok {
			return text
		}
	}
	return ""
}

func embeddedMessages(obj map[string]json.RawMessage) []ChatMessage {
	raw, ok := obj["messages"]
	if !ok {
		raw = asObject(obj["data"])["messages"]
	}
	if isNull(raw) {
		return nil
	}
	var msgs []ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

func metadataNode(raw json.RawMessage) string {
	node, _ := field(asObject(raw), "langgraph_node")
	return node
}

func asObject(raw json.RawMessage) map[string]json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func stringify(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	if s, ok := asString(raw); ok {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
