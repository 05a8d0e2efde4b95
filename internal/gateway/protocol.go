package gateway

import (
	"encoding/json"

	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// Step is one workflow event, rendered either as an SSE data payload or as
// a socket envelope depending on the transport the turn arrived on.
type Step struct {
	Type string // stream.Type* discriminator
	Node string // producing workflow node; tokens only
	Text string // token text, or the error message
	Data any    // update, structured_data and output payloads
}

// ssePayload is the JSON object carried by one SSE data field.
type ssePayload struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Message  string          `json:"message,omitempty"`
	Metadata *sseMetadata    `json:"metadata,omitempty"`
	Data     any             `json:"data,omitempty"`
	Messages json.RawMessage `json:"messages,omitempty"`
}

type sseMetadata struct {
	Node string `json:"langgraph_node"`
}

// SSEPayload renders the step as the data field of an SSE event.
func (s Step) SSEPayload() ([]byte, error) {
	p := ssePayload{Type: s.Type}
	switch s.Type {
	case stream.TypeToken:
		p.Content = s.Text
		if s.Node != "" {
			p.Metadata = &sseMetadata{Node: s.Node}
		}
	case stream.TypeError:
		p.Message = s.Text
	case stream.TypeOutput:
		if out, ok := s.Data.(outputData); ok {
			raw, err := json.Marshal(out.Messages)
			if err != nil {
				return nil, err
			}
			p.Messages = raw
		}
	default:
		p.Data = s.Data
	}
	return json.Marshal(p)
}

// Envelope renders the step as a socket message.
func (s Step) Envelope() stream.Envelope {
	switch s.Type {
	case stream.TypeToken, stream.TypeError:
		return stream.NewEnvelope(s.Type, s.Node, s.Text)
	default:
		return stream.NewEnvelope(s.Type, s.Node, s.Data)
	}
}

type outputData struct {
	Messages []outputMessage `json:"messages"`
}

type outputMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []any  `json:"tool_calls"`
}

type ackResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type extractResponse struct {
	MarkdownContent string `json:"markdown_content"`
}
