package stream

import (
	"encoding/json"
	"fmt"
)

// Envelope is one socket message.
type Envelope struct {
	MessageType string          `json:"message_type"`
	NodeName    string          `json:"node_name,omitempty"`
	IsHistory   bool            `json:"is_history,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a socket message.
func DecodeEnvelope(msg []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.MessageType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing message_type")
	}
	return env, nil
}

// NewEnvelope builds an envelope, marshaling data unless it is already raw JSON.
func NewEnvelope(messageType, node string, data any) Envelope {
	env := Envelope{MessageType: messageType, NodeName: node}
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		env.Data = v
	default:
		env.Data, _ = json.Marshal(v)
	}
	return env
}
