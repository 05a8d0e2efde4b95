package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lhdbsbz/analystdesk/internal/store"
)

// TranscriptEntry is a single line in the JSONL transcript file.
type TranscriptEntry struct {
	Type      string          `json:"type"` // "message" | "structured_data"
	Timestamp time.Time       `json:"timestamp"`
	Message   *store.Message  `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Transcript manages an append-only JSONL record of one conversation.
// Only sealed messages are written; a message still streaming is not.
type Transcript struct {
	path string
}

func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

func (t *Transcript) Path() string { return t.path }

// Append writes a sealed message to the transcript file.
func (t *Transcript) Append(msg store.Message) error {
	return t.appendEntry(TranscriptEntry{
		Type:      "message",
		Timestamp: time.Now(),
		Message:   &msg,
	})
}

// AppendStructuredData records a side-channel payload.
func (t *Transcript) AppendStructuredData(data json.RawMessage) error {
	return t.appendEntry(TranscriptEntry{
		Type:      "structured_data",
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (t *Transcript) appendEntry(entry TranscriptEntry) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	_, err = f.Write(data)
	return err
}

// Load reads every entry of the transcript, skipping malformed lines.
func (t *Transcript) Load() ([]TranscriptEntry, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Restore replays the transcript into st.
func (t *Transcript) Restore(st *store.Store) error {
	entries, err := t.Load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Type {
		case "message":
			if e.Message == nil {
				continue
			}
			if e.Message.Role == store.RoleUser {
				st.AddUserMessage(e.Message.Content)
			} else {
				st.AddAssistantMessage(e.Message.Content)
			}
		case "structured_data":
			st.AddStructuredData(e.Data)
		}
	}
	return nil
}
