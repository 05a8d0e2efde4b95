package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lhdbsbz/analystdesk/internal/store"
)

const titleRunes = 40

// Entry holds metadata for a single conversation.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  int       `json:"messages"`
}

// Registry is the conversation list. Each conversation owns one store.
// With a base directory, metadata and sealed messages are persisted and a
// conversation's store is restored from its transcript on first use.
type Registry struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex // serializes writers of meta.json and its temp file
	baseDir string
	entries map[string]*Entry // conversation id → entry
	stores  map[string]*store.Store
}

// NewRegistry creates a registry. An empty baseDir keeps everything in memory.
func NewRegistry(baseDir string) *Registry {
	return &Registry{
		baseDir: baseDir,
		entries: make(map[string]*Entry),
		stores:  make(map[string]*store.Store),
	}
}

// Load reads conversation metadata from disk.
func (r *Registry) Load() error {
	if r.baseDir == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read conversation list: %w", err)
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse conversation list: %w", err)
	}
	r.entries = entries
	return nil
}

// Save persists conversation metadata to disk (atomic write).
func (r *Registry) Save() error {
	if r.baseDir == "" {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	metaPath := r.metaPath()
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return err
	}

	r.mu.RLock()
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal conversation list: %w", err)
	}

	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write conversation list: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// Get returns the store of a known conversation, or nil.
func (r *Registry) Get(id string) *store.Store {
	r.mu.RLock()
	st, loaded := r.stores[id]
	_, known := r.entries[id]
	r.mu.RUnlock()
	if loaded {
		return st
	}
	if !known {
		return nil
	}
	return r.GetOrCreate(id)
}

// GetOrCreate returns the store of a conversation, creating the
// conversation if it does not exist yet.
func (r *Registry) GetOrCreate(id string) *store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[id]; ok {
		return st
	}
	if _, ok := r.entries[id]; !ok {
		now := time.Now()
		r.entries[id] = &Entry{ID: id, CreatedAt: now, UpdatedAt: now}
	}

	st := store.New(id)
	if r.baseDir != "" {
		tr := NewTranscript(r.TranscriptPath(id))
		if err := tr.Restore(st); err != nil {
			slog.Warn("restore conversation failed", "conversation", id, "error", err)
		}
		st.Subscribe(r.persister(id, tr))
	} else {
		st.Subscribe(r.persister(id, nil))
	}
	r.stores[id] = st
	return st
}

// persister keeps the entry metadata and transcript in step with the store.
func (r *Registry) persister(id string, tr *Transcript) func(store.Change) {
	return func(c store.Change) {
		switch c.Type {
		case store.ChangeMessageAdded, store.ChangeMessageSealed:
			if c.Message == nil || !c.Message.Sealed {
				return
			}
			r.touch(id, *c.Message)
			if tr != nil {
				if err := tr.Append(*c.Message); err != nil {
					slog.Warn("transcript append failed", "conversation", id, "error", err)
				}
			}
		case store.ChangeStructuredData:
			if tr != nil {
				if err := tr.AppendStructuredData(c.Structured); err != nil {
					slog.Warn("transcript append failed", "conversation", id, "error", err)
				}
			}
			return
		default:
			return
		}
		if err := r.Save(); err != nil {
			slog.Warn("save conversation list failed", "error", err)
		}
	}
}

func (r *Registry) touch(id string, msg store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.Messages++
	e.UpdatedAt = time.Now()
	if e.Title == "" && msg.Role == store.RoleUser {
		e.Title = title(msg.Content)
	}
}

// List returns all conversations, most recently updated first.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries
}

// Delete removes a conversation and its transcript.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	delete(r.entries, id)
	delete(r.stores, id)
	r.mu.Unlock()

	if r.baseDir == "" {
		return nil
	}
	if err := os.Remove(r.TranscriptPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return r.Save()
}

// TranscriptPath returns the file path for a conversation's transcript.
func (r *Registry) TranscriptPath(id string) string {
	return filepath.Join(r.baseDir, "conversations", safeFileName(id)+".jsonl")
}

func (r *Registry) metaPath() string {
	return filepath.Join(r.baseDir, "conversations", "meta.json")
}

func title(text string) string {
	runes := []rune(text)
	if len(runes) <= titleRunes {
		return text
	}
	return string(runes[:titleRunes]) + "…"
}

// safeFileName converts a conversation id to a safe filename.
func safeFileName(key string) string {
	safe := make([]byte, 0, len(key))
	for _, c := range []byte(key) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			safe = append(safe, c)
		} else {
			safe = append(safe, '_')
		}
	}
	return string(safe)
}
