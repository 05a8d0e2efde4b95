package store

import "github.com/google/uuid"

// Attachment kinds
const (
	KindFile        = "file"
	KindNote        = "note"
	KindCompanyList = "company-list"
)

// AttachmentStatus tracks content extraction of a draft attachment.
type AttachmentStatus string

const (
	StatusProcessing AttachmentStatus = "processing"
	StatusReady      AttachmentStatus = "ready"
	StatusFailed     AttachmentStatus = "failed"
)

// Attachment is a draft reference queued for the next submission.
type Attachment struct {
	ID      string           `json:"id"`
	Kind    string           `json:"kind"`
	Title   string           `json:"title"`
	Content string           `json:"content,omitempty"`
	Status  AttachmentStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

// AddAttachment queues a draft attachment and returns its id. An empty
// status defaults to ready when content is present and processing otherwise.
func (s *Store) AddAttachment(a Attachment) string {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		if a.Content != "" {
			a.Status = StatusReady
		} else {
			a.Status = StatusProcessing
		}
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	stored := a
	s.attachments = append(s.attachments, &stored)
	snap := stored
	s.mu.Unlock()
	s.notify(Change{Type: ChangeAttachmentUpdated, Attachment: &snap})
	return a.ID
}

// CompleteAttachment stores extracted content and marks the attachment ready.
func (s *Store) CompleteAttachment(id, content string) {
	s.updateAttachment(id, func(a *Attachment) {
		a.Content = content
		a.Status = StatusReady
		a.Error = ""
	})
}

// FailAttachment marks extraction as failed.
func (s *Store) FailAttachment(id string, err error) {
	s.updateAttachment(id, func(a *Attachment) {
		a.Status = StatusFailed
		if err != nil {
			a.Error = err.Error()
		}
	})
}

func (s *Store) updateAttachment(id string, fn func(*Attachment)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	var snap *Attachment
	for _, a := range s.attachments {
		if a.ID == id {
			fn(a)
			cp := *a
			snap = &cp
			break
		}
	}
	s.mu.Unlock()
	if snap != nil {
		s.notify(Change{Type: ChangeAttachmentUpdated, Attachment: snap})
	}
}

// RemoveAttachment drops a draft attachment.
func (s *Store) RemoveAttachment(id string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	var removed *Attachment
	for i, a := range s.attachments {
		if a.ID == id {
			removed = a
			s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if removed != nil {
		s.notify(Change{Type: ChangeAttachmentRemoved, Attachment: removed})
	}
}

// Attachments returns a snapshot of the draft attachments.
func (s *Store) Attachments() []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attachment, len(s.attachments))
	for i, a := range s.attachments {
		out[i] = *a
	}
	return out
}

// ClearAttachments removes the given drafts, typically after they were submitted.
func (s *Store) ClearAttachments(ids ...string) {
	for _, id := range ids {
		s.RemoveAttachment(id)
	}
}
