package turn

import (
	"path/filepath"
	"strings"

	"github.com/lhdbsbz/analystdesk/internal/store"
)

// OutboundTurn is the request body of one submission.
type OutboundTurn struct {
	ThreadID        string     `json:"thread_id"`
	Message         string     `json:"message"`
	EnableWebsearch bool       `json:"enable_websearch"`
	EnableRetrieval bool       `json:"enable_retrieval"`
	Documents       []Document `json:"documents,omitempty"`
}

// Document is a pre-extracted attachment sent with the turn.
type Document struct {
	Filename        string `json:"filename"`
	Format          string `json:"format"`
	MarkdownContent string `json:"markdown_content"`
}

// Options are the per-submission switches.
type Options struct {
	Websearch bool
	Retrieval bool
}

// Build assembles a turn. Attachments whose extraction has not finished, or
// that carry no content, are left out; the ids of the attachments included
// are returned so the caller can clear them from the drafts.
func Build(threadID, text string, attachments []store.Attachment, opts Options) (OutboundTurn, []string) {
	t := OutboundTurn{
		ThreadID:        threadID,
		Message:         text,
		EnableWebsearch: opts.Websearch,
		EnableRetrieval: opts.Retrieval,
	}
	var used []string
	for _, a := range attachments {
		if a.Status != store.StatusReady || a.Content == "" {
			continue
		}
		t.Documents = append(t.Documents, Document{
			Filename:        a.Title,
			Format:          documentFormat(a),
			MarkdownContent: a.Content,
		})
		used = append(used, a.ID)
	}
	return t, used
}

func documentFormat(a store.Attachment) string {
	switch a.Kind {
	case store.KindNote:
		return "note"
	case store.KindCompanyList:
		return "company-list"
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(a.Title)), "."); ext != "" {
		return ext
	}
	return "txt"
}
