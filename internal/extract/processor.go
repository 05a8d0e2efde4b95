package extract

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lhdbsbz/analystdesk/internal/store"
)

// Extractor converts a document to markdown.
type Extractor interface {
	Extract(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Processor attaches files to a conversation's drafts, extracting their
// content in the background. Until extraction finishes the attachment stays
// in processing state and is left out of submitted turns.
type Processor struct {
	Extractor Extractor
	Store     *store.Store
	// SoftTimeout only produces a warning; extraction is never aborted by it.
	SoftTimeout time.Duration
}

// Attach registers a processing attachment for filename and starts the
// extraction. It returns the attachment id and a channel closed once the
// attachment is ready or failed.
func (p *Processor) Attach(ctx context.Context, filename string, r io.Reader) (string, <-chan struct{}) {
	id := p.Store.AddAttachment(store.Attachment{
		Kind:   store.KindFile,
		Title:  filename,
		Status: store.StatusProcessing,
	})
	done := make(chan struct{})

	go func() {
		defer close(done)
		if p.SoftTimeout > 0 {
			slow := time.AfterFunc(p.SoftTimeout, func() {
				slog.Warn("attachment extraction still running", "file", filename, "after", p.SoftTimeout)
			})
			defer slow.Stop()
		}

		start := time.Now()
		content, err := p.Extractor.Extract(ctx, filename, r)
		if err != nil {
			slog.Warn("attachment extraction failed", "file", filename, "error", err)
			p.Store.FailAttachment(id, err)
			return
		}
		p.Store.CompleteAttachment(id, content)
		slog.Debug("attachment extracted", "file", filename, "chars", len(content), "took", time.Since(start))
	}()

	return id, done
}
