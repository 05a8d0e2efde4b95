package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhdbsbz/analystdesk/internal/store"
)

func TestClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		raw, _ := io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"markdown_content": "# " + header.Filename + "\n\n" + string(raw),
		})
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL}
	md, err := c.Extract(context.Background(), "q3.txt", strings.NewReader("revenue up"))
	require.NoError(t, err)
	assert.Equal(t, "# q3.txt\n\nrevenue up", md)
}

func TestClient_ExtractStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	_, err := (&Client{URL: srv.URL}).Extract(context.Background(), "a.bin", strings.NewReader("x"))
	require.ErrorContains(t, err, "415")
	require.ErrorContains(t, err, "unsupported format")
}

type extractorFunc func(ctx context.Context, filename string, r io.Reader) (string, error)

func (f extractorFunc) Extract(ctx context.Context, filename string, r io.Reader) (string, error) {
	return f(ctx, filename, r)
}

func TestProcessor_AttachLifecycle(t *testing.T) {
	s := store.New("c")
	release := make(chan struct{})
	p := &Processor{
		Store:       s,
		SoftTimeout: time.Millisecond,
		Extractor: extractorFunc(func(ctx context.Context, filename string, r io.Reader) (string, error) {
			<-release
			return "extracted " + filename, nil
		}),
	}

	id, done := p.Attach(context.Background(), "deck.pdf", strings.NewReader("bytes"))
	atts := s.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, store.StatusProcessing, atts[0].Status)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, store.StatusProcessing, s.Attachments()[0].Status, "soft timeout must not abort")

	close(release)
	<-done
	atts = s.Attachments()
	assert.Equal(t, id, atts[0].ID)
	assert.Equal(t, store.StatusReady, atts[0].Status)
	assert.Equal(t, "extracted deck.pdf", atts[0].Content)
}

func TestProcessor_AttachFailure(t *testing.T) {
	s := store.New("c")
	p := &Processor{
		Store: s,
		Extractor: extractorFunc(func(context.Context, string, io.Reader) (string, error) {
			return "", errors.New("converter down")
		}),
	}
	_, done := p.Attach(context.Background(), "deck.pdf", strings.NewReader(""))
	<-done
	atts := s.Attachments()
	assert.Equal(t, store.StatusFailed, atts[0].Status)
	assert.Equal(t, "converter down", atts[0].Error)
}
