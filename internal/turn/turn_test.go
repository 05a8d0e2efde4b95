package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhdbsbz/analystdesk/internal/store"
	"github.com/lhdbsbz/analystdesk/internal/stream"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestBuild_NoAttachmentsOmitsDocuments(t *testing.T) {
	turn, used := Build("thread-1", "hello", nil, Options{})
	require.Empty(t, used)

	raw, err := json.Marshal(turn)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "hello", body["message"])
	assert.Equal(t, "thread-1", body["thread_id"])
	assert.Equal(t, false, body["enable_websearch"])
	_, present := body["documents"]
	assert.False(t, present)
}

func TestBuild_ExcludesProcessingAttachments(t *testing.T) {
	atts := []store.Attachment{
		{ID: "a", Kind: store.KindFile, Title: "Q3 Report.PDF", Content: "# Q3", Status: store.StatusReady},
		{ID: "b", Kind: store.KindFile, Title: "slow.docx", Status: store.StatusProcessing},
		{ID: "c", Kind: store.KindNote, Title: "memo", Content: "note body", Status: store.StatusReady},
		{ID: "d", Kind: store.KindFile, Title: "broken.xlsx", Status: store.StatusFailed},
		{ID: "e", Kind: store.KindCompanyList, Title: "peers", Content: "| ACME |", Status: store.StatusReady},
		{ID: "f", Kind: store.KindFile, Title: "README", Content: "plain", Status: store.StatusReady},
	}
	turn, used := Build("t", "summarize", atts, Options{Websearch: true, Retrieval: true})
	require.Equal(t, []string{"a", "c", "e", "f"}, used)
	require.Equal(t, []Document{
		{Filename: "Q3 Report.PDF", Format: "pdf", MarkdownContent: "# Q3"},
		{Filename: "memo", Format: "note", MarkdownContent: "note body"},
		{Filename: "peers", Format: "company-list", MarkdownContent: "| ACME |"},
		{Filename: "README", Format: "txt", MarkdownContent: "plain"},
	}, turn.Documents)
	assert.True(t, turn.EnableWebsearch)
	assert.True(t, turn.EnableRetrieval)
}

func TestClient_StreamRoutesEvents(t *testing.T) {
	var got OutboundTurn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n")
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "data: {\"type\":\"structured_data\",\"data\":{\"companies\":[\"ACME\"]}}\n\n")
		fmt.Fprint(w, "data: not-json\n\ndata: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"lo\"}")
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, StreamPath: "/api/chat/stream", Token: "secret"}
	var tokens []string
	var structured []json.RawMessage
	err := c.Stream(context.Background(), OutboundTurn{ThreadID: "t1", Message: "hi"}, stream.Sink{
		OnToken:          func(s string) { tokens = append(tokens, s) },
		OnStructuredData: func(d json.RawMessage) { structured = append(structured, d) },
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, []string{"Hel", "not-json", "lo"}, tokens)
	require.Len(t, structured, 1)
	assert.JSONEq(t, `{"companies":["ACME"]}`, string(structured[0]))
}

func TestClient_StreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, StreamPath: "/s"}
	called := false
	err := c.Stream(context.Background(), OutboundTurn{ThreadID: "t"}, stream.Sink{OnToken: func(string) { called = true }})
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "workflow unavailable", te.Body)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, called)
}

func TestClient_StreamEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := (&Client{BaseURL: srv.URL, StreamPath: "/s"}).Stream(context.Background(), OutboundTurn{}, stream.Sink{})
	require.ErrorIs(t, err, ErrNoBody)
}

func TestClient_RequestFailure(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	c := &Client{
		BaseURL:  "http://backend",
		SendPath: "/api/chat/send",
		HTTPClient: &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, boom
		})},
	}
	_, err := c.Submit(context.Background(), OutboundTurn{ThreadID: "t"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, boom)
}

func TestClient_SubmitAck(t *testing.T) {
	c := &Client{
		BaseURL:  "http://backend/",
		SendPath: "/api/chat/send",
		HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "http://backend/api/chat/send", req.URL.String())
			raw, _ := io.ReadAll(req.Body)
			require.JSONEq(t, `{"thread_id":"t9","message":"hi","enable_websearch":false,"enable_retrieval":true}`, string(raw))
			return &http.Response{
				StatusCode: http.StatusAccepted,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(strings.NewReader(`{"thread_id":"t9","status":"scheduled"}`)),
			}, nil
		})},
	}
	ack, err := c.Submit(context.Background(), OutboundTurn{ThreadID: "t9", Message: "hi", EnableRetrieval: true})
	require.NoError(t, err)
	assert.Equal(t, &Ack{ThreadID: "t9", Status: "scheduled"}, ack)
}
