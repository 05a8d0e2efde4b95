package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lhdbsbz/analystdesk/internal/sse"
	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// Client initiates turns against the workflow backend.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	StreamPath string // SSE variant: the response body carries the events
	SendPath   string // socket variant: the response is only an acknowledgement
	Token      string
	Classifier stream.Classifier
}

// Ack is the acknowledgement of a scheduled turn.
type Ack struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// TransportError reports a turn that could not be started: the request failed,
// the status was not 2xx, or the response had no body.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

// ErrNoBody is the cause of a TransportError for a stream response without a body.
var ErrNoBody = errors.New("response has no body")

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("turn request failed (status %d): %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("turn request failed: %v", e.Err)
	default:
		return fmt.Sprintf("turn request failed (status %d): %s", e.StatusCode, e.Body)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Submit posts the turn and returns the backend's acknowledgement. The
// answer is delivered separately over the conversation socket.
func (c *Client) Submit(ctx context.Context, t OutboundTurn) (*Ack, error) {
	resp, err := c.post(ctx, c.SendPath, t, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ack := &Ack{ThreadID: t.ThreadID}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read ack: %w", err)}
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, ack); err != nil {
			slog.Debug("turn ack is not JSON", "thread", t.ThreadID, "error", err)
		}
	}
	return ack, nil
}

// Stream posts the turn and consumes the response as an event stream until
// it ends, routing every event to sink. Transport failures are returned
// before any event is delivered; there is no retry.
func (c *Client) Stream(ctx context.Context, t OutboundTurn, sink stream.Sink) error {
	resp, err := c.post(ctx, c.StreamPath, t, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.Body == http.NoBody {
		return &TransportError{StatusCode: resp.StatusCode, Err: ErrNoBody}
	}

	return sse.Read(ctx, resp.Body, func(data string) {
		stream.Route(c.Classifier.Classify(data), sink)
	})
}

func (c *Client) post(ctx context.Context, path string, t OutboundTurn, accept string) (*http.Response, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}
	slog.Debug("turn started", "thread", t.ThreadID, "path", path, "status", resp.StatusCode)
	return resp, nil
}
