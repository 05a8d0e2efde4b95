package preview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the document preview SDK at most once per process.
// Concurrent callers share a single in-flight request; a failed fetch is
// not remembered, so the next Load retries.
type Loader struct {
	URL        string
	HTTPClient *http.Client

	group singleflight.Group
	mu    sync.Mutex
	sdk   []byte
}

// Load returns the SDK source, fetching it on first use.
func (l *Loader) Load(ctx context.Context) ([]byte, error) {
	if sdk := l.cached(); sdk != nil {
		return sdk, nil
	}
	ch := l.group.DoChan("sdk", func() (any, error) {
		if sdk := l.cached(); sdk != nil {
			return sdk, nil
		}
		// Detached from the caller so one cancelled caller does not fail the others.
		sdk, err := l.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.sdk = sdk
		l.mu.Unlock()
		slog.Debug("preview sdk loaded", "url", l.URL, "bytes", len(sdk))
		return sdk, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Loaded reports whether the SDK has been fetched successfully.
func (l *Loader) Loaded() bool { return l.cached() != nil }

func (l *Loader) cached() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sdk
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load preview sdk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load preview sdk: status %d", resp.StatusCode)
	}
	sdk, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read preview sdk: %w", err)
	}
	return sdk, nil
}
