package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const readBufferSize = 32 * 1024

// Read drives a Decoder over r until EOF, calling onEvent for each event in
// arrival order. A trailing event without its blank-line terminator is still
// delivered. The context is checked between chunks; cancelling the request that
// produced r is what unblocks a pending read.
func Read(ctx context.Context, r io.Reader, onEvent func(data string)) error {
	dec := NewDecoder(onEvent)
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			dec.Flush()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}
	}
}
