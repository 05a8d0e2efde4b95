package sse

import (
	"bytes"
	"strings"
)

// DoneSentinel is the payload some producers send to mark the end of a stream.
const DoneSentinel = "[DONE]"

// Decoder turns an incrementally delivered byte stream into complete
// Server-Sent-Event data payloads.
//
// Only "data:" lines are kept; "id:", "event:", "retry:" and comment lines are
// dropped. Splitting on '\n' at the byte level is UTF-8 safe: the newline byte
// never appears inside a multi-byte sequence, so a chunk ending mid-rune is
// simply completed by the next Feed.
type Decoder struct {
	emit      func(data string)
	line      []byte
	dataLines []string
}

// NewDecoder returns a Decoder that calls emit once per complete event.
// Empty payloads and the [DONE] sentinel are never emitted.
func NewDecoder(emit func(data string)) *Decoder {
	return &Decoder{emit: emit}
}

// Feed consumes the next chunk of the stream.
func (d *Decoder) Feed(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.line = append(d.line, chunk...)
			return
		}
		d.line = append(d.line, chunk[:i]...)
		chunk = chunk[i+1:]
		d.processLine(string(d.line))
		d.line = d.line[:0]
	}
}

// Flush handles the end of the stream. A pending unterminated line and any
// collected data lines are emitted as a final event.
func (d *Decoder) Flush() {
	if len(d.line) > 0 {
		d.processLine(string(d.line))
		d.line = d.line[:0]
	}
	d.dispatch()
}

func (d *Decoder) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		d.dispatch()
		return
	}
	if after, ok := strings.CutPrefix(line, "data:"); ok {
		d.dataLines = append(d.dataLines, strings.TrimPrefix(after, " "))
	}
}

func (d *Decoder) dispatch() {
	if len(d.dataLines) == 0 {
		return
	}
	data := strings.Join(d.dataLines, "\n")
	d.dataLines = nil
	if data == "" || data == DoneSentinel {
		return
	}
	d.emit(data)
}
