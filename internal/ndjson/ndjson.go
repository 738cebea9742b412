// Package ndjson reads newline-delimited JSON streams line by line.
package ndjson

import (
	"bufio"
	"bytes"
	"io"
)

// maxLineSize bounds a single line. Agent CLIs can emit large tool results
// in one line, so the limit is generous.
const maxLineSize = 16 * 1024 * 1024

// Reader yields one line at a time from an underlying stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a line reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// ReadLine returns the next non-empty line, or io.EOF when the stream ends.
// The returned slice is a copy and remains valid across calls.
func (r *Reader) ReadLine() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
