// Package framer turns a continuous byte stream into newline-terminated text lines.
package framer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the number of bytes requested from the source per read.
	DefaultChunkSize = 1024
	// DefaultMaxLineLength bounds the bytes buffered while waiting for a terminator.
	DefaultMaxLineLength = 4096
)

// ErrFraming is returned when the bytes delimited by a line terminator are not valid UTF-8.
var ErrFraming = errors.New("framing error")

// Framer buffers bytes read from a source and hands them out one complete line at a time.
//
// A line is only emitted once its '\n' terminator has been observed. Bytes left in the
// buffer when the source reports io.EOF are dropped: a partial final line is never emitted.
// A line longer than the maximum length is discarded up to its terminator and reported once
// as a framing error.
// A Framer is not safe for concurrent use and cannot be restarted once the source is exhausted.
type Framer struct {
	src     io.Reader
	chunk   []byte
	pending []byte
	maxLine int
	// discarding is set while skipping the rest of an overlong line
	discarding bool
	dropped    int
	err        error
}

// New creates a Framer reading from src with the default chunk size.
func New(src io.Reader) *Framer {
	return NewSize(src, DefaultChunkSize)
}

// NewSize creates a Framer reading at most size bytes per call to src.Read.
func NewSize(src io.Reader, size int) *Framer {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Framer{
		src:     src,
		chunk:   make([]byte, size),
		maxLine: DefaultMaxLineLength,
	}
}

// SetMaxLineLength changes the longest line accepted, excluding its terminator. Zero or a
// negative n removes the limit.
func (f *Framer) SetMaxLineLength(n int) {
	if n < 0 {
		n = 0
	}
	f.maxLine = n
}

// Next blocks until a complete line is available and returns it without its terminator.
//
// It returns io.EOF once the source is exhausted. A line that is not valid UTF-8 or is longer
// than the maximum length yields an error wrapping ErrFraming; the offending bytes are
// consumed so the following call resumes with the next line.
func (f *Framer) Next() (string, error) {
	for {
		if i := bytes.IndexByte(f.pending, '\n'); i >= 0 {
			line := f.pending[:i]
			f.pending = f.pending[i+1:]
			if f.discarding {
				f.discarding = false
				f.dropped += len(line)
				continue
			}
			if f.maxLine > 0 && len(line) > f.maxLine {
				f.dropped += len(line)
				return "", fmt.Errorf("%w: line of %d bytes exceeds %d", ErrFraming, len(line), f.maxLine)
			}
			if !utf8.Valid(line) {
				return "", fmt.Errorf("%w: line of %d bytes is not valid UTF-8", ErrFraming, len(line))
			}
			return string(line), nil
		}

		if f.maxLine > 0 && len(f.pending) > f.maxLine {
			f.dropped += len(f.pending)
			f.pending = f.pending[:0]
			if !f.discarding {
				f.discarding = true
				return "", fmt.Errorf("%w: line exceeds %d bytes", ErrFraming, f.maxLine)
			}
		}

		if f.err != nil {
			if errors.Is(f.err, io.EOF) && len(f.pending) > 0 {
				f.dropped += len(f.pending)
				f.pending = nil
			}
			return "", f.err
		}

		n, err := f.src.Read(f.chunk)
		if n > 0 {
			f.pending = append(f.pending, f.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				f.err = io.EOF
			} else {
				f.err = fmt.Errorf("read source: %w", err)
			}
		}
	}
}

// Buffered reports how many bytes are held waiting for a terminator.
func (f *Framer) Buffered() int {
	return len(f.pending)
}

// Dropped reports how many bytes were discarded without being emitted: overlong lines and a
// tail the source ended before terminating.
func (f *Framer) Dropped() int {
	return f.dropped
}
