// Package wire turns the raw byte stream into discrete envelopes and back.
// It owns framing and JSON encoding; routing decisions live elsewhere.
package wire

import (
	"bufio"
	"io"
	"strings"

	"chat-relay/errors"
)

// DefaultMaxLineBytes bounds memory held for a single unterminated line.
const DefaultMaxLineBytes = 64 * 1024

// Framer produces complete, newline-terminated lines from a byte stream,
// tolerating arbitrary chunk boundaries. Incomplete tails stay buffered
// until more data arrives or the stream ends. Blank lines are skipped.
type Framer struct {
	r       *bufio.Reader
	maxLine int
}

// NewFramer wraps r. maxLine caps a single line's byte length; zero or
// negative applies DefaultMaxLineBytes.
func NewFramer(r io.Reader, maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Framer{r: bufio.NewReader(r), maxLine: maxLine}
}

// Next blocks until a complete non-blank line is available and returns it
// with the terminator and surrounding whitespace stripped. It returns
// io.EOF once the stream is exhausted, or ErrLineTooLong when a single
// line exceeds the configured cap.
func (f *Framer) Next() (string, error) {
	for {
		line, err := f.readLine()
		trimmed := strings.TrimSpace(line)
		if err != nil {
			// A final unterminated tail still counts as a line.
			if err == io.EOF && trimmed != "" {
				return trimmed, nil
			}
			return "", err
		}
		if trimmed == "" {
			continue
		}
		return trimmed, nil
	}
}

// readLine accumulates until the delimiter, growing across the reader's
// internal buffer while enforcing the line cap.
func (f *Framer) readLine() (string, error) {
	var buf []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		// The cap bounds the content; the terminator does not count.
		n := len(buf)
		if n > 0 && buf[n-1] == '\n' {
			n--
			if n > 0 && buf[n-1] == '\r' {
				n--
			}
		}
		if n > f.maxLine {
			return "", errors.ErrLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(buf), err
	}
}
