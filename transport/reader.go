// Package transport moves UBX frames over a byte link. It finds frame boundaries in the incoming
// stream, recovers from malformed frames, and paces outgoing writes.
package transport

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by a Reader when no data arrived within the link's read timeout. It is
// not fatal; the caller may simply try again.
var ErrTimeout = errors.New("transport read timed out")

// Reader is a byte stream with read-ahead.
type Reader interface {
	// Peek returns the next n bytes without consuming them.
	Peek(n int) ([]byte, error)
	// Read consumes and returns the next n bytes.
	Read(n int) ([]byte, error)
	// Skip discards the next n bytes.
	Skip(n int) error
	// Flush discards everything buffered, including bytes the link holds but has not delivered.
	Flush() error
}

// inputResetter is implemented by serial ports that can drop their kernel input buffer.
type inputResetter interface {
	ResetInputBuffer() error
}

const readChunkSize = 512

// BufferedReader implements Reader over an io.Reader whose Read returns (0, nil) when its read
// timeout expires, as serial ports opened with a read timeout do.
type BufferedReader struct {
	mu  sync.Mutex
	src io.Reader
	buf []byte
	tmp []byte
}

// NewBufferedReader wraps src.
func NewBufferedReader(src io.Reader) *BufferedReader {
	return &BufferedReader{src: src, tmp: make([]byte, readChunkSize)}
}

// fill reads once from the source. It must be called with mu held.
func (br *BufferedReader) fill() error {
	n, err := br.src.Read(br.tmp)
	br.buf = append(br.buf, br.tmp[:n]...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTimeout
	}
	return nil
}

// ensure buffers at least n bytes. Bytes that did arrive stay buffered when it fails.
func (br *BufferedReader) ensure(n int) error {
	for len(br.buf) < n {
		if err := br.fill(); err != nil {
			return err
		}
	}
	return nil
}

// Peek returns the next n bytes without consuming them. The returned slice is only valid until
// the next call on br.
func (br *BufferedReader) Peek(n int) ([]byte, error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if err := br.ensure(n); err != nil {
		return nil, err
	}
	return br.buf[:n], nil
}

// Read consumes and returns the next n bytes.
func (br *BufferedReader) Read(n int) ([]byte, error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if err := br.ensure(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, br.buf)
	br.buf = br.buf[n:]
	return out, nil
}

// Skip discards the next n bytes.
func (br *BufferedReader) Skip(n int) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if err := br.ensure(n); err != nil {
		return err
	}
	br.buf = br.buf[n:]
	return nil
}

// Buffered returns the number of bytes read from the source but not yet consumed.
func (br *BufferedReader) Buffered() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.buf)
}

// Flush drops buffered bytes and, when the source supports it, its input buffer too.
func (br *BufferedReader) Flush() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.buf = nil
	if resetter, ok := br.src.(inputResetter); ok {
		return errors.Wrap(resetter.ResetInputBuffer(), "failed to reset input buffer")
	}
	return nil
}
