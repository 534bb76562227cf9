// Package buffer provides the owned, growable byte sequence that layers use to
// hold partial frames between calls.
package buffer

import (
	"errors"
	"fmt"
)

var ErrLimitExceeded = errors.New("buffer: limit exceeded")

// Buffer is a growable byte sequence. A zero Buffer is empty, unlimited and
// ready to use. Len() == 0 implies the backing storage has been released.
type Buffer struct {
	data  []byte
	limit int
}

// New returns an empty buffer that refuses to grow past limit bytes.
// A limit <= 0 means unlimited.
func New(limit int) *Buffer {
	return &Buffer{limit: limit}
}

func (b *Buffer) Limit() int {
	return b.limit
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes. The slice aliases internal storage and is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Append copies p onto the end of the buffer. An empty p is a no-op.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if b.limit > 0 && len(b.data)+len(p) > b.limit {
		return fmt.Errorf("%w: have=%d add=%d limit=%d", ErrLimitExceeded, len(b.data), len(p), b.limit)
	}
	if b.data == nil {
		b.data = make([]byte, 0, len(p))
	}
	b.data = append(b.data, p...)
	return nil
}

// Trim drops the first n bytes. Trimming everything releases storage.
func (b *Buffer) Trim(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.Free()
		return
	}
	rest := make([]byte, len(b.data)-n)
	copy(rest, b.data[n:])
	b.data = rest
}

// Take moves the contents out of the buffer, leaving it empty.
func (b *Buffer) Take() []byte {
	out := b.data
	b.data = nil
	return out
}

// Free releases storage. The buffer stays usable.
func (b *Buffer) Free() {
	b.data = nil
}

// Clone returns an owned copy of p, or nil when p is empty.
func Clone(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
