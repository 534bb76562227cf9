package transport

import (
	"sync"

	"github.com/danmuck/linkstack/internal/buffer"
)

// LoopbackOptions shapes how bytes cross an in-memory pair.
type LoopbackOptions struct {
	// MaxChunk splits every write into pieces of at most this many bytes,
	// each followed by its own notification. 0 delivers writes whole.
	MaxChunk int
}

// Loopback is one end of an in-memory transport pair. Notifications run
// synchronously on the writer's goroutine.
type Loopback struct {
	opts LoopbackOptions
	peer *Loopback

	mu      sync.Mutex
	inbound buffer.Buffer
	notify  func()
	refuse  int
	closed  bool
	written int
}

// NewLoopbackPair returns two connected ends.
func NewLoopbackPair(opts LoopbackOptions) (*Loopback, *Loopback) {
	a := &Loopback{opts: opts}
	b := &Loopback{opts: opts}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Read(p []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := copy(p, l.inbound.Bytes())
	l.inbound.Trim(n)
	return n
}

func (l *Loopback) Write(p []byte) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if l.refuse > 0 {
		l.refuse--
		l.mu.Unlock()
		return false
	}
	l.written += len(p)
	l.mu.Unlock()

	chunk := l.opts.MaxChunk
	if chunk <= 0 {
		chunk = len(p)
	}
	for off := 0; off < len(p); off += chunk {
		end := off + chunk
		if end > len(p) {
			end = len(p)
		}
		l.peer.push(p[off:end])
	}
	return true
}

func (l *Loopback) SetNotify(fn func()) {
	l.mu.Lock()
	l.notify = fn
	pending := l.inbound.Len() > 0
	l.mu.Unlock()
	if fn != nil && pending {
		fn()
	}
}

// Inject delivers raw bytes to this end as if the peer had sent them.
func (l *Loopback) Inject(p []byte) {
	l.push(p)
}

// Refuse makes the next n writes report busy.
func (l *Loopback) Refuse(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refuse = n
}

// Written is the number of bytes accepted by Write.
func (l *Loopback) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close makes further writes from this end fail.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Loopback) push(p []byte) {
	if len(p) == 0 {
		return
	}
	l.mu.Lock()
	_ = l.inbound.Append(p)
	fn := l.notify
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}
