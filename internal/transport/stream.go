package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/linkstack/internal/buffer"
	"github.com/rs/zerolog/log"
)

const (
	defaultReadBufferSize = 512
	defaultMaxPending     = 64 * 1024
	defaultWriteTimeout   = 250 * time.Millisecond
)

type StreamOptions struct {
	ReadBufferSize int
	// MaxPending bounds bytes read from the stream but not yet drained.
	// Bytes past the bound are dropped.
	MaxPending   int
	WriteTimeout time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		ReadBufferSize: defaultReadBufferSize,
		MaxPending:     defaultMaxPending,
		WriteTimeout:   defaultWriteTimeout,
	}
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}
	if o.MaxPending <= 0 {
		o.MaxPending = defaultMaxPending
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stream adapts a blocking io.ReadWriteCloser (typically a net.Conn) to the
// Transport contract. A reader goroutine fills an internal buffer and fires
// the notification; writes are bounded by WriteTimeout when the stream
// supports deadlines.
type Stream struct {
	rwc  io.ReadWriteCloser
	opts StreamOptions

	mu      sync.Mutex
	pending *buffer.Buffer
	notify  func()
	err     error

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewStream(rwc io.ReadWriteCloser, opts StreamOptions) *Stream {
	opts = opts.withDefaults()
	s := &Stream{
		rwc:     rwc,
		opts:    opts,
		pending: buffer.New(opts.MaxPending),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Stream) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.pending.Bytes())
	s.pending.Trim(n)
	return n
}

func (s *Stream) Write(p []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if d, ok := s.rwc.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	off := 0
	for off < len(p) {
		n, err := s.rwc.Write(p[off:])
		off += n
		if err == nil {
			continue
		}
		if off == 0 {
			log.Debug().Err(err).Int("bytes", len(p)).Msg("stream write refused")
			return false
		}
		// Part of the frame is already on the wire; the receiver's framing
		// layers will discard the truncated remainder.
		log.Warn().Err(err).Int("written", off).Int("bytes", len(p)).Msg("stream write truncated")
		return true
	}
	return true
}

func (s *Stream) SetNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	pending := s.pending.Len() > 0
	s.mu.Unlock()
	if fn != nil && pending {
		fn()
	}
}

// Done is closed when the read side stops.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the read side stopped, nil while it runs or after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	err := s.rwc.Close()
	s.wg.Wait()
	return err
}

func (s *Stream) readLoop() {
	defer s.wg.Done()
	defer s.once.Do(func() { close(s.done) })

	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			s.mu.Lock()
			if appendErr := s.pending.Append(buf[:n]); appendErr != nil {
				log.Warn().Err(appendErr).Int("dropped", n).Msg("stream receive backlog full")
			}
			fn := s.notify
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				log.Warn().Err(err).Msg("stream read stopped")
			}
			return
		}
	}
}
