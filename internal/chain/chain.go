// Package chain holds the ordered set of codec layers a link is built from.
//
// Layers live in an arena addressed by index and the chain order is a
// separate index sequence. The head is the first layer applied on send and
// the last undone on receive.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/linkstack/internal/buffer"
	"github.com/danmuck/linkstack/internal/protocol"
)

var (
	ErrClosed   = errors.New("chain: closed")
	ErrNilCodec = errors.New("chain: nil codec")
)

// Layer is one codec plus the bytes it has been handed but not yet consumed.
// Send is touched only by the send path and Recv only by the receive path.
type Layer struct {
	Index int
	Codec protocol.Codec
	Send  *buffer.Buffer
	Recv  *buffer.Buffer
}

func (l *Layer) Name() string {
	return l.Codec.Name()
}

// Options bounds per-layer buffering.
type Options struct {
	MaxBufferedBytes int
}

func DefaultOptions() Options {
	return Options{MaxBufferedBytes: 64 * 1024}
}

type Chain struct {
	opts   Options
	arena  []*Layer
	order  []int
	mu     sync.RWMutex
	closed bool
}

func New(opts Options) *Chain {
	return &Chain{opts: opts}
}

// Build appends codecs in order, head first.
func Build(opts Options, codecs ...protocol.Codec) (*Chain, error) {
	c := New(opts)
	for _, codec := range codecs {
		if _, err := c.Append(codec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append adds codec at the tail and returns its arena index.
func (c *Chain) Append(codec protocol.Codec) (int, error) {
	if codec == nil {
		return -1, ErrNilCodec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, ErrClosed
	}
	idx := len(c.arena)
	c.arena = append(c.arena, &Layer{
		Index: idx,
		Codec: codec,
		Send:  buffer.New(c.opts.MaxBufferedBytes),
		Recv:  buffer.New(c.opts.MaxBufferedBytes),
	})
	c.order = append(c.order, idx)
	return idx, nil
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Chain) Layer(idx int) (*Layer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.arena) {
		return nil, false
	}
	return c.arena[idx], true
}

// SendOrder returns layers head to tail.
func (c *Chain) SendOrder() ([]*Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	out := make([]*Layer, 0, len(c.order))
	for _, idx := range c.order {
		out = append(out, c.arena[idx])
	}
	return out, nil
}

// RecvOrder returns layers tail to head.
func (c *Chain) RecvOrder() ([]*Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	out := make([]*Layer, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		out = append(out, c.arena[c.order[i]])
	}
	return out, nil
}

// CheckPayload walks the send order with the worst-case size of an n-byte
// payload and fails at the first layer that would refuse it. Layers that
// cannot bound their output end the walk.
func (c *Chain) CheckPayload(n int) error {
	layers, err := c.SendOrder()
	if err != nil {
		return err
	}
	for _, l := range layers {
		sizer, ok := l.Codec.(protocol.Sizer)
		if !ok {
			return nil
		}
		next, err := sizer.EncodedLen(n)
		if err != nil {
			return fmt.Errorf("layer %d (%s): input=%d: %w", l.Index, l.Name(), n, err)
		}
		n = next
	}
	return nil
}

// LayerStats is a point-in-time view of one layer's buffering.
type LayerStats struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	SendBytes int    `json:"send_bytes"`
	RecvBytes int    `json:"recv_bytes"`
}

// Stats reads buffer depths. Callers must keep the send and receive paths
// quiet while it runs; pipeline.Driver.Stats does that.
func (c *Chain) Stats() []LayerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LayerStats, 0, len(c.order))
	for _, idx := range c.order {
		l := c.arena[idx]
		out = append(out, LayerStats{
			Index:     l.Index,
			Name:      l.Name(),
			SendBytes: l.Send.Len(),
			RecvBytes: l.Recv.Len(),
		})
	}
	return out
}

// Reset frees every layer buffer.
func (c *Chain) Reset() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.arena {
		l.Send.Free()
		l.Recv.Free()
	}
}

// Close releases all layers. Further traversal returns ErrClosed.
func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, l := range c.arena {
		l.Send.Free()
		l.Recv.Free()
	}
	c.arena = nil
	c.order = nil
	c.closed = true
}

func (c *Chain) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Names lists layer names head to tail.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.order))
	for _, idx := range c.order {
		out = append(out, c.arena[idx].Name())
	}
	return out
}
