// Package pipeline threads payloads through a layer chain: head to tail when
// sending, tail to head when receiving, keeping partial input in each
// layer's buffer between calls.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/linkstack/internal/buffer"
	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/observability"
	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

var (
	ErrSendAborted = errors.New("pipeline: send aborted")
	ErrRecvAborted = errors.New("pipeline: receive aborted")
)

// ReceiveFunc gets each fully decoded payload. It runs on the receive path
// and must not call back into Receive.
type ReceiveFunc func(payload []byte)

type Options struct {
	// MaxDrainPasses caps how many times one Receive call re-walks the chain
	// to pull further frames out of bytes that are already buffered.
	MaxDrainPasses int
}

func DefaultOptions() Options {
	return Options{MaxDrainPasses: 64}
}

type Driver struct {
	chain *chain.Chain
	opts  Options

	sendMu sync.Mutex
	recvMu sync.Mutex

	cbMu      sync.RWMutex
	onReceive ReceiveFunc
}

func New(c *chain.Chain, opts Options) *Driver {
	if opts.MaxDrainPasses <= 0 {
		opts.MaxDrainPasses = 1
	}
	return &Driver{chain: c, opts: opts}
}

func (d *Driver) Chain() *chain.Chain {
	return d.chain
}

func (d *Driver) SetReceiveCallback(fn ReceiveFunc) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onReceive = fn
}

// Transmit encodes payload through every layer, head to tail, and returns the
// bytes to put on the wire.
func (d *Driver) Transmit(payload []byte) ([]byte, error) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	layers, err := d.chain.SendOrder()
	if err != nil {
		return nil, err
	}

	current := buffer.Clone(payload)
	for _, l := range layers {
		name := l.Name()
		if err := l.Send.Append(current); err != nil {
			l.Send.Free()
			observability.RecordLayerError(name, DirectionSend)
			return nil, fmt.Errorf("%w: layer=%s: %w", ErrSendAborted, name, err)
		}

		pending := l.Send.Bytes()
		out, consumed, err := l.Codec.Encode(pending)
		if err == nil {
			err = protocol.CheckConsumed(name, consumed, len(pending))
		}
		if err != nil {
			l.Send.Free()
			observability.RecordLayerError(name, DirectionSend)
			log.Error().Err(err).Str("layer", name).Int("bytes", len(pending)).Msg("encode failed")
			return nil, fmt.Errorf("%w: layer=%s: %w", ErrSendAborted, name, err)
		}

		if consumed == 0 {
			// The layer declined; pass its pending bytes on untouched.
			current = l.Send.Take()
			continue
		}
		l.Send.Trim(consumed)
		observability.RecordLayerFrame(name, DirectionSend)
		current = out
	}
	return current, nil
}

// Receive pushes newly arrived bytes through the chain, tail to head, and
// hands every completed payload to the receive callback.
func (d *Driver) Receive(raw []byte) error {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()

	layers, err := d.chain.RecvOrder()
	if err != nil {
		return err
	}
	if len(layers) == 0 {
		if len(raw) > 0 {
			d.deliver(buffer.Clone(raw))
		}
		return nil
	}

	incoming := raw
	for pass := 0; pass < d.opts.MaxDrainPasses; pass++ {
		more, err := d.receivePass(layers, incoming)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		incoming = nil
	}
	log.Debug().Int("passes", d.opts.MaxDrainPasses).Msg("drain pass limit reached, remaining bytes wait for next receive")
	return nil
}

// receivePass walks the chain once. It reports whether the tail layer made
// progress and still holds bytes, i.e. whether another pass may yield more.
func (d *Driver) receivePass(layers []*chain.Layer, incoming []byte) (bool, error) {
	more := false
	for i, l := range layers {
		name := l.Name()
		if err := l.Recv.Append(incoming); err != nil {
			dropped := l.Recv.Len() + len(incoming)
			l.Recv.Free()
			observability.RecordLayerError(name, DirectionRecv)
			observability.RecordLayerDrop(name, dropped)
			log.Error().Err(err).Str("layer", name).Int("dropped", dropped).Msg("receive buffer overflow, layer reset")
			return false, fmt.Errorf("%w: layer=%s: %w", ErrRecvAborted, name, err)
		}

		pending := l.Recv.Bytes()
		out, consumed, err := l.Codec.Decode(pending)
		if err == nil {
			err = protocol.CheckConsumed(name, consumed, len(pending))
		}
		if err != nil {
			l.Recv.Free()
			observability.RecordLayerError(name, DirectionRecv)
			log.Error().Err(err).Str("layer", name).Int("bytes", len(pending)).Msg("decode failed, layer reset")
			return false, fmt.Errorf("%w: layer=%s: %w", ErrRecvAborted, name, err)
		}

		switch protocol.Classify(out, consumed) {
		case protocol.OutcomeNeedMore:
			return more, nil
		case protocol.OutcomeDropped:
			observability.RecordLayerDrop(name, consumed)
			log.Debug().Str("layer", name).Int("consumed", consumed).Msg("bytes dropped")
		case protocol.OutcomeProduced:
			observability.RecordLayerFrame(name, DirectionRecv)
		}

		l.Recv.Trim(consumed)
		if i == 0 {
			more = l.Recv.Len() > 0
		}
		incoming = out
	}

	if len(incoming) > 0 {
		d.deliver(incoming)
	}
	return more, nil
}

func (d *Driver) deliver(payload []byte) {
	d.cbMu.RLock()
	fn := d.onReceive
	d.cbMu.RUnlock()

	if fn == nil {
		log.Warn().Int("bytes", len(payload)).Msg("no receive callback, payload discarded")
		return
	}
	fn(payload)
	observability.RecordDelivered()
}

// Stats returns per-layer buffer depths with both directions held still.
func (d *Driver) Stats() []chain.LayerStats {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.recvMu.Lock()
	defer d.recvMu.Unlock()
	return d.chain.Stats()
}

// Reset drops every partially buffered frame in both directions.
func (d *Driver) Reset() {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.recvMu.Lock()
	defer d.recvMu.Unlock()
	d.chain.Reset()
}

// Close releases the chain once both directions are idle.
func (d *Driver) Close() {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.recvMu.Lock()
	defer d.recvMu.Unlock()
	d.chain.Close()
}
