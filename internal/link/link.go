// Package link runs a pipeline driver over a transport: a sender goroutine
// drains the outbox through the chain onto the wire, and transport
// notifications drain inbound bytes back up the chain.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/logging"
	"github.com/danmuck/linkstack/internal/observability"
	"github.com/danmuck/linkstack/internal/pipeline"
	"github.com/danmuck/linkstack/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotRunning       = errors.New("link: not running")
	ErrAlreadyStarted   = errors.New("link: already started")
	ErrPendingDropped   = errors.New("link: pending data dropped on shutdown")
	ErrRetriesExhausted = errors.New("link: transport retries exhausted")
	errAborted          = errors.New("link: transmit aborted")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of a link.
type Stats struct {
	ID                string             `json:"id"`
	State             string             `json:"state"`
	QueuedBytes       int                `json:"queued_bytes"`
	FramesSent        uint64             `json:"frames_sent"`
	BytesSent         uint64             `json:"bytes_sent"`
	Retries           uint64             `json:"retries"`
	SendErrors        uint64             `json:"send_errors"`
	RecvErrors        uint64             `json:"recv_errors"`
	PayloadsDelivered uint64             `json:"payloads_delivered"`
	DroppedBytes      uint64             `json:"dropped_bytes"`
	Layers            []chain.LayerStats `json:"layers"`
}

type counters struct {
	framesSent   atomic.Uint64
	bytesSent    atomic.Uint64
	retries      atomic.Uint64
	sendErrors   atomic.Uint64
	recvErrors   atomic.Uint64
	delivered    atomic.Uint64
	droppedBytes atomic.Uint64
}

type Link struct {
	id     string
	cfg    Config
	driver *pipeline.Driver
	tr     transport.Transport
	outbox *Outbox
	logger zerolog.Logger

	mu      sync.Mutex
	state   atomic.Int32
	stop    chan struct{}
	abort   chan struct{}
	done    chan struct{}
	dropped int

	draining atomic.Bool
	notified atomic.Bool
	readBuf  []byte

	cbMu      sync.RWMutex
	onReceive pipeline.ReceiveFunc

	stats counters
}

func New(cfg Config, driver *pipeline.Driver, tr transport.Transport) (*Link, error) {
	if driver == nil || tr == nil {
		return nil, fmt.Errorf("%w: driver and transport are required", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	l := &Link{
		id:      id,
		cfg:     cfg,
		driver:  driver,
		tr:      tr,
		outbox:  NewOutbox(cfg.MaxQueuedBytes),
		logger:  logging.Component("link").With().Str("link", id).Logger(),
		stop:    make(chan struct{}),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
		readBuf: make([]byte, cfg.ReadChunkSize),
	}
	driver.SetReceiveCallback(l.deliver)
	return l, nil
}

func (l *Link) ID() string {
	return l.id
}

func (l *Link) State() State {
	return State(l.state.Load())
}

// Start launches the sender and subscribes to transport notifications.
// Cancelling ctx stops the link the same way Shutdown does, without a
// caller waiting on the result.
func (l *Link) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: state=%s", ErrAlreadyStarted, l.State())
	}
	go l.run()
	go func() {
		select {
		case <-ctx.Done():
			l.beginStop()
		case <-l.done:
		}
	}()
	l.tr.SetNotify(l.OnDataAvailable)
	l.logger.Info().
		Strs("layers", l.driver.Chain().Names()).
		Dur("frame_gap", l.cfg.FrameGap).
		Dur("retry", l.cfg.Retry.InitialDelay).
		Msg("link started")
	return nil
}

func (l *Link) SetReceiveCallback(fn pipeline.ReceiveFunc) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onReceive = fn
}

// Write queues p for transmission and returns without waiting for the wire.
// Successive writes may be coalesced into one payload.
func (l *Link) Write(p []byte) error {
	if l.State() != StateRunning {
		return ErrNotRunning
	}
	if len(p) == 0 {
		return nil
	}
	if err := l.outbox.Push(p, l.cfg.LockTimeout); err != nil {
		l.logger.Warn().Err(err).Int("bytes", len(p)).Msg("write rejected")
		return err
	}
	return nil
}

// OnDataAvailable is the transport notification. Concurrent calls collapse
// into one drain that re-runs until no notification arrived during it.
func (l *Link) OnDataAvailable() {
	l.notified.Store(true)
	for l.draining.CompareAndSwap(false, true) {
		l.notified.Store(false)
		l.drain()
		l.draining.Store(false)
		if !l.notified.Load() {
			return
		}
	}
}

// Shutdown stops the sender after it flushes what is queued. If ctx or
// Config.ShutdownTimeout expires first, in-flight retries are abandoned and
// the undelivered byte count is reported through ErrPendingDropped.
func (l *Link) Shutdown(ctx context.Context) error {
	switch l.State() {
	case StateIdle:
		l.state.Store(int32(StateStopped))
		l.driver.Close()
		return nil
	case StateStopped:
		return nil
	}

	l.beginStop()
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-l.done:
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-l.abort:
		default:
			close(l.abort)
		}
		l.mu.Unlock()
		<-l.done
	}

	// Close waits out any drain still inside the driver; later drains see
	// chain.ErrClosed and return quietly.
	l.tr.SetNotify(nil)
	l.driver.Close()
	l.state.Store(int32(StateStopped))

	l.mu.Lock()
	dropped := l.dropped
	l.mu.Unlock()
	if dropped > 0 {
		l.logger.Error().Int("dropped", dropped).Msg("link stopped with undelivered data")
		return fmt.Errorf("%w: bytes=%d", ErrPendingDropped, dropped)
	}
	l.logger.Info().Msg("link stopped")
	return nil
}

func (l *Link) Stats() Stats {
	return Stats{
		ID:                l.id,
		State:             l.State().String(),
		QueuedBytes:       l.outbox.Len(),
		FramesSent:        l.stats.framesSent.Load(),
		BytesSent:         l.stats.bytesSent.Load(),
		Retries:           l.stats.retries.Load(),
		SendErrors:        l.stats.sendErrors.Load(),
		RecvErrors:        l.stats.recvErrors.Load(),
		PayloadsDelivered: l.stats.delivered.Load(),
		DroppedBytes:      l.stats.droppedBytes.Load(),
		Layers:            l.driver.Stats(),
	}
}

func (l *Link) beginStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	close(l.stop)
}

func (l *Link) run() {
	defer close(l.done)
	defer func() {
		// Anything still queued after an abort never reached the chain.
		l.recordDropped(l.outbox.Len())
	}()
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			l.flushAll()
			return
		case <-l.outbox.Signal():
		case <-ticker.C:
		}
		if err := l.flush(); errors.Is(err, errAborted) {
			return
		}
	}
}

// flushAll empties the outbox during shutdown, including writes that raced
// with the state change.
func (l *Link) flushAll() {
	for l.outbox.Len() > 0 {
		if err := l.flush(); errors.Is(err, errAborted) {
			return
		}
	}
}

func (l *Link) flush() error {
	queued, err := l.outbox.Swap(l.cfg.LockTimeout)
	if err != nil {
		l.logger.Debug().Err(err).Msg("outbox busy, sender will retry")
		return nil
	}
	for off := 0; off < len(queued); off += l.cfg.MaxFramePayload {
		end := min(off+l.cfg.MaxFramePayload, len(queued))
		if err := l.send(queued[off:end]); errors.Is(err, errAborted) {
			l.recordDropped(len(queued) - end)
			return err
		}
	}
	return nil
}

// send pushes one payload through the chain and onto the transport.
func (l *Link) send(payload []byte) error {
	frame, err := l.driver.Transmit(payload)
	if err != nil {
		l.stats.sendErrors.Add(1)
		l.logger.Error().Err(err).Int("bytes", len(payload)).Msg("payload not transmitted")
		return err
	}
	if len(frame) == 0 {
		return nil
	}

	start := time.Now()
	attempt := 0
	for !l.tr.Write(frame) {
		attempt++
		l.stats.retries.Add(1)
		if !l.shouldRetry(attempt) {
			l.stats.sendErrors.Add(1)
			l.logger.Error().Int("attempts", attempt).Int("bytes", len(frame)).Msg("transport refused frame, giving up")
			return ErrRetriesExhausted
		}
		if err := l.wait(l.cfg.Retry.Delay(attempt, nil)); err != nil {
			l.recordDropped(len(payload))
			return err
		}
	}
	l.stats.framesSent.Add(1)
	l.stats.bytesSent.Add(uint64(len(frame)))
	observability.RecordTransmit(len(frame), attempt, time.Since(start))
	if attempt > 0 {
		l.logger.Debug().Int("retries", attempt).Int("bytes", len(frame)).Msg("frame accepted after retry")
	}
	return l.wait(l.cfg.FrameGap)
}

func (l *Link) shouldRetry(attempt int) bool {
	return l.cfg.MaxAttempts == 0 || attempt < l.cfg.MaxAttempts
}

// Link sender wait helper; only a shutdown abort cuts it short.
func (l *Link) wait(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.abort:
		return errAborted
	case <-timer.C:
		return nil
	}
}

func (l *Link) recordDropped(n int) {
	if n <= 0 {
		return
	}
	l.stats.droppedBytes.Add(uint64(n))
	l.mu.Lock()
	l.dropped += n
	l.mu.Unlock()
}

func (l *Link) drain() {
	var raw []byte
	for {
		n := l.tr.Read(l.readBuf)
		if n == 0 {
			break
		}
		raw = append(raw, l.readBuf[:n]...)
	}
	if len(raw) == 0 {
		return
	}
	if err := l.driver.Receive(raw); err != nil {
		if errors.Is(err, chain.ErrClosed) {
			return
		}
		l.stats.recvErrors.Add(1)
		l.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("receive failed")
	}
}

func (l *Link) deliver(payload []byte) {
	l.cbMu.RLock()
	fn := l.onReceive
	l.cbMu.RUnlock()
	if fn == nil {
		l.logger.Warn().Int("bytes", len(payload)).Msg("no receive callback, payload discarded")
		return
	}
	fn(payload)
	l.stats.delivered.Add(1)
}
