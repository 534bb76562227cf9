package link

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/linkstack/internal/buffer"
)

var (
	ErrOutboxBusy = errors.New("link: outbox lock timeout")
	ErrOutboxFull = errors.New("link: outbox full")
)

// Outbox is the accumulation buffer between Write callers and the sender.
// Its lock is a one-slot channel so acquisition can give up after a bound.
type Outbox struct {
	lock   chan struct{}
	buf    *buffer.Buffer
	signal chan struct{}
	queued atomic.Int64
}

func NewOutbox(limit int) *Outbox {
	return &Outbox{
		lock:   make(chan struct{}, 1),
		buf:    buffer.New(limit),
		signal: make(chan struct{}, 1),
	}
}

func (o *Outbox) acquire(timeout time.Duration) error {
	select {
	case o.lock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrOutboxBusy
	}
}

func (o *Outbox) release() {
	<-o.lock
}

// Push appends p and wakes the sender.
func (o *Outbox) Push(p []byte, timeout time.Duration) error {
	if err := o.acquire(timeout); err != nil {
		return err
	}
	err := o.buf.Append(p)
	if err == nil {
		o.queued.Store(int64(o.buf.Len()))
	}
	o.release()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutboxFull, err)
	}

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return nil
}

// Swap moves everything queued out of the outbox.
func (o *Outbox) Swap(timeout time.Duration) ([]byte, error) {
	if err := o.acquire(timeout); err != nil {
		return nil, err
	}
	out := o.buf.Take()
	o.queued.Store(0)
	o.release()
	return out, nil
}

// Signal fires at most once per batch of pushes.
func (o *Outbox) Signal() <-chan struct{} {
	return o.signal
}

// Len is the number of queued bytes as of the last push or swap.
func (o *Outbox) Len() int {
	return int(o.queued.Load())
}
