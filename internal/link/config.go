package link

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var ErrInvalidConfig = errors.New("link: invalid config")

// BackoffConfig defines the delay between refused transport writes.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// FixedBackoff retries at a constant interval.
func FixedBackoff(d time.Duration) BackoffConfig {
	return BackoffConfig{InitialDelay: d, Multiplier: 1.0, MaxDelay: d}
}

// Delay returns the wait before retry attempt N (1-based).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	delay := float64(b.InitialDelay)
	if attempt > 1 {
		delay *= math.Pow(b.Multiplier, float64(attempt-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Config defines link worker timing and limits.
type Config struct {
	// PollInterval wakes the sender even without a write signal.
	PollInterval time.Duration
	// LockTimeout bounds the wait for the outbox lock.
	LockTimeout time.Duration
	// FrameGap is the quiet time after every accepted transmission so a
	// receiver without framing does not see adjacent frames as one.
	FrameGap time.Duration
	// NoFrameGap sends frames back to back. A zero FrameGap alone takes the
	// default.
	NoFrameGap bool
	Retry      BackoffConfig
	// MaxAttempts caps transport writes per frame; 0 retries forever.
	MaxAttempts int
	// MaxFramePayload splits queued bytes into payloads no larger than this
	// before they enter the chain.
	MaxFramePayload int
	MaxQueuedBytes  int
	ReadChunkSize   int
	ShutdownTimeout time.Duration
}

// DefaultConfig retries refused writes every 7ms and leaves 10ms between
// frames, matching the remote link timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:    100 * time.Millisecond,
		LockTimeout:     50 * time.Millisecond,
		FrameGap:        10 * time.Millisecond,
		Retry:           FixedBackoff(7 * time.Millisecond),
		MaxAttempts:     0,
		MaxFramePayload: 128,
		MaxQueuedBytes:  64 * 1024,
		ReadChunkSize:   32,
		ShutdownTimeout: 2 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.NoFrameGap {
		c.FrameGap = 0
	} else if c.FrameGap <= 0 {
		c.FrameGap = def.FrameGap
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry = def.Retry
	}
	if c.MaxFramePayload <= 0 {
		c.MaxFramePayload = def.MaxFramePayload
	}
	if c.MaxQueuedBytes <= 0 {
		c.MaxQueuedBytes = def.MaxQueuedBytes
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = def.ReadChunkSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts=%d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.MaxQueuedBytes > 0 && c.MaxFramePayload > c.MaxQueuedBytes {
		return fmt.Errorf("%w: max_frame_payload=%d exceeds max_queued_bytes=%d", ErrInvalidConfig, c.MaxFramePayload, c.MaxQueuedBytes)
	}
	return nil
}
