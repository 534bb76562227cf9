// Package slip implements a SLIP-style byte-stuffing layer with explicit
// start and end delimiters and configurable escape values.
package slip

import (
	"fmt"

	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/rs/zerolog/log"
)

const Name = "slip"

// Config names the three sentinel bytes and the values they are transposed to
// when they appear inside a body.
type Config struct {
	FrameStart byte
	FrameEnd   byte
	FrameEsc   byte

	TransposedStart byte
	TransposedEnd   byte
	TransposedEsc   byte
}

// DefaultConfig returns the remote link byte values.
func DefaultConfig() Config {
	return Config{
		FrameStart:      0x00,
		FrameEnd:        0xFF,
		FrameEsc:        0x7F,
		TransposedStart: 0x01,
		TransposedEnd:   0xFE,
		TransposedEsc:   0x7E,
	}
}

func (c Config) Validate() error {
	sentinels := []byte{c.FrameStart, c.FrameEnd, c.FrameEsc}
	transposed := []byte{c.TransposedStart, c.TransposedEnd, c.TransposedEsc}
	if !distinct(sentinels) {
		return fmt.Errorf("%w: %s sentinels must be distinct", protocol.ErrInvalidConfig, Name)
	}
	if !distinct(transposed) {
		return fmt.Errorf("%w: %s transposed values must be distinct", protocol.ErrInvalidConfig, Name)
	}
	for _, v := range transposed {
		for _, s := range sentinels {
			if v == s {
				return fmt.Errorf("%w: %s transposed value %#02x collides with a sentinel", protocol.ErrInvalidConfig, Name, v)
			}
		}
	}
	return nil
}

func distinct(vals []byte) bool {
	for i := range vals {
		for j := i + 1; j < len(vals); j++ {
			if vals[i] == vals[j] {
				return false
			}
		}
	}
	return true
}

type Codec struct {
	cfg Config
}

func New(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{cfg: cfg}, nil
}

func (c *Codec) Name() string {
	return Name
}

// MaxEncodedLen bounds the encoded size of an n-byte body.
func MaxEncodedLen(n int) int {
	return 2*n + 2
}

func (c *Codec) EncodedLen(n int) (int, error) {
	return MaxEncodedLen(n), nil
}

func (c *Codec) Encode(in []byte) ([]byte, int, error) {
	out := make([]byte, 0, MaxEncodedLen(len(in)))
	out = append(out, c.cfg.FrameStart)
	for _, b := range in {
		switch b {
		case c.cfg.FrameStart:
			out = append(out, c.cfg.FrameEsc, c.cfg.TransposedStart)
		case c.cfg.FrameEnd:
			out = append(out, c.cfg.FrameEsc, c.cfg.TransposedEnd)
		case c.cfg.FrameEsc:
			out = append(out, c.cfg.FrameEsc, c.cfg.TransposedEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, c.cfg.FrameEnd)
	return out, len(in), nil
}

func (c *Codec) Decode(in []byte) ([]byte, int, error) {
	if len(in) < 2 {
		return nil, 0, nil
	}

	sof := indexFrom(in, 0, c.cfg.FrameStart)
	if sof < 0 {
		// Everything is discarded, including any tail of a frame whose
		// start byte never arrived.
		log.Warn().Str("layer", Name).Int("bytes", len(in)).Msg("no frame start, dropping input")
		return nil, len(in), nil
	}

	eof := indexFrom(in, sof+1, c.cfg.FrameEnd)
	if eof < 0 {
		return nil, 0, nil
	}

	if eof-sof-1 == 0 {
		log.Debug().Str("layer", Name).Int("offset", sof).Msg("void frame")
		return nil, eof + 1, nil
	}

	out := make([]byte, 0, eof-sof-1)
	for i := sof + 1; i < eof; i++ {
		b := in[i]
		if b != c.cfg.FrameEsc {
			out = append(out, b)
			continue
		}
		i++
		if i >= eof {
			log.Warn().Str("layer", Name).Msg("escape at end of frame, dropping frame")
			return nil, eof + 1, nil
		}
		switch in[i] {
		case c.cfg.TransposedStart:
			out = append(out, c.cfg.FrameStart)
		case c.cfg.TransposedEnd:
			out = append(out, c.cfg.FrameEnd)
		case c.cfg.TransposedEsc:
			out = append(out, c.cfg.FrameEsc)
		default:
			log.Warn().
				Str("layer", Name).
				Uint8("escaped", in[i]).
				Msg("unknown escape sequence, dropping frame")
			return nil, eof + 1, nil
		}
	}
	return out, eof + 1, nil
}

func indexFrom(in []byte, from int, v byte) int {
	for i := from; i < len(in); i++ {
		if in[i] == v {
			return i
		}
	}
	return -1
}
