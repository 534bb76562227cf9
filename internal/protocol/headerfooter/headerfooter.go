// Package headerfooter implements the header/length/footer framing layer.
//
// Wire format: header | 1-byte body length | body | footer.
package headerfooter

import (
	"bytes"
	"fmt"

	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	Name       = "header_footer"
	MaxBodyLen = 0xFF
)

// Config holds the fixed frame delimiters.
type Config struct {
	Header []byte
	Footer []byte
}

// DefaultConfig returns the remote link delimiters.
func DefaultConfig() Config {
	return Config{
		Header: []byte("PP-R-HF<"),
		Footer: []byte(">"),
	}
}

func (c Config) Validate() error {
	if len(c.Header) == 0 {
		return fmt.Errorf("%w: %s header must not be empty", protocol.ErrInvalidConfig, Name)
	}
	return nil
}

type Codec struct {
	header []byte
	footer []byte
}

func New(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{
		header: append([]byte(nil), cfg.Header...),
		footer: append([]byte(nil), cfg.Footer...),
	}, nil
}

func (c *Codec) Name() string {
	return Name
}

// Overhead is the number of framing bytes added around each body.
func (c *Codec) Overhead() int {
	return len(c.header) + 1 + len(c.footer)
}

func (c *Codec) EncodedLen(n int) (int, error) {
	if n > MaxBodyLen {
		return 0, fmt.Errorf("%w: %s body=%d max=%d", protocol.ErrPayloadTooLarge, Name, n, MaxBodyLen)
	}
	return n + c.Overhead(), nil
}

func (c *Codec) Encode(in []byte) ([]byte, int, error) {
	if _, err := c.EncodedLen(len(in)); err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, len(in)+c.Overhead())
	out = append(out, c.header...)
	out = append(out, byte(len(in)))
	out = append(out, in...)
	out = append(out, c.footer...)
	return out, len(in), nil
}

func (c *Codec) Decode(in []byte) ([]byte, int, error) {
	hlen, flen := len(c.header), len(c.footer)
	if len(in) < hlen+flen+1 {
		return nil, 0, nil
	}

	// The header can only start where a length byte and footer still fit.
	for i := 0; i < len(in)-hlen-flen; i++ {
		if !bytes.Equal(in[i:i+hlen], c.header) {
			continue
		}
		start := i
		body := i + hlen + 1
		bodyLen := int(in[i+hlen])

		if bodyLen > len(in)-body-flen {
			// Drop what precedes the header and wait for the rest.
			return nil, start, nil
		}

		end := body + bodyLen
		if !bytes.Equal(in[end:end+flen], c.footer) {
			log.Warn().
				Str("layer", Name).
				Int("offset", start).
				Int("body_len", bodyLen).
				Msg("footer mismatch, skipping false header")
			return nil, body, nil
		}

		out := make([]byte, bodyLen)
		copy(out, in[body:end])
		return out, end + flen, nil
	}
	return nil, 0, nil
}
