// Package checksum implements the additive 16-bit checksum layer.
//
// Wire format: body followed by the big-endian sum of all body bytes,
// truncated to 16 bits. The layer cannot find frame boundaries on its own,
// so a mismatch discards the whole input.
package checksum

import (
	"encoding/binary"

	"github.com/rs/zerolog/log"
)

const (
	Name    = "checksum"
	SumLen  = 2
	minRecv = SumLen + 1
)

type Codec struct{}

func New() *Codec {
	return &Codec{}
}

func (c *Codec) Name() string {
	return Name
}

// Sum returns the additive checksum of p.
func Sum(p []byte) uint16 {
	var sum uint16
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}

func (c *Codec) EncodedLen(n int) (int, error) {
	return n + SumLen, nil
}

func (c *Codec) Encode(in []byte) ([]byte, int, error) {
	out := make([]byte, len(in)+SumLen)
	copy(out, in)
	binary.BigEndian.PutUint16(out[len(in):], Sum(in))
	return out, len(in), nil
}

func (c *Codec) Decode(in []byte) ([]byte, int, error) {
	if len(in) < minRecv {
		return nil, 0, nil
	}

	bodyLen := len(in) - SumLen
	residue := binary.BigEndian.Uint16(in[bodyLen:])
	for _, b := range in[:bodyLen] {
		residue -= uint16(b)
	}
	if residue != 0 {
		log.Warn().
			Str("layer", Name).
			Uint16("residue", residue).
			Int("bytes", len(in)).
			Msg("checksum mismatch, dropping input")
		return nil, len(in), nil
	}

	out := make([]byte, bodyLen)
	copy(out, in[:bodyLen])
	return out, len(in), nil
}
