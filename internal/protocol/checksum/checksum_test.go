package checksum

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/danmuck/linkstack/internal/testutil/testlog"
)

func TestEncodeKnownVector(t *testing.T) {
	testlog.Start(t)
	c := New()
	out, consumed, err := c.Encode([]byte{0x41, 0x42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if consumed != 2 {
		t.Fatalf("consumed=%d", consumed)
	}
	want := []byte{0x41, 0x42, 0x00, 0x83}
	if !bytes.Equal(out, want) {
		t.Fatalf("got=% x want=% x", out, want)
	}

	body, consumed, err := c.Decode(want)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(want) || !bytes.Equal(body, []byte{0x41, 0x42}) {
		t.Fatalf("decode got=% x consumed=%d", body, consumed)
	}
}

func TestSumTruncatesTo16Bits(t *testing.T) {
	testlog.Start(t)
	in := bytes.Repeat([]byte{0xFF}, 300)
	// 300*0xFF is 76500, which wraps to 0x2AD4.
	if got, want := Sum(in), uint16((300*0xFF)&0xFFFF); got != want {
		t.Fatalf("sum got=%#04x want=%#04x", got, want)
	}
}

func TestDecodeNeedsThreeBytes(t *testing.T) {
	testlog.Start(t)
	c := New()
	for _, in := range [][]byte{nil, {0x00}, {0x00, 0x00}} {
		out, consumed, err := c.Decode(in)
		if err != nil || consumed != 0 || out != nil {
			t.Fatalf("in=% x got out=% x consumed=%d err=%v", in, out, consumed, err)
		}
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	testlog.Start(t)
	c := New()
	frame, _, _ := c.Encode([]byte("hello"))
	snapshot := append([]byte(nil), frame...)
	out, _, _ := c.Decode(frame)
	out[0] = 'j'
	if !bytes.Equal(frame, snapshot) {
		t.Fatalf("decode output aliases input")
	}
}

func TestRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := New()
	rng := rand.New(rand.NewSource(1))
	for n := 1; n < 256; n++ {
		in := make([]byte, n)
		rng.Read(in)
		frame, _, err := c.Encode(in)
		if err != nil {
			t.Fatalf("encode n=%d: %v", n, err)
		}
		out, consumed, err := c.Decode(frame)
		if err != nil || consumed != len(frame) || !bytes.Equal(out, in) {
			t.Fatalf("n=%d got=% x consumed=%d err=%v", n, out, consumed, err)
		}
	}
}

func TestSingleBitFlipIsDetected(t *testing.T) {
	testlog.Start(t)
	c := New()
	frame, _, _ := c.Encode([]byte("checksum body"))
	bodyLen := len(frame) - SumLen
	for i := 0; i < bodyLen; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[i] ^= 1 << bit
			out, consumed, err := c.Decode(corrupt)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(out) != 0 {
				t.Fatalf("byte=%d bit=%d delivered corrupt output", i, bit)
			}
			if consumed != len(corrupt) {
				t.Fatalf("mismatch must drop whole input, consumed=%d", consumed)
			}
		}
	}
}
