package plugins

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/danmuck/linkstack/internal/protocol/headerfooter"
	"github.com/danmuck/linkstack/internal/testutil/testlog"
)

func TestBuiltinsRegistered(t *testing.T) {
	testlog.Start(t)
	names := Names()
	for _, want := range []string{"checksum", "header_footer", "slip"} {
		if !slices.Contains(names, want) {
			t.Fatalf("missing builtin %q in %v", want, names)
		}
	}
}

func TestBuildUnknownLayer(t *testing.T) {
	testlog.Start(t)
	if _, err := Build(LayerSpec{Name: "rot13"}); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
}

func TestBuildHeaderFooterParams(t *testing.T) {
	testlog.Start(t)
	codec, err := Build(LayerSpec{Name: "header_footer", Params: map[string]string{
		"header_hex": "aa",
		"footer":     "X",
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out, consumed, err := codec.Encode([]byte{0xBB})
	if err != nil || consumed != 1 {
		t.Fatalf("encode consumed=%d err=%v", consumed, err)
	}
	if want := []byte{0xAA, 0x01, 0xBB, 'X'}; !bytes.Equal(out, want) {
		t.Fatalf("got=% x want=% x", out, want)
	}
}

func TestBuildHeaderFooterRejectsBadParams(t *testing.T) {
	testlog.Start(t)
	cases := []map[string]string{
		{"header": "A", "header_hex": "41"},
		{"header_hex": "zz"},
		{"trailer": "x"},
	}
	for _, params := range cases {
		if _, err := Build(LayerSpec{Name: "header_footer", Params: params}); !errors.Is(err, ErrBadParam) {
			t.Fatalf("params=%v: expected ErrBadParam, got %v", params, err)
		}
	}
	_, err := Build(LayerSpec{Name: "header_footer", Params: map[string]string{"header": ""}})
	if !errors.Is(err, protocol.ErrInvalidConfig) {
		t.Fatalf("empty header: expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildSlipParams(t *testing.T) {
	testlog.Start(t)
	codec, err := Build(LayerSpec{Name: "slip", Params: map[string]string{
		"frame_start": "0xC0",
		"frame_end":   "0xC1",
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out, _, err := codec.Encode([]byte{0x42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := []byte{0xC0, 0x42, 0xC1}; !bytes.Equal(out, want) {
		t.Fatalf("got=% x want=% x", out, want)
	}

	if _, err := Build(LayerSpec{Name: "slip", Params: map[string]string{"frame_esc": "300"}}); !errors.Is(err, ErrBadParam) {
		t.Fatalf("out of range byte: %v", err)
	}
	if _, err := Build(LayerSpec{Name: "slip", Params: map[string]string{"frame_end": "0"}}); !errors.Is(err, protocol.ErrInvalidConfig) {
		t.Fatalf("colliding sentinels: %v", err)
	}
}

func TestRegisterCustomFactory(t *testing.T) {
	testlog.Start(t)
	Register("test_identity_hf", func(LayerSpec) (protocol.Codec, error) {
		return headerfooter.New(headerfooter.Config{Header: []byte("#")})
	})
	c, err := BuildChain(chain.DefaultOptions(), []LayerSpec{{Name: "checksum"}, {Name: "test_identity_hf"}})
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	if got := c.Names(); !slices.Equal(got, []string{"checksum", "header_footer"}) {
		t.Fatalf("names=%v", got)
	}
}
