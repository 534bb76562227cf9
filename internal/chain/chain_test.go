package chain

import (
	"errors"
	"testing"

	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/danmuck/linkstack/internal/protocol/checksum"
	"github.com/danmuck/linkstack/internal/protocol/headerfooter"
	"github.com/danmuck/linkstack/internal/protocol/slip"
	"github.com/danmuck/linkstack/internal/testutil/testlog"
)

func buildStandard(t *testing.T) *Chain {
	t.Helper()
	hf, err := headerfooter.New(headerfooter.DefaultConfig())
	if err != nil {
		t.Fatalf("header_footer: %v", err)
	}
	sl, err := slip.New(slip.DefaultConfig())
	if err != nil {
		t.Fatalf("slip: %v", err)
	}
	c, err := Build(DefaultOptions(), checksum.New(), hf, sl)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return c
}

func TestAppendOrder(t *testing.T) {
	testlog.Start(t)
	c := buildStandard(t)
	if c.Len() != 3 {
		t.Fatalf("len=%d", c.Len())
	}

	send, err := c.SendOrder()
	if err != nil {
		t.Fatalf("send order: %v", err)
	}
	got := []string{send[0].Name(), send[1].Name(), send[2].Name()}
	want := []string{checksum.Name, headerfooter.Name, slip.Name}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send order got=%v want=%v", got, want)
		}
	}

	recv, err := c.RecvOrder()
	if err != nil {
		t.Fatalf("recv order: %v", err)
	}
	if recv[0].Name() != slip.Name || recv[2].Name() != checksum.Name {
		t.Fatalf("recv order got=%v", []string{recv[0].Name(), recv[1].Name(), recv[2].Name()})
	}

	head, ok := c.Layer(0)
	if !ok || head.Name() != checksum.Name {
		t.Fatalf("head should be the first appended layer")
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	testlog.Start(t)
	c := New(DefaultOptions())
	send, err := c.SendOrder()
	if err != nil || len(send) != 0 {
		t.Fatalf("empty chain send order=%v err=%v", send, err)
	}
}

func TestAppendNilCodec(t *testing.T) {
	c := New(DefaultOptions())
	if _, err := c.Append(nil); !errors.Is(err, ErrNilCodec) {
		t.Fatalf("expected ErrNilCodec, got %v", err)
	}
}

func TestCloseReleasesLayers(t *testing.T) {
	testlog.Start(t)
	c := buildStandard(t)
	l, _ := c.Layer(1)
	_ = l.Recv.Append([]byte("partial"))

	c.Close()
	if !c.Closed() {
		t.Fatalf("expected closed")
	}
	if l.Recv.Len() != 0 {
		t.Fatalf("close must free buffered bytes")
	}
	if _, err := c.SendOrder(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := c.Append(checksum.New()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on append, got %v", err)
	}
	c.Close()
}

func TestStatsAndReset(t *testing.T) {
	testlog.Start(t)
	c := buildStandard(t)
	l, _ := c.Layer(2)
	_ = l.Recv.Append([]byte{0x00, 0x01})
	_ = l.Send.Append([]byte{0x02})

	stats := c.Stats()
	if len(stats) != 3 || stats[2].RecvBytes != 2 || stats[2].SendBytes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	c.Reset()
	if l.Recv.Len() != 0 || l.Send.Len() != 0 {
		t.Fatalf("reset should free buffers")
	}
	if names := c.Names(); len(names) != 3 || names[1] != headerfooter.Name {
		t.Fatalf("names=%v", names)
	}
}

func TestCheckPayloadFollowsExpansion(t *testing.T) {
	testlog.Start(t)
	c := buildStandard(t)
	if err := c.CheckPayload(128); err != nil {
		t.Fatalf("standard chain at 128: %v", err)
	}
	if err := c.CheckPayload(headerfooter.MaxBodyLen - checksum.SumLen); err != nil {
		t.Fatalf("largest fitting payload: %v", err)
	}
	if err := c.CheckPayload(headerfooter.MaxBodyLen - checksum.SumLen + 1); !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	hf, err := headerfooter.New(headerfooter.DefaultConfig())
	if err != nil {
		t.Fatalf("header_footer: %v", err)
	}
	sl, err := slip.New(slip.DefaultConfig())
	if err != nil {
		t.Fatalf("slip: %v", err)
	}
	stuffedFirst, err := Build(DefaultOptions(), sl, hf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 128 sentinel bytes stuff to 258 before header_footer sees them.
	if err := stuffedFirst.CheckPayload(128); !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("slip ahead of header_footer at 128: got %v", err)
	}
	if err := stuffedFirst.CheckPayload(126); err != nil {
		t.Fatalf("slip ahead of header_footer at 126: %v", err)
	}

	stuffedFirst.Close()
	if err := stuffedFirst.CheckPayload(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed chain: got %v", err)
	}
}
