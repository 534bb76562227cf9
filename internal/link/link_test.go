package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/pipeline"
	"github.com/danmuck/linkstack/internal/protocol/checksum"
	"github.com/danmuck/linkstack/internal/protocol/headerfooter"
	"github.com/danmuck/linkstack/internal/protocol/slip"
	"github.com/danmuck/linkstack/internal/testutil/testlog"
	"github.com/danmuck/linkstack/internal/transport"
)

type collector struct {
	mu       sync.Mutex
	got      []byte
	payloads int
}

func (c *collector) receive(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, p...)
	c.payloads++
}

func (c *collector) snapshot() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.got...), c.payloads
}

func (c *collector) waitFor(t *testing.T, want []byte) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := c.snapshot(); bytes.Equal(got, want) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := c.snapshot()
	t.Fatalf("timed out waiting for delivery\n got=%q\nwant=%q", got, want)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.FrameGap = time.Millisecond
	cfg.Retry = FixedBackoff(time.Millisecond)
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func newDriver(t *testing.T) *pipeline.Driver {
	t.Helper()
	hf, err := headerfooter.New(headerfooter.DefaultConfig())
	if err != nil {
		t.Fatalf("header_footer: %v", err)
	}
	sl, err := slip.New(slip.DefaultConfig())
	if err != nil {
		t.Fatalf("slip: %v", err)
	}
	c, err := chain.Build(chain.DefaultOptions(), checksum.New(), hf, sl)
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	return pipeline.New(c, pipeline.DefaultOptions())
}

func newLink(t *testing.T, cfg Config, tr transport.Transport) (*Link, *collector) {
	t.Helper()
	l, err := New(cfg, newDriver(t), tr)
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	col := &collector{}
	l.SetReceiveCallback(col.receive)
	return l, col
}

func startPair(t *testing.T, opts transport.LoopbackOptions) (*Link, *collector, *transport.Loopback, *Link, *collector) {
	t.Helper()
	ta, tb := transport.NewLoopbackPair(opts)
	a, colA := newLink(t, testConfig(), ta)
	b, colB := newLink(t, testConfig(), tb)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Shutdown(context.Background())
		_ = b.Shutdown(context.Background())
	})
	return a, colA, ta, b, colB
}

func TestLinkRoundTripOverFragmentedLoopback(t *testing.T) {
	testlog.Start(t)
	a, colA, _, b, colB := startPair(t, transport.LoopbackOptions{MaxChunk: 3})

	if err := a.Write([]byte("hello from a")); err != nil {
		t.Fatalf("write a: %v", err)
	}
	colB.waitFor(t, []byte("hello from a"))

	if err := b.Write([]byte("and back from b")); err != nil {
		t.Fatalf("write b: %v", err)
	}
	colA.waitFor(t, []byte("and back from b"))

	if st := a.Stats(); st.FramesSent == 0 || st.BytesSent == 0 {
		t.Fatalf("sender stats not updated: %+v", st)
	}
	if st := b.Stats(); st.PayloadsDelivered != 1 {
		t.Fatalf("b delivered=%d want=1", st.PayloadsDelivered)
	}
}

func TestLinkWritesArriveInOrder(t *testing.T) {
	testlog.Start(t)
	a, _, _, _, colB := startPair(t, transport.LoopbackOptions{MaxChunk: 7})

	var want []byte
	for i := 0; i < 60; i++ {
		msg := []byte(fmt.Sprintf("msg-%02d;", i))
		want = append(want, msg...)
		if err := a.Write(msg); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	colB.waitFor(t, want)
}

func TestLinkSplitsLargeWrites(t *testing.T) {
	testlog.Start(t)
	a, _, _, _, colB := startPair(t, transport.LoopbackOptions{})

	// Larger than one header/footer body can carry.
	big := bytes.Repeat([]byte("0123456789"), 100)
	if err := a.Write(big); err != nil {
		t.Fatalf("write: %v", err)
	}
	colB.waitFor(t, big)
	if _, payloads := colB.snapshot(); payloads < len(big)/testConfig().MaxFramePayload {
		t.Fatalf("payloads=%d, expected the write to be split", payloads)
	}
	if st := a.Stats(); st.SendErrors != 0 {
		t.Fatalf("send errors=%d", st.SendErrors)
	}
}

func TestLinkRetriesRefusedWrites(t *testing.T) {
	testlog.Start(t)
	a, _, ta, _, colB := startPair(t, transport.LoopbackOptions{})

	ta.Refuse(3)
	if err := a.Write([]byte("eventually")); err != nil {
		t.Fatalf("write: %v", err)
	}
	colB.waitFor(t, []byte("eventually"))
	if got := a.Stats().Retries; got != 3 {
		t.Fatalf("retries got=%d want=3", got)
	}
}

func TestLinkGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ta, tb := transport.NewLoopbackPair(transport.LoopbackOptions{})
	cfg := testConfig()
	cfg.MaxAttempts = 2
	a, _ := newLink(t, cfg, ta)
	b, colB := newLink(t, testConfig(), tb)
	for _, l := range []*Link{a, b} {
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	defer b.Shutdown(context.Background())

	ta.Refuse(2)
	if err := a.Write([]byte("lost")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Stats().SendErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if a.Stats().SendErrors != 1 {
		t.Fatalf("expected one abandoned frame, stats=%+v", a.Stats())
	}

	if err := a.Write([]byte("next")); err != nil {
		t.Fatalf("write: %v", err)
	}
	colB.waitFor(t, []byte("next"))
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("abandoned frames are not shutdown drops: %v", err)
	}
}

func TestLinkShutdownFlushesQueuedWrites(t *testing.T) {
	testlog.Start(t)
	ta, tb := transport.NewLoopbackPair(transport.LoopbackOptions{MaxChunk: 5})
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	a, _ := newLink(t, cfg, ta)
	b, colB := newLink(t, testConfig(), tb)
	for _, l := range []*Link{a, b} {
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	defer b.Shutdown(context.Background())

	want := []byte("queued right before shutdown")
	if err := a.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	colB.waitFor(t, want)
	if a.State() != StateStopped {
		t.Fatalf("state=%s", a.State())
	}
	if !a.driver.Chain().Closed() {
		t.Fatalf("chain should be released after shutdown")
	}
}

func TestLinkShutdownReportsDroppedData(t *testing.T) {
	testlog.Start(t)
	ta, _ := transport.NewLoopbackPair(transport.LoopbackOptions{})
	cfg := testConfig()
	cfg.ShutdownTimeout = 30 * time.Millisecond
	a, _ := newLink(t, cfg, ta)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ta.Refuse(1 << 30)
	if err := a.Write([]byte("never leaves")); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := a.Shutdown(context.Background())
	if !errors.Is(err, ErrPendingDropped) {
		t.Fatalf("expected ErrPendingDropped, got %v", err)
	}
	if got := a.Stats().DroppedBytes; got != uint64(len("never leaves")) {
		t.Fatalf("dropped=%d", got)
	}
}

func TestLinkStateChecks(t *testing.T) {
	testlog.Start(t)
	ta, _ := transport.NewLoopbackPair(transport.LoopbackOptions{})
	a, _ := newLink(t, testConfig(), ta)

	if err := a.Write([]byte("early")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("write before start: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v", err)
	}
	if err := a.Write(nil); err != nil {
		t.Fatalf("empty write: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := a.Write([]byte("late")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("write after shutdown: %v", err)
	}
}

func TestLinkStopsWhenStartContextEnds(t *testing.T) {
	testlog.Start(t)
	ta, _ := transport.NewLoopbackPair(transport.LoopbackOptions{})
	a, _ := newLink(t, testConfig(), ta)
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-a.done:
	case <-time.After(time.Second):
		t.Fatalf("sender did not stop after context cancel")
	}
	if err := a.Write([]byte("x")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("write after cancel: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestLinkConcurrentNotificationsLoseNothing(t *testing.T) {
	testlog.Start(t)
	_, tb := transport.NewLoopbackPair(transport.LoopbackOptions{})
	b, colB := newLink(t, testConfig(), tb)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Shutdown(context.Background())

	encoder := newDriver(t)
	frame, err := encoder.Transmit([]byte("frame"))
	if err != nil {
		t.Fatalf("transmit: %v", err)
	}

	const senders = 16
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tb.Inject(frame)
		}()
	}
	wg.Wait()

	colB.waitFor(t, bytes.Repeat([]byte("frame"), senders))
	if _, payloads := colB.snapshot(); payloads != senders {
		t.Fatalf("payloads=%d want=%d", payloads, senders)
	}
}

func TestLinkOverStreamTransport(t *testing.T) {
	testlog.Start(t)
	left, right := net.Pipe()
	sa := transport.NewStream(left, transport.DefaultStreamOptions())
	sb := transport.NewStream(right, transport.DefaultStreamOptions())
	defer sa.Close()
	defer sb.Close()

	a, _ := newLink(t, testConfig(), sa)
	b, colB := newLink(t, testConfig(), sb)
	for _, l := range []*Link{a, b} {
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer l.Shutdown(context.Background())
	}

	want := []byte("bytes over a real stream\x00\x7f\xff")
	if err := a.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	colB.waitFor(t, want)
}

func TestNewRequiresDriverAndTransport(t *testing.T) {
	testlog.Start(t)
	if _, err := New(DefaultConfig(), nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

// stampTransport accepts every write and records when it arrived.
type stampTransport struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *stampTransport) Read(p []byte) int { return 0 }
func (s *stampTransport) SetNotify(fn func()) {}

func (s *stampTransport) Write(p []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, time.Now())
	return true
}

func (s *stampTransport) stamps() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

func TestLinkZeroConfigKeepsFrameGap(t *testing.T) {
	testlog.Start(t)
	tr := &stampTransport{}
	l, err := New(Config{}, newDriver(t), tr)
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// 300 bytes split into three payloads at the default 128-byte bound.
	if err := l.Write(bytes.Repeat([]byte{'g'}, 300)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	stamps := tr.stamps()
	if len(stamps) != 3 {
		t.Fatalf("frames got=%d want=3", len(stamps))
	}
	want := DefaultConfig().FrameGap
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < want {
			t.Fatalf("gap between frame %d and %d got=%v want>=%v", i-1, i, gap, want)
		}
	}
}

func TestLinkCountsOnlyCallbackDeliveries(t *testing.T) {
	testlog.Start(t)
	ta, tb := transport.NewLoopbackPair(transport.LoopbackOptions{})
	a, err := New(testConfig(), newDriver(t), ta)
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	b, col := newLink(t, testConfig(), tb)
	b.SetReceiveCallback(nil)
	for _, l := range []*Link{a, b} {
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = a.Shutdown(context.Background())
		_ = b.Shutdown(context.Background())
	})

	if err := a.Write([]byte("unheard")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Stats().FramesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if st := b.Stats(); st.PayloadsDelivered != 0 {
		t.Fatalf("delivered without a callback: %d", st.PayloadsDelivered)
	}

	b.SetReceiveCallback(col.receive)
	if err := a.Write([]byte("heard")); err != nil {
		t.Fatalf("write: %v", err)
	}
	col.waitFor(t, []byte("heard"))
	if st := b.Stats(); st.PayloadsDelivered != 1 {
		t.Fatalf("delivered got=%d want=1", st.PayloadsDelivered)
	}
}
