package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/linkstack/internal/admin"
	"github.com/danmuck/linkstack/internal/config"
	"github.com/danmuck/linkstack/internal/link"
	"github.com/danmuck/linkstack/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrConnectFailed = errors.New("linkd: connect failed")

const (
	shutdownGrace = 3 * time.Second
	previewBytes  = 32
)

// Service owns one peer connection at a time and the link running over it.
// It reconnects when the peer goes away.
type Service struct {
	cfg   serviceConfig
	chain config.ChainFile

	current atomic.Pointer[link.Link]
	admin   *admin.Server

	lnMu      sync.Mutex
	ln        net.Listener
	listening chan struct{}

	// receiveHook observes every decoded payload after the on_receive action.
	receiveHook func([]byte)
}

var _ admin.Link = (*Service)(nil)

func NewService(cfg serviceConfig, chain config.ChainFile) *Service {
	return &Service{
		cfg:       cfg,
		chain:     chain,
		listening: make(chan struct{}),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

func (s *Service) Serve(ctx context.Context) error {
	if s.cfg.Mode == modeListen {
		ln, err := net.Listen("tcp", s.cfg.PeerAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.PeerAddr, err)
		}
		s.lnMu.Lock()
		s.ln = ln
		s.lnMu.Unlock()
		close(s.listening)
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		log.Info().Str("addr", ln.Addr().String()).Msg("waiting for peer")
	}

	adminErr := make(chan error, 1)
	if s.cfg.AdminAddr != "" {
		s.admin = admin.Appear(s.cfg.ID, s.cfg.AdminAddr, s.cfg.CorsOrigins, s)
		go func() {
			adminErr <- s.admin.Serve()
		}()
	}
	defer s.shutdownAdmin()

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- s.runSessionLoop(ctx)
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("service", s.cfg.ID).Msg("shutdown")
			return <-sessionErr
		case err := <-sessionErr:
			return err
		case err := <-adminErr:
			if err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
		case <-ticker.C:
			st := s.Stats()
			log.Info().
				Str("service", s.cfg.ID).
				Str("state", st.State).
				Uint64("frames_sent", st.FramesSent).
				Uint64("retries", st.Retries).
				Uint64("delivered", st.PayloadsDelivered).
				Int("queued", st.QueuedBytes).
				Msg("heartbeat")
		}
	}
}

// ListenAddr is the bound peer address in listen mode, nil until bound.
func (s *Service) ListenAddr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) runSessionLoop(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if s.cfg.MaxConnectAttempts > 0 && attempt >= s.cfg.MaxConnectAttempts {
				return fmt.Errorf("%w: attempts=%d: %w", ErrConnectFailed, attempt, err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("peer", s.cfg.PeerAddr).Msg("connect failed")
			if err := s.waitReconnectBackoff(ctx, attempt); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		if err := s.runSession(ctx, conn); err != nil {
			return err
		}
	}
}

func (s *Service) connect(ctx context.Context) (net.Conn, error) {
	if s.cfg.Mode == modeListen {
		s.lnMu.Lock()
		ln := s.ln
		s.lnMu.Unlock()
		return ln.Accept()
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.cfg.PeerAddr)
}

func (s *Service) waitReconnectBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.cfg.Reconnect.Delay(attempt, nil))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runSession drives one connection until the peer leaves or ctx ends.
func (s *Service) runSession(ctx context.Context, conn net.Conn) error {
	stream := transport.NewStream(conn, transport.DefaultStreamOptions())
	defer stream.Close()

	driver, err := s.chain.BuildDriver()
	if err != nil {
		return err
	}
	l, err := link.New(s.chain.LinkConfig(), driver, stream)
	if err != nil {
		return err
	}
	l.SetReceiveCallback(s.receiver(l))
	if err := l.Start(ctx); err != nil {
		return err
	}
	s.current.Store(l)
	log.Info().
		Str("link", l.ID()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("peer connected")

	select {
	case <-ctx.Done():
	case <-stream.Done():
		if err := stream.Err(); err != nil {
			log.Warn().Err(err).Str("link", l.ID()).Msg("peer read failed")
		} else {
			log.Info().Str("link", l.ID()).Msg("peer disconnected")
		}
	}

	s.current.Store(nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := l.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("link", l.ID()).Msg("link shutdown")
	}
	return nil
}

func (s *Service) receiver(l *link.Link) func([]byte) {
	return func(p []byte) {
		switch s.cfg.OnReceive {
		case receiveEcho:
			if err := l.Write(p); err != nil {
				log.Warn().Err(err).Int("bytes", len(p)).Msg("echo failed")
			}
		case receiveStdout:
			if _, err := os.Stdout.Write(p); err != nil {
				log.Warn().Err(err).Msg("stdout write failed")
			}
		default:
			log.Info().
				Str("link", l.ID()).
				Int("bytes", len(p)).
				Str("preview", hex.EncodeToString(p[:min(len(p), previewBytes)])).
				Msg("payload received")
		}
		if s.receiveHook != nil {
			s.receiveHook(p)
		}
	}
}

func (s *Service) shutdownAdmin() {
	if s.admin == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.admin.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin shutdown")
	}
}

func (s *Service) ID() string {
	if l := s.current.Load(); l != nil {
		return l.ID()
	}
	return ""
}

func (s *Service) State() link.State {
	if l := s.current.Load(); l != nil {
		return l.State()
	}
	return link.StateIdle
}

func (s *Service) Write(p []byte) error {
	l := s.current.Load()
	if l == nil {
		return link.ErrNotRunning
	}
	return l.Write(p)
}

func (s *Service) Stats() link.Stats {
	if l := s.current.Load(); l != nil {
		return l.Stats()
	}
	return link.Stats{State: link.StateIdle.String()}
}
