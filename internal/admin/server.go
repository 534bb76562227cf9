// Package admin exposes a link over HTTP: health, readiness, metrics,
// status and a send endpoint for operators.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/linkstack/internal/link"
	"github.com/danmuck/linkstack/internal/logging"
	"github.com/danmuck/linkstack/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxSendBytes = 64 * 1024
	readHeaderTimeout   = 5 * time.Second
)

// Link is the part of *link.Link the admin surface drives.
type Link interface {
	ID() string
	State() link.State
	Write(p []byte) error
	Stats() link.Stats
}

type Server struct {
	ID           string
	Addr         string
	Appeared     time.Time
	MaxSendBytes int64

	link   Link
	router *gin.Engine
	srv    *http.Server
	logger zerolog.Logger
}

func Appear(id, addr string, corsOrigins []string, l Link) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:           id,
		Addr:         addr,
		Appeared:     time.Now(),
		MaxSendBytes: DefaultMaxSendBytes,
		link:         l,
		router:       r,
		logger:       logging.Component("admin").With().Str("service", id).Logger(),
	}
	r.Use(s.observe())
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.Addr).Msg("admin listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
