package admin

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/linkstack/internal/link"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.link.State()
		status := http.StatusOK
		if state != link.StateRunning {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   state == link.StateRunning,
			"state":   state.String(),
			"service": s.ID,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": s.ID,
			"uptime":  time.Since(s.Appeared).String(),
			"link":    s.link.Stats(),
		})
	})

	s.router.POST("/send", s.handleSend)
}

func (s *Server) handleSend(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.MaxSendBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if int64(len(body)) > s.MaxSendBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large", "limit": s.MaxSendBytes})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	c.Set(sendBytesKey, len(body))
	if err := s.link.Write(body); err != nil {
		c.JSON(sendStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Set(sendQueuedKey, true)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "bytes": len(body)})
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, link.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, link.ErrOutboxBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, link.ErrOutboxFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
