package admin

import (
	"time"

	"github.com/danmuck/linkstack/internal/observability"
	"github.com/gin-gonic/gin"
)

// Context keys handleSend sets for observe.
const (
	sendBytesKey  = "admin.send_bytes"
	sendQueuedKey = "admin.send_queued"
)

// observe logs and meters each request against the link it drives. Server
// errors log at error, client errors at warn, the rest at debug.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(s.ID, c.Request.Method, path, status, elapsed)

		event := s.logger.Debug()
		switch {
		case status >= 500:
			event = s.logger.Error()
		case status >= 400:
			event = s.logger.Warn()
		}
		event = event.
			Str("link", s.link.ID()).
			Str("link_state", s.link.State().String()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed)

		if n := c.GetInt(sendBytesKey); n > 0 {
			queued := c.GetBool(sendQueuedKey)
			observability.RecordAdminSend(s.ID, n, queued)
			event = event.Int("send_bytes", n).Bool("queued", queued)
		}
		event.Msg("admin request")
	}
}
