package logger

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware logs one structured line per request, adapted from the
// teacher's api/internal/middleware/auditlog.go request/response timing
// shape but without that middleware's audit-trail persistence, which has
// no equivalent component in this spec.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		Log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
