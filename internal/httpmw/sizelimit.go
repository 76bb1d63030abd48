// Package httpmw collects small gin middleware shared by both routers,
// adapted from the teacher's api/internal/middleware package.
package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request body size ceilings, carried over from the teacher's
// middleware.RequestSizeLimiter: a general default for JSON control-plane
// bodies and a larger one for chunked upload bodies.
const (
	MaxRequestBodySize int64 = 10 * 1024 * 1024
	MaxUploadChunkSize int64 = 50 * 1024 * 1024
)

// SizeLimiter rejects any non-GET/HEAD/OPTIONS request whose Content-Length
// exceeds maxSize and wraps the body in http.MaxBytesReader so a lying or
// absent Content-Length can't bypass the check either.
func SizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":       "request entity too large",
				"max_size_mb": float64(maxSize) / (1024 * 1024),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
