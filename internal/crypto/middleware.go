package crypto

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/broker"
)

const sessionHeader = "X-Session-ID"

// bufferedWriter captures the handler's response body so DecryptMiddleware
// can re-encrypt it before it reaches the wire.
type bufferedWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// DecryptMiddleware decrypts the request body using the CryptoSession named
// by X-Session-ID, and replaces c.Request.Body with the plaintext. It also
// swaps the ResponseWriter for a buffering one so it can seal the handler's
// JSON output itself after the handler returns.
func DecryptMiddleware(ch *Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader(sessionHeader)
		if sid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing X-Session-ID header"})
			return
		}
		session, ok := ch.Get(sid)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown session id"})
			return
		}

		if c.Request.ContentLength != 0 {
			raw, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
				return
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
				return
			}
			plaintext, err := Decrypt(session, env)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "decryption failed"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(plaintext))
			c.Request.ContentLength = int64(len(plaintext))
		}

		c.Set("crypto_session", session)

		bw := &bufferedWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = bw
		c.Next()

		body := bw.buf.Bytes()
		if len(body) == 0 {
			return
		}
		if !json.Valid(body) {
			bw.ResponseWriter.Write(body)
			return
		}
		env, err := Encrypt(session, body)
		if err != nil {
			bw.ResponseWriter.WriteHeader(http.StatusInternalServerError)
			return
		}
		out, _ := json.Marshal(env)
		bw.ResponseWriter.Write(out)
	}
}

// SessionFromContext retrieves the CryptoSession stashed by DecryptMiddleware.
func SessionFromContext(c *gin.Context) (*Session, error) {
	v, ok := c.Get("crypto_session")
	if !ok {
		return nil, broker.Unauthorized("no crypto session on request")
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, broker.Internal("crypto session of wrong type", nil)
	}
	return s, nil
}
