package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handshakeInitiate implements §4.C's stateless first leg.
func (h *handlers) handshakeInitiate(c *gin.Context) {
	nonce, sig, err := h.b.Crypto.HandshakeInitiate()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nonce":     base64.StdEncoding.EncodeToString(nonce),
		"signature": base64.StdEncoding.EncodeToString(sig),
	})
}

type handshakeExchangeRequest struct {
	EncryptedSessionKey string `json:"encrypted_session_key" binding:"required"`
}

// handshakeExchange implements §4.C's second leg.
func (h *handlers) handshakeExchange(c *gin.Context) {
	var req handshakeExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed handshake request"})
		return
	}
	wrapped, err := base64.StdEncoding.DecodeString(req.EncryptedSessionKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid encrypted_session_key encoding"})
		return
	}
	sessionID, err := h.b.Crypto.HandshakeExchange(wrapped)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}
