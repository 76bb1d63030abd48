package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/identity"
	"github.com/streamspace/sealskin/internal/share"
)

type createShareRequest struct {
	Filename      string `json:"filename" binding:"required"`
	SizeBytes     int64  `json:"size_bytes"`
	Password      string `json:"password"`
	ExpirySeconds int64  `json:"expiry_seconds"`
}

// createShare implements PublicShare creation (§3, §6), gated by the
// public-sharing settings guard admins implicitly pass.
func (h *handlers) createShare(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no principal on request"})
		return
	}
	if err := identity.RequirePublicSharing(principal); err != nil {
		writeError(c, err)
		return
	}

	var body createShareRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed share request"})
		return
	}

	sh, err := h.b.Shares.Create(principal.User.Username, body.Filename, body.SizeBytes, body.Password, body.ExpirySeconds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"share_id":    sh.ShareID,
		"download_url": "/public/" + sh.ShareID,
	})
}

// deleteShare lets the owner (or an admin) revoke a share early.
func (h *handlers) deleteShare(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no principal on request"})
		return
	}
	shareID := c.Param("shareID")

	sh, found := h.b.Shares.Get(shareID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "share not found"})
		return
	}
	if sh.OwnerUsername != principal.User.Username && !principal.User.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your share"})
		return
	}
	if err := h.b.Shares.Delete(shareID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// shareDownload implements `GET /public/<share_id>` (§6): serves the file
// directly when unprotected, otherwise demands the password form.
func (h *handlers) shareDownload(c *gin.Context) {
	shareID := c.Param("shareID")
	sh, found := h.b.Shares.Get(shareID)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	if share.IsExpired(sh, time.Now()) {
		c.Status(http.StatusNotFound)
		return
	}
	if sh.PasswordHash != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password required", "share_id": shareID})
		return
	}
	c.FileAttachment(h.b.Shares.FilePath(shareID), sh.OriginalFilename)
}

// sharePasswordSubmit implements the password-protected download leg: on a
// correct password it mints a one-shot 60s download token and 303-redirects
// to it (§6); on mismatch, 401.
func (h *handlers) sharePasswordSubmit(c *gin.Context) {
	shareID := c.Param("shareID")
	sh, found := h.b.Shares.Get(shareID)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	if share.IsExpired(sh, time.Now()) {
		c.Status(http.StatusNotFound)
		return
	}
	password := c.PostForm("password")
	if !share.CheckPassword(sh, password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect password"})
		return
	}
	token, err := h.b.Shares.MintDownloadToken(shareID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/public/download/"+token)
}

// shareConsumeToken implements the one-shot download URL: the token is
// deleted on this call whether or not it is valid, so a replayed request
// always sees 403.
func (h *handlers) shareConsumeToken(c *gin.Context) {
	token := c.Param("token")
	shareID, ok := h.b.Shares.ConsumeDownloadToken(token)
	if !ok {
		c.Status(http.StatusForbidden)
		return
	}
	sh, found := h.b.Shares.Get(shareID)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.FileAttachment(h.b.Shares.FilePath(shareID), sh.OriginalFilename)
}
