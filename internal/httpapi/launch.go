package httpapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/identity"
	"github.com/streamspace/sealskin/internal/launch"
)

// launchMaxAttempts and launchAttemptWindow bound repeated launch attempts
// by the same username, mirroring the teacher's DefaultMaxAttempts /
// DefaultRateLimitWindow pairing.
const (
	launchMaxAttempts   = 5
	launchAttemptWindow = time.Minute
)

type launchFileRequest struct {
	Filename     string `json:"filename"`
	DataB64      string `json:"data"`
	OpenOnLaunch bool   `json:"open_on_launch"`
}

type launchRequest struct {
	ApplicationID string             `json:"application_id" binding:"required"`
	HomeName      string             `json:"home_name"`
	ExtraEnv      map[string]string  `json:"env"`
	Language      string             `json:"language"`
	SelectedGPU   string             `json:"gpu"`
	File          *launchFileRequest `json:"file"`
}

// launch implements §4.K's Launch operation over the decrypted wire body.
func (h *handlers) launch(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no principal on request"})
		return
	}

	if !h.b.LaunchLimiter.Allow(principal.User.Username, launchMaxAttempts, launchAttemptWindow) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many launch attempts, slow down"})
		return
	}

	var body launchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed launch request"})
		return
	}

	req := launch.Request{
		Username:          principal.User.Username,
		EffectiveSettings: principal.Settings,
		ApplicationID:     body.ApplicationID,
		HomeName:          body.HomeName,
		ExtraEnv:          body.ExtraEnv,
		Language:          body.Language,
		SelectedGPU:       body.SelectedGPU,
	}
	if body.File != nil {
		data, err := base64.StdEncoding.DecodeString(body.File.DataB64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file data encoding"})
			return
		}
		req.File = &launch.FilePayload{
			Bytes:        data,
			Filename:     body.File.Filename,
			OpenOnLaunch: body.File.OpenOnLaunch,
		}
	}

	result, err := h.b.Launch.Launch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":  result.SessionID,
		"session_url": result.SessionURL,
	})
}

// stopSession implements §4.K's Stop operation. The session's owner or any
// admin may stop it; anyone else gets 403.
func (h *handlers) stopSession(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no principal on request"})
		return
	}
	sessionID := c.Param("sessionID")

	sess, found := h.b.Store.Get(sessionID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.Username != principal.User.Username && !principal.User.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return
	}

	if err := h.b.Launch.Stop(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
