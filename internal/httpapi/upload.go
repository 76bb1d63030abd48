package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/identity"
)

type initiateUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	TotalChunks int    `json:"total_chunks" binding:"required"`
}

// initiateUpload implements §4.I's chunked-upload allocation step.
func (h *handlers) initiateUpload(c *gin.Context) {
	var body initiateUploadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed upload request"})
		return
	}
	uploadID, err := h.b.Storage.InitiateUpload(body.Filename, body.TotalChunks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID})
}

type uploadChunkRequest struct {
	Index int    `json:"index"`
	Data  string `json:"data" binding:"required"`
}

// uploadChunk implements §4.I's per-chunk write step.
func (h *handlers) uploadChunk(c *gin.Context) {
	uploadID := c.Param("uploadID")
	var body uploadChunkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed chunk request"})
		return
	}
	if err := h.b.Storage.WriteChunk(uploadID, body.Index, body.Data); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reassembleRequest struct {
	TotalChunks int    `json:"total_chunks" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
}

// reassembleUpload implements §4.I's final reassembly step, placing the
// finished file under the caller's shared-files sidecar directory.
func (h *handlers) reassembleUpload(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no principal on request"})
		return
	}
	uploadID := c.Param("uploadID")
	var body reassembleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed reassemble request"})
		return
	}
	destDir := h.b.Storage.SharedFilesPath(principal.User.Username)
	finalPath, err := h.b.Storage.Reassemble(uploadID, body.TotalChunks, destDir, body.Filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": finalPath})
}
