package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TriggerSync handles the POST /api/sync request.
func (h *Handler) TriggerSync(c *gin.Context) {
	if err := h.session.Flush(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Flush failed, events remain queued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetOffline handles the POST /api/offline/reset request. This discards
// queued events and the open offline session without syncing them.
func (h *Handler) ResetOffline(c *gin.Context) {
	if err := h.session.ResetOffline(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset offline data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
