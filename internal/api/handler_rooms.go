package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wifi-attendance-agent/internal/authdir"
)

// roomsResponse is the cached view of the authorization directory.
type roomsResponse struct {
	Success       bool          `json:"success"`
	Rooms         []authdir.Room `json:"rooms"`
	LastRefreshed time.Time     `json:"lastRefreshed"`
}

// GetRooms handles the GET /api/rooms request.
func (h *Handler) GetRooms(c *gin.Context) {
	c.JSON(http.StatusOK, roomsResponse{
		Success:       true,
		Rooms:         h.session.Rooms(),
		LastRefreshed: h.session.DirectoryRefreshedAt(),
	})
}

// RefreshRooms handles the POST /api/rooms/refresh request. A successful
// refresh busts the cached rooms view so the next read sees it.
func (h *Handler) RefreshRooms(c *gin.Context) {
	if err := h.session.RefreshDirectory(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Directory refresh failed"})
		return
	}
	h.roomsCache.Bust("/api/rooms")
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": len(h.session.Rooms())})
}
