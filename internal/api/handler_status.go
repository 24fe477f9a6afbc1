package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus handles the GET /api/status request.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status(c.Request.Context()))
}
