package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wifi-attendance-agent/internal/model"
	"wifi-attendance-agent/internal/timer"
)

// startTimerRequest optionally binds a lecture before starting. Callers
// that already bound one may post an empty body.
type startTimerRequest struct {
	Lecture *model.LectureSnapshot `json:"lecture"`
}

// StartTimer handles the POST /api/timer/start request.
func (h *Handler) StartTimer(c *gin.Context) {
	var req startTimerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.Lecture != nil {
		h.session.SetLecture(c.Request.Context(), req.Lecture)
	}

	if err := h.session.StartTimer(); err != nil {
		switch {
		case errors.Is(err, timer.ErrNoLecture):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No active lecture"})
		case errors.Is(err, timer.ErrNotAuthorized):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":  "Not connected to the authorized classroom WiFi",
				"reason": string(model.PauseWrongBSSID),
			})
		default:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "timer": h.session.Status(c.Request.Context()).Timer})
}

// StopTimer handles the POST /api/timer/stop request.
func (h *Handler) StopTimer(c *gin.Context) {
	seconds := h.session.StopTimer()
	c.JSON(http.StatusOK, gin.H{"success": true, "accumulatedSeconds": seconds})
}
