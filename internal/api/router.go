package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"wifi-attendance-agent/config"
	"wifi-attendance-agent/internal/mw"
	"wifi-attendance-agent/internal/session"
)

// NewRouter creates and configures the local agent router.
func NewRouter(cfg *config.Config, sess *session.Session) *gin.Engine {
	r := gin.Default()

	roomsCache := mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second)
	handler := NewHandler(sess, roomsCache)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Status is live state; caching it would hide the grace countdown.
		api.GET("/status", handler.GetStatus)

		api.GET("/rooms", roomsCache.Handler(), handler.GetRooms)
		api.POST("/rooms/refresh", handler.RefreshRooms)

		api.POST("/timer/start", handler.StartTimer)
		api.POST("/timer/stop", handler.StopTimer)

		api.POST("/sync", handler.TriggerSync)
		api.POST("/offline/reset", handler.ResetOffline)
	}

	return r
}
