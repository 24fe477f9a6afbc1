package api

import (
	"wifi-attendance-agent/internal/mw"
	"wifi-attendance-agent/internal/session"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	session    *session.Session
	roomsCache *mw.ResponseCache
}

// NewHandler creates a new API handler.
func NewHandler(sess *session.Session, roomsCache *mw.ResponseCache) *Handler {
	return &Handler{
		session:    sess,
		roomsCache: roomsCache,
	}
}
