package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// gcThreshold is the map size at which idle client entries are swept.
const gcThreshold = 256

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps a token bucket per client IP. The agent API is
// normally loopback-only, but kiosk deployments expose it on the LAN, so
// entries are swept once the map grows past gcThreshold.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	b       int
}

// NewIPRateLimiter creates a limiter allowing r events per second with
// bursts of b.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*client),
		r:       r,
		b:       b,
	}
}

// Allow reports whether a request from ip may proceed now.
func (i *IPRateLimiter) Allow(ip string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	cl, ok := i.clients[ip]
	if !ok {
		if len(i.clients) >= gcThreshold {
			i.sweepLocked()
		}
		cl = &client{limiter: rate.NewLimiter(i.r, i.b)}
		i.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// sweepLocked drops clients idle for more than a minute. Callers hold i.mu.
func (i *IPRateLimiter) sweepLocked() {
	cutoff := time.Now().Add(-time.Minute)
	for ip, cl := range i.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(i.clients, ip)
		}
	}
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
