package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache caches successful GET responses in memory. Mutating
// endpoints call Bust to drop stale entries, so a forced directory refresh
// is visible on the very next read.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache builds a cache with the given entry TTL.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		store: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Bust removes the cached response for a request URI, if any.
func (rc *ResponseCache) Bust(uri string) {
	rc.store.Delete(uri)
}

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type teeWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w teeWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w teeWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Handler serves GET requests from cache and records 2xx responses.
func (rc *ResponseCache) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if hit, found := rc.store.Get(key); found {
			cached := hit.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		tee := &teeWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = tee

		c.Next()

		if tee.Status() >= 200 && tee.Status() < 300 {
			rc.store.Set(key, cachedResponse{
				status:  tee.Status(),
				headers: tee.Header().Clone(),
				body:    tee.body.Bytes(),
			}, rc.ttl)
		}
	}
}
