package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SecretGuard rejects trigger requests that do not carry the shared secret,
// either as a bearer token or in the X-Trigger-Secret header. An empty
// secret disables the check.
type SecretGuard struct{ secret []byte }

// NewSecretGuard creates a guard for the given secret.
func NewSecretGuard(secret string) *SecretGuard { return &SecretGuard{secret: []byte(secret)} }

// IsAllowed reports whether the presented secret matches.
func (g *SecretGuard) IsAllowed(presented string) bool {
	if len(g.secret) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), g.secret) == 1
}

// Middleware aborts requests without a valid secret.
func (g *SecretGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Trigger-Secret")
		if presented == "" {
			presented = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if !g.IsAllowed(presented) {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid trigger secret")
			return
		}
		c.Next()
	}
}

// RateLimiter restricts request frequency per client address.
type RateLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
	rate time.Duration
	now  func() time.Time
}

// NewRateLimiter creates a limiter allowing one request per rate.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[string]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if the client hits the limit.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if t, ok := r.last[client]; ok && now.Sub(t) < r.rate {
		return false
	}
	r.last[client] = now
	return true
}

// Middleware checks rate limit before calling next handler.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.rate > 0 && !r.Allow(c.ClientIP()) {
			abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		lvl := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			lvl = slog.LevelWarn
		}
		log.LogAttrs(c.Request.Context(), lvl, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
