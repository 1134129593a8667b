package middleware

import (
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMinute per client with the given burst
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(requestsPerMinute, 1)
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Reserve takes a token for clientID. It returns 0 when the request may
// proceed, otherwise how long the client should wait.
func (rl *RateLimiter) Reserve(clientID string) time.Duration {
	now := rl.now()

	rl.mu.Lock()
	cl, ok := rl.limiters[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[clientID] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	r := cl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		// the request is rejected, so give the token back
		r.CancelAt(now)
	}
	return delay
}

// Prune drops limiters idle for longer than the idle TTL
func (rl *RateLimiter) Prune() int {
	cutoff := rl.now().Add(-rl.idleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for id, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}
	return removed
}

// RateLimit rejects clients over budget with a rate-limited error
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if delay := rl.Reserve(c.ClientIP()); delay > 0 {
			secs := int(math.Ceil(delay.Seconds()))
			WriteError(c, domain.NewRateLimitError(max(secs, 1)))
			return
		}
		c.Next()
	}
}
