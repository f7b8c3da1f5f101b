package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdle is how long a client's limiter survives without requests.
const DefaultLimiterIdle = 10 * time.Minute

// ClientLimiters hands out one token bucket per client IP. Buckets of clients
// that stay quiet for longer than the idle period are evicted.
type ClientLimiters struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
	idle     time.Duration
}

// NewClientLimiters creates limiters allowing r requests per second with burst b.
func NewClientLimiters(r rate.Limit, b int, idle time.Duration) *ClientLimiters {
	return &ClientLimiters{
		limiters: cache.New(idle, idle),
		r:        r,
		b:        b,
		idle:     idle,
	}
}

// For returns the limiter of ip, creating it on first use. Every call pushes
// the eviction deadline back by the idle period.
func (l *ClientLimiters) For(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
	}
	l.limiters.Set(ip, limiter, l.idle)
	return limiter.(*rate.Limiter)
}

// Len reports how many clients currently hold a limiter.
func (l *ClientLimiters) Len() int {
	l.limiters.DeleteExpired()
	return l.limiters.ItemCount()
}

// RateLimiter rejects clients that exceed r requests per second (burst b) with 429.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimiterWith(NewClientLimiters(r, b, DefaultLimiterIdle))
}

// RateLimiterWith is RateLimiter over a caller-owned set of limiters.
func RateLimiterWith(limiters *ClientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.For(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Too Many Requests"})
			return
		}
		c.Next()
	}
}
