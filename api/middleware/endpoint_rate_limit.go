package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's limiter may sit unused before pruning.
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EndpointRateLimiter throttles selected operator endpoints per client IP.
// It guards the control surface only; the request path is paced by
// admission.
type EndpointRateLimiter struct {
	limits  map[string]rate.Limit
	bursts  map[string]int
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

func NewEndpointRateLimiter() *EndpointRateLimiter {
	return &EndpointRateLimiter{
		limits:  make(map[string]rate.Limit),
		bursts:  make(map[string]int),
		clients: make(map[string]*clientLimiter),
	}
}

// AddEndpoint allows limit requests per window on path, per client.
func (erl *EndpointRateLimiter) AddEndpoint(path string, limit int, window time.Duration) {
	erl.mu.Lock()
	defer erl.mu.Unlock()
	erl.limits[path] = rate.Limit(float64(limit) / window.Seconds())
	erl.bursts[path] = limit
}

func (erl *EndpointRateLimiter) allow(path, key string, now time.Time) (bool, bool) {
	erl.mu.Lock()
	defer erl.mu.Unlock()

	limit, ok := erl.limits[path]
	if !ok {
		return true, false
	}

	for k, cl := range erl.clients {
		if now.Sub(cl.lastSeen) > limiterIdle {
			delete(erl.clients, k)
		}
	}

	id := path + "|" + key
	cl, ok := erl.clients[id]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(limit, erl.bursts[path])}
		erl.clients[id] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1), true
}

func (erl *EndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, limited := erl.allow(c.FullPath(), c.ClientIP(), time.Now())
		if limited && !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded for this endpoint",
			})
			return
		}

		c.Next()
	}
}
