package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded")

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Content-Length", "Accept", "Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	})
}

// clientLimiter keeps a token bucket per client IP.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*rate.Limiter)}
}

// Allow takes a token from ip's bucket. A nil limiter allows everything.
func (l *clientLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.clients[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.clients[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func rateLimit(l *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited.Error()})
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
