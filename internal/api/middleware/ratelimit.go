package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
)

// RateLimiter is a GCRA limiter kept in Redis, shared by every API instance.
// Requests per Window may arrive in one burst; after that they refill evenly.
type RateLimiter struct {
	limiter *redis_rate.Limiter
	prefix  string
	limit   redis_rate.Limit
}

func NewRateLimiter(client *redis.Client, cfg config.RateLimitConfig, prefix string) *RateLimiter {
	requests := cfg.Requests
	if requests <= 0 {
		requests = 10
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiter: redis_rate.NewLimiter(client),
		prefix:  prefix,
		limit:   redis_rate.Limit{Rate: requests, Burst: requests, Period: window},
	}
}

// Allow counts one hit for key and reports whether it is within the limit,
// plus how long a rejected client should wait.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+":"+key, l.limit)
	if err != nil {
		return true, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if res.Allowed > 0 {
		return true, 0, nil
	}
	return false, res.RetryAfter, nil
}

// RateLimit rejects clients over the limit with 429. Redis failures let the
// request through.
func RateLimit(l *RateLimiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			secs := int((retryAfter + time.Second - 1) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			response.Abort(c, response.CodeTooManyRequests, "")
			return
		}
		c.Next()
	}
}
