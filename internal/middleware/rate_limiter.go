package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const blockedKey = "ratelimit:blocked"

// RateLimiterConfig defines rate limiting rules
type RateLimiterConfig struct {
	MaxRequests int           // Maximum requests allowed in the window
	Window      time.Duration // Fixed window length
}

// RateLimiter counts requests per caller in Redis. Authenticated callers are
// keyed by user id so they keep their budget across addresses; everyone else
// by client IP.
type RateLimiter struct {
	redis  *redis.Client
	config RateLimiterConfig
}

func NewRateLimiter(redisClient *redis.Client, config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		config: config,
	}
}

func callerKey(c *gin.Context) string {
	if identity, ok := IdentityFrom(c); ok {
		return "user:" + strconv.FormatUint(uint64(identity.UserID), 10)
	}
	return "ip:" + c.ClientIP()
}

// Middleware returns a Gin middleware function for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := callerKey(c)

		if blocked, _ := rl.IsBlocked(ctx, key); blocked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access blocked",
			})
			return
		}

		allowed, retryAfter, err := rl.CheckLimit(ctx, key)
		if err != nil {
			// fail open: Redis trouble must not take the API down
			logger.Log.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": int(retryAfter.Seconds()),
			})
			return
		}

		c.Next()
	}
}

// CheckLimit increments the caller's counter for the current window.
// Returns: (allowed bool, retryAfter duration, error)
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}

	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.Window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > int64(rl.config.MaxRequests) {
		ttl, err := rl.redis.TTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = rl.config.Window
		}
		return false, ttl, nil
	}

	return true, 0, nil
}

// IsBlocked reports whether key ("ip:..." or "user:...") is on the block list.
func (rl *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, error) {
	return rl.redis.SIsMember(ctx, blockedKey, key).Result()
}

func (rl *RateLimiter) Block(ctx context.Context, key string) error {
	return rl.redis.SAdd(ctx, blockedKey, key).Err()
}

func (rl *RateLimiter) Unblock(ctx context.Context, key string) error {
	return rl.redis.SRem(ctx, blockedKey, key).Err()
}
