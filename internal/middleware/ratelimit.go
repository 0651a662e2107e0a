package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/pkg/response"
)

const rateLimitTimeout = 500 * time.Millisecond

// RateLimiter counts requests per user in fixed windows kept in Redis. A nil
// limiter or Redis client disables limiting, and Redis errors let requests through.
type RateLimiter struct {
	redis *redis.Client
	log   *logger.Logger
	now   func() time.Time
}

func NewRateLimiter(redisClient *redis.Client, log *logger.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, log: log, now: time.Now}
}

func (rl *RateLimiter) enabled() bool {
	return rl != nil && rl.redis != nil
}

// Limit allows maxRequests per user and scope within each window. maxRequests <= 0
// means unlimited.
func (rl *RateLimiter) Limit(scope string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 || !rl.enabled() {
			return c.Next()
		}

		now := rl.now()
		start := now.Truncate(window)
		key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, userID, start.Unix())

		count, err := rl.hit(c.UserContext(), key, window)
		if err != nil {
			rl.log.Warn("rate limiter unavailable", "scope", scope, "error", err)
			return c.Next()
		}

		remaining := maxRequests - int(count)
		if remaining < 0 {
			retryAfter := int(start.Add(window).Sub(now).Seconds()) + 1
			rl.log.Debug("rate limit exceeded", "scope", scope, "user_id", userID)
			return response.RateLimited(c, retryAfter)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		return c.Next()
	}
}

// hit increments the window counter and keeps it alive for one window
func (rl *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	var incr *redis.IntCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// JobLimit limits job starts of one kind per hour
func (rl *RateLimiter) JobLimit(kind string, maxPerHour int) fiber.Handler {
	return rl.Limit("jobs:"+kind, maxPerHour, time.Hour)
}

// UploadLimit limits direct image uploads per hour
func (rl *RateLimiter) UploadLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("upload", maxPerHour, time.Hour)
}

// SafetyLimit limits garment safety checks per minute
func (rl *RateLimiter) SafetyLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("safety", maxPerMin, time.Minute)
}
