package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/response"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimit enforces a fixed-window limit of max requests per window for
// each client scope (or IP when no scope was resolved). Redis errors let the
// request through.
func RateLimit(rdb *redis.Client, max int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if rdb == nil || max <= 0 {
			c.Next()
			return
		}
		subject := c.GetString(ContextKeyScope)
		if subject == "" {
			subject = c.ClientIP()
		}
		if subject == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		now := time.Now()
		bucket := now.UnixNano() / int64(window)
		key := fmt.Sprintf("prism:rate_limit:%s:%d", subject, bucket)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Debug("rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, window+time.Second)
		}

		if count > int64(max) {
			reset := time.Unix(0, (bucket+1)*int64(window))
			response.TooManyRequests(c, "Too many requests. Please slow down.", reset.Sub(now), nil)
			return
		}
		c.Next()
	}
}
