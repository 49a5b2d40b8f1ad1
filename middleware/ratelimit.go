package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/utils"
)

// RateLimitMiddleware limits requests per IP + endpoint using a Redis
// counter with a sliding window. Fails open when Redis is down.
func RateLimitMiddleware(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	window := time.Duration(cfg.RateLimitWindow) * time.Second

	return func(c *gin.Context) {
		if c.FullPath() == "/health" || c.FullPath() == "/ready" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(cfg.RateLimitReqs) {
			c.Header("Retry-After", strconv.Itoa(cfg.RateLimitWindow))
			utils.RespondWithError(c, http.StatusTooManyRequests, "rate_limited",
				"Too many requests, slow down", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
