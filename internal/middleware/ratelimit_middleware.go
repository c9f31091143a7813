package middleware

import (
	"context"
	"net/http"
	"strconv"

	"studysphere/internal/redis"
	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type limitFunc func(ctx context.Context, userID string) (*redis.RateLimitResult, error)

// MessageRateLimitMiddleware limits sends per user. Apply after
// AuthMiddleware.
func MessageRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return userLimit(limiter.AllowMessage, "message rate limit exceeded")
}

// WebSocketRateLimitMiddleware limits how often a user may open sessions.
func WebSocketRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return userLimit(limiter.AllowWebSocket, "connection rate limit exceeded")
}

func userLimit(allow limitFunc, exceeded string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := allow(c.Request.Context(), userID.String())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(exceeded, "RATE_LIMITED"))
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
