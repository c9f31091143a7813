package middleware

import (
	"context"
	"net/http"
	"strings"

	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"
	"studysphere/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ContextUserID = "user_id"

type tokenAuthenticator interface {
	Authenticate(token string) (uuid.UUID, error)
}

// AuthMiddleware accepts a bearer token, or a token query parameter on
// websocket upgrades where browsers cannot set headers.
func AuthMiddleware(auth tokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" && isUpgrade(c) {
			token = c.Query("token")
		}

		userID, err := auth.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID)
		ctx = context.WithValue(ctx, logger.UserIdKey, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
