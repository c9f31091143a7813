package middleware

import (
	"studysphere/internal/services"
	"studysphere/internal/transport/httpdto"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Internal failures are logged and masked.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		code := studysphere_errors.Code(err)
		msg := err.Error()
		if status >= 500 {
			if l != nil {
				l.Ctx(c.Request.Context()).Error("request failed",
					zap.String("path", c.FullPath()), zap.Error(err))
			}
			msg = "internal server error"
		}
		c.JSON(status, httpdto.NewErrorResponse(msg, code))
	}
}
