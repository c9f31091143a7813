package handler

import (
	"net/http"

	"studysphere/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// fail hands err to the error middleware, which maps it to a status and
// code.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "INVALID_REQUEST"))
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
}
