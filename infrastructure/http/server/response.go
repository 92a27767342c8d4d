package server

import (
	"market-chat/errors"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Message string `json:"message"`
}

type dataResponse[T any] struct {
	Data T `json:"data"`
}

// abortWithError answers with the status of err in the error taxonomy and a
// message safe to show to clients.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(errors.MapToHTTPStatus(err), errorResponse{Message: errors.PublicMessage(err)})
}
