// Package handler exposes the messaging core over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"teamchat/internal/apperror"
)

func respond(c *gin.Context, status int, body any, message string) {
	c.JSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   body,
		"IsSuccess":      status < http.StatusBadRequest,
		"Message":        message,
	})
}

// respondError maps the service error taxonomy onto HTTP statuses. Internal
// and unmatched errors become an opaque 500; the detail stays server-side.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, apperror.ErrInternal):
	case errors.Is(err, apperror.ErrInvalidArgument):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
		message = err.Error()
	}

	respond(c, status, nil, message)
}

func queryInt(c *gin.Context, key string, fallback int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
