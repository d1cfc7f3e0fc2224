package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the API key on every authenticated request.
const APIKeyHeader = "X-API-Key"

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIKeyAuth rejects requests whose X-API-Key header does not match one of
// apiKeys. With no keys configured every request passes.
func APIKeyAuth(apiKeys []string, logger *slog.Logger) gin.HandlerFunc {
	if len(apiKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			logger.Warn("API authentication failed: missing API key",
				"client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "API key is required in the " + APIKeyHeader + " header",
			})
			return
		}

		for _, key := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1 {
				c.Next()
				return
			}
		}

		logger.Warn("API authentication failed: invalid API key",
			"client_ip", c.ClientIP(), "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid API key",
		})
	}
}
