package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servcy/inboxstack/internal/utils"
)

// UserIdMiddleware extracts the caller identity from the request headers and
// stores it on the request context. Requests without an identity are rejected;
// every /v1 operation is scoped to a user.
func UserIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := ""
		for _, header := range utils.UserIdHeaders {
			if value := c.GetHeader(header); value != "" {
				userId = value
				break
			}
		}

		if userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing user id",
			})
			c.Abort()
			return
		}

		c.Set("UserId", userId)
		c.Request = c.Request.WithContext(utils.WithUserID(c.Request.Context(), userId))
		c.Next()
	}
}
