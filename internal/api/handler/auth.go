package handler

import (
	"net/http"
	"pairchat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// RequireUser validates the bearer token and stores the user id on the
// gin context for the handlers behind it.
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := auth.BearerToken(c.GetHeader("Authorization"))
		if !found {
			fail(c, http.StatusUnauthorized, "authorization token missing")
			return
		}

		userID, err := h.Validator.Validate(token)
		if err != nil {
			h.Log.Debug("Rejected bearer token", "err", err)
			fail(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}
