package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// BearerToken reads the token from the Authorization header, falling back to
// the "token" query parameter for websocket clients that cannot set headers.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

func JWTAuth(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "missing bearer token",
			})
			return
		}

		id, err := v.Verify(raw)
		if err != nil {
			status := utils.HTTPStatus(err)
			c.AbortWithStatusJSON(status, apiError{
				Code:    utils.CodeUnauthorized,
				Message: "invalid token",
			})
			return
		}

		c.Set("user_id", id.UserID)
		c.Set("role", id.Role)
		c.Next()
	}
}
