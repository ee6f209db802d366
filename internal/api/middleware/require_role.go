package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/callguard/internal/utils"
)

const RoleAdmin = "admin"

// RequireRole must run after JWTAuth, which puts the verified role on the context.
func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			allow[a] = true
		}
	}

	return func(c *gin.Context) {
		role := strings.ToLower(c.GetString("role"))
		if !allow[role] {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "role " + strconv.Quote(role) + " may not access this route",
			})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(RoleAdmin) }
