package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

// RequireRoles admits only callers whose token carries one of roles.
// Subject-level permissions are still checked by the workflow service.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := c.Value(ContextUserKey).(*models.JWTClaims)
		if !ok || claims == nil {
			abortWith(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			abortWith(c, appErrors.ErrForbidden.WithDetail("role", string(claims.Role)))
			return
		}
		c.Next()
	}
}
