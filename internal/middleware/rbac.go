package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/staff-transfer-api/internal/models"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
	"github.com/noah-isme/staff-transfer-api/pkg/response"
)

// RequireRoles enforces role-based access control for routes. Scope checks
// against offices, zones and districts happen in the service layer.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.WithDetails(appErrors.Clone(appErrors.ErrForbidden, "role not permitted"), map[string]interface{}{"role": claims.Role}))
		c.Abort()
	}
}
