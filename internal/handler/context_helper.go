package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/staff-transfer-api/internal/middleware"
	"github.com/noah-isme/staff-transfer-api/internal/models"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, key+" must be a non-negative integer"), map[string]interface{}{"field": key})
	}
	return value, nil
}
