package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
	"github.com/noah-isme/mobile-auth-api/pkg/response"
)

// ContextClaimsKey is the gin context key storing access token claims.
const ContextClaimsKey = "accessClaims"

type accessValidator interface {
	ValidateAccess(token string) (*models.AccessClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator accessValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateAccess(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// IdentityID returns the authenticated identity, or "" outside protected routes.
func IdentityID(c *gin.Context) string {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return ""
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return ""
	}
	return claims.Subject
}
