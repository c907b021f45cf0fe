package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
	"github.com/noah-isme/krs-enrollment-api/pkg/logger"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

// ContextStudentKey is the gin context key storing JWT claims.
const ContextStudentKey = "currentStudent"

type tokenValidator interface {
	ValidateToken(token string) (*models.StudentClaims, error)
}

// JWT protects routes by requiring a valid bearer token whose subject is the student id.
func JWT(tokens tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextStudentKey, claims)
		c.Set(logger.StudentIDKey, claims.StudentID())
		c.Next()
	}
}

// Claims returns the authenticated student's claims, if any.
func Claims(c *gin.Context) (*models.StudentClaims, bool) {
	value, ok := c.Get(ContextStudentKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.StudentClaims)
	return claims, ok && claims != nil
}
