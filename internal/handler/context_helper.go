package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/middleware"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

// actorFromContext builds the acting student from JWT claims and the client address.
// It writes a 401 and returns false when no claims are present.
func actorFromContext(c *gin.Context) (service.Actor, bool) {
	claims, ok := middleware.Claims(c)
	if !ok || claims.StudentID() == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{StudentID: claims.StudentID(), IPAddress: c.ClientIP()}, true
}
