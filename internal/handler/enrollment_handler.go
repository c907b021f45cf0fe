package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, actor service.Actor, req service.EnrollRequest) (*service.EnrollmentResult, error)
	Drop(ctx context.Context, actor service.Actor, req service.DropRequest) (*service.DropResult, error)
	ListMine(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

// EnrollmentHandler exposes enrollment endpoints for the authenticated student.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll in a course
// @Description Runs the period gate, eligibility checks and seat claim. Full sections fall back to an overflow section or the waitlist.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.Enroll(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Drop godoc
// @Summary Drop a course
// @Description Releases the student's active or waitlisted enrollment and promotes the next eligible waitlisted student.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.DropRequest true "Drop payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.Drop(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ListMine godoc
// @Summary List my enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollments, err := h.enrollments.ListMine(c.Request.Context(), actor.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if enrollments == nil {
		enrollments = []models.EnrollmentDetail{}
	}
	response.JSON(c, http.StatusOK, enrollments)
}
