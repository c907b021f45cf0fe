package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

type sectionService interface {
	Roster(ctx context.Context, sectionID string) ([]models.Enrollment, error)
	Waitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
}

// SectionHandler exposes section rosters and waitlists.
type SectionHandler struct {
	sections sectionService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService) *SectionHandler {
	return &SectionHandler{sections: sections}
}

// Roster godoc
// @Summary Section roster
// @Tags Sections
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/roster [get]
func (h *SectionHandler) Roster(c *gin.Context) {
	roster, err := h.sections.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if roster == nil {
		roster = []models.Enrollment{}
	}
	response.List(c, roster, len(roster))
}

// Waitlist godoc
// @Summary Section waitlist
// @Description Lists waitlisted students in promotion order with 1-based positions.
// @Tags Sections
// @Produce json
// @Security BearerAuth
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/waitlist [get]
func (h *SectionHandler) Waitlist(c *gin.Context) {
	entries, err := h.sections.Waitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []models.WaitlistEntry{}
	}
	response.List(c, entries, len(entries))
}
