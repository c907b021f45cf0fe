package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

type courseCatalog interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetSection(ctx context.Context, id string) (*models.Section, error)
	ListSections(ctx context.Context, courseID string) ([]models.Section, error)
}

type enrollmentReader interface {
	FindOpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	SectionRoster(ctx context.Context, sectionID string) ([]models.Enrollment, error)
	SectionWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
}

type recordBuilder interface {
	Build(ctx context.Context, studentID string) (models.AcademicRecord, error)
}

// Actor identifies who triggered an operation and from where.
type Actor struct {
	StudentID string
	IPAddress string
}

// EnrollRequest asks for a seat in a course, optionally in a specific primary section.
type EnrollRequest struct {
	CourseID  string `json:"course_id" validate:"required"`
	SectionID string `json:"section_id"`
}

// DropRequest asks to leave a course.
type DropRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// EnrollmentResult describes where an enrollment request landed.
type EnrollmentResult struct {
	Status           models.EnrollmentStatus `json:"status"`
	EnrollmentID     string                  `json:"enrollment_id"`
	CourseID         string                  `json:"course_id"`
	SectionID        string                  `json:"section_id"`
	WaitlistPosition int                     `json:"waitlist_position,omitempty"`
	OverflowSection  bool                    `json:"overflow_section,omitempty"`
}

// DropResult describes a completed drop.
type DropResult struct {
	Status            models.EnrollmentStatus `json:"status"`
	CourseID          string                  `json:"course_id"`
	SectionID         string                  `json:"section_id"`
	PromotedStudentID string                  `json:"promoted_student_id,omitempty"`
}

// EnrollmentService runs the enrollment pipeline: period gate, eligibility, then seat claim.
type EnrollmentService struct {
	catalog     courseCatalog
	enrollments enrollmentReader
	records     recordBuilder
	gate        *PeriodGate
	eligibility *EligibilityValidator
	capacity    *CapacityManager
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(catalog courseCatalog, enrollments enrollmentReader, records recordBuilder, gate *PeriodGate, eligibility *EligibilityValidator, capacity *CapacityManager, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		catalog:     catalog,
		enrollments: enrollments,
		records:     records,
		gate:        gate,
		eligibility: eligibility,
		capacity:    capacity,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enroll runs the full pipeline for one course.
func (s *EnrollmentService) Enroll(ctx context.Context, actor Actor, req EnrollRequest) (*EnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	result, err := s.enroll(ctx, actor, req)
	if err != nil {
		s.metrics.RecordEnrollmentOutcome(strings.ToLower(appErrors.FromError(err).Code))
		return nil, err
	}
	s.metrics.RecordEnrollmentOutcome(strings.ToLower(string(result.Status)))
	return result, nil
}

func (s *EnrollmentService) enroll(ctx context.Context, actor Actor, req EnrollRequest) (*EnrollmentResult, error) {
	record, err := s.records.Build(ctx, actor.StudentID)
	if err != nil {
		return nil, err
	}
	course, err := s.course(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	section, err := s.resolveSection(ctx, course, req.SectionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gate.Evaluate(ctx, record, course.Category, s.now()); err != nil {
		return nil, err
	}

	verdict := s.eligibility.Check(record, *course, *section)
	if !verdict.Eligible {
		s.logger.Info("enrollment rejected",
			zap.String("student_id", actor.StudentID),
			zap.String("course_id", course.ID),
			zap.String("reason", string(verdict.Reason)),
		)
		return nil, verdict.Err()
	}

	seat, err := s.capacity.RequestSeat(ctx, SeatRequest{
		StudentID: actor.StudentID,
		ActorID:   actor.StudentID,
		IPAddress: actor.IPAddress,
		Course:    *course,
		Section:   *section,
	})
	if err != nil {
		return nil, err
	}

	return &EnrollmentResult{
		Status:           seat.Status,
		EnrollmentID:     seat.Enrollment.ID,
		CourseID:         course.ID,
		SectionID:        seat.Section.ID,
		WaitlistPosition: seat.WaitlistPosition,
		OverflowSection:  seat.Section.IsOverflow,
	}, nil
}

// Drop releases the student's open enrollment in a course. Drops are allowed outside
// registration periods.
func (s *EnrollmentService) Drop(ctx context.Context, actor Actor, req DropRequest) (*DropResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	course, err := s.course(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enrollments.FindOpenEnrollment(ctx, actor.StudentID, course.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotEnrolled
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	released, err := s.capacity.ReleaseSeat(ctx, *enrollment, *course, actor.StudentID, actor.IPAddress)
	if err != nil {
		return nil, err
	}

	result := &DropResult{
		Status:    models.EnrollmentStatusDropped,
		CourseID:  course.ID,
		SectionID: released.Dropped.SectionID,
	}
	if released.Promoted != nil {
		result.PromotedStudentID = released.Promoted.StudentID
		s.logger.Info("waitlist promotion",
			zap.String("student_id", released.Promoted.StudentID),
			zap.String("section_id", released.Promoted.SectionID),
		)
	}
	return result, nil
}

// ListMine returns every enrollment the student holds, including dropped ones.
func (s *EnrollmentService) ListMine(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	details, err := s.enrollments.ListStudentEnrollments(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return details, nil
}

// Roster lists the active enrollments of a section.
func (s *EnrollmentService) Roster(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	if _, err := s.section(ctx, sectionID); err != nil {
		return nil, err
	}
	roster, err := s.enrollments.SectionRoster(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// Waitlist lists a section's waitlist in promotion order.
func (s *EnrollmentService) Waitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	if _, err := s.section(ctx, sectionID); err != nil {
		return nil, err
	}
	entries, err := s.enrollments.SectionWaitlist(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist")
	}
	return entries, nil
}

func (s *EnrollmentService) course(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.catalog.GetCourse(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *EnrollmentService) section(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.catalog.GetSection(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

// resolveSection picks the requested primary section, or the course's first primary
// section when none was named. Overflow sections are never targeted directly.
func (s *EnrollmentService) resolveSection(ctx context.Context, course *models.Course, sectionID string) (*models.Section, error) {
	if sectionID != "" {
		section, err := s.section(ctx, sectionID)
		if err != nil {
			return nil, err
		}
		if section.CourseID != course.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "section does not belong to course")
		}
		if section.IsOverflow {
			return nil, appErrors.Clone(appErrors.ErrValidation, "overflow sections are assigned automatically")
		}
		return section, nil
	}

	sections, err := s.catalog.ListSections(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sections")
	}
	for i := range sections {
		if !sections[i].IsOverflow {
			return &sections[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "course has no sections")
}
