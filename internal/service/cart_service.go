package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

type cartRepository interface {
	ListCart(ctx context.Context, studentID string) ([]models.CartEntry, error)
	AddCartEntry(ctx context.Context, entry *models.CartEntry, maxItems int) error
	RemoveCartEntry(ctx context.Context, studentID, courseID string) (bool, error)
	ClearCart(ctx context.Context, studentID string) (int, error)
}

type enroller interface {
	Enroll(ctx context.Context, actor Actor, req EnrollRequest) (*EnrollmentResult, error)
}

// CheckoutStatusRejected marks a cart item the pipeline refused.
const CheckoutStatusRejected = "REJECTED"

// AddCartItemRequest adds a course to the cart.
type AddCartItemRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// CheckoutOutcome is the pipeline result for one cart item.
type CheckoutOutcome struct {
	CourseID         string `json:"course_id"`
	Status           string `json:"status"`
	SectionID        string `json:"section_id,omitempty"`
	EnrollmentID     string `json:"enrollment_id,omitempty"`
	WaitlistPosition int    `json:"waitlist_position,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Message          string `json:"message,omitempty"`
}

// CheckoutResult lists per-item outcomes and the resulting credit load.
type CheckoutResult struct {
	Outcomes []CheckoutOutcome `json:"outcomes"`
	Load     *LoadSummary      `json:"load,omitempty"`
}

// CartService manages the pre-registration cart. The cart never reserves seats.
type CartService struct {
	carts       cartRepository
	catalog     courseCatalog
	enrollments enroller
	records     recordBuilder
	eligibility *EligibilityValidator
	audit       auditRecorder
	maxItems    int
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewCartService constructs CartService. maxItems <= 0 leaves the cart unbounded.
func NewCartService(carts cartRepository, catalog courseCatalog, enrollments enroller, records recordBuilder, eligibility *EligibilityValidator, audit auditRecorder, maxItems int, validate *validator.Validate, logger *zap.Logger) *CartService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = noopAudit{}
	}
	return &CartService{
		carts:       carts,
		catalog:     catalog,
		enrollments: enrollments,
		records:     records,
		eligibility: eligibility,
		audit:       audit,
		maxItems:    maxItems,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List returns the cart joined with course details, in insertion order.
func (s *CartService) List(ctx context.Context, studentID string) ([]models.CartItem, error) {
	entries, err := s.carts.ListCart(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cart")
	}
	items := make([]models.CartItem, 0, len(entries))
	for _, entry := range entries {
		item := models.CartItem{CourseID: entry.CourseID, AddedAt: entry.AddedAt}
		course, err := s.catalog.GetCourse(ctx, entry.CourseID)
		if err == nil {
			item.CourseCode = course.Code
			item.CourseTitle = course.Title
			item.Credits = course.Credits
		} else {
			s.logger.Warn("cart references unknown course", zap.String("course_id", entry.CourseID), zap.Error(err))
		}
		items = append(items, item)
	}
	return items, nil
}

// Add puts a course in the cart.
func (s *CartService) Add(ctx context.Context, actor Actor, req AddCartItemRequest) (*models.CartItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	course, err := s.catalog.GetCourse(ctx, req.CourseID)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}

	entry := models.CartEntry{StudentID: actor.StudentID, CourseID: course.ID, AddedAt: s.now()}
	if err := s.carts.AddCartEntry(ctx, &entry, s.maxItems); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateCartEntry):
			return nil, appErrors.ErrAlreadyInCart
		case errors.Is(err, repository.ErrCartFull):
			return nil, appErrors.ErrCartFull
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add cart item")
	}

	s.audit.Record(ctx, models.AuditRecord{
		ActorID:    actor.StudentID,
		Action:     models.AuditActionCartAdd,
		Resource:   models.AuditResourceCart,
		ResourceID: actor.StudentID,
		StudentID:  actor.StudentID,
		CourseID:   course.ID,
		IPAddress:  actor.IPAddress,
	})

	return &models.CartItem{
		CourseID:    course.ID,
		CourseCode:  course.Code,
		CourseTitle: course.Title,
		Credits:     course.Credits,
		AddedAt:     entry.AddedAt,
	}, nil
}

// Remove takes a course out of the cart.
func (s *CartService) Remove(ctx context.Context, actor Actor, courseID string) error {
	removed, err := s.carts.RemoveCartEntry(ctx, actor.StudentID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove cart item")
	}
	if !removed {
		return appErrors.ErrNotInCart
	}
	s.audit.Record(ctx, models.AuditRecord{
		ActorID:    actor.StudentID,
		Action:     models.AuditActionCartRemove,
		Resource:   models.AuditResourceCart,
		ResourceID: actor.StudentID,
		StudentID:  actor.StudentID,
		CourseID:   courseID,
		IPAddress:  actor.IPAddress,
	})
	return nil
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *CartService) Clear(ctx context.Context, actor Actor) error {
	if _, err := s.carts.ClearCart(ctx, actor.StudentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear cart")
	}
	s.audit.Record(ctx, models.AuditRecord{
		ActorID:    actor.StudentID,
		Action:     models.AuditActionCartClear,
		Resource:   models.AuditResourceCart,
		ResourceID: actor.StudentID,
		StudentID:  actor.StudentID,
		IPAddress:  actor.IPAddress,
	})
	return nil
}

// Checkout submits every cart item to the enrollment pipeline in insertion order.
// Each item sees the effects of the items before it. Resolved items leave the cart;
// items that hit a closed period or an internal failure stay for a later attempt.
func (s *CartService) Checkout(ctx context.Context, actor Actor) (*CheckoutResult, error) {
	entries, err := s.carts.ListCart(ctx, actor.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cart")
	}

	result := &CheckoutResult{Outcomes: make([]CheckoutOutcome, 0, len(entries))}
	for _, entry := range entries {
		outcome, keep := s.checkoutItem(ctx, actor, entry)
		result.Outcomes = append(result.Outcomes, outcome)
		if keep {
			continue
		}
		if _, err := s.carts.RemoveCartEntry(ctx, actor.StudentID, entry.CourseID); err != nil {
			s.logger.Warn("failed to remove checked out cart item", zap.String("course_id", entry.CourseID), zap.Error(err))
		}
	}

	record, err := s.records.Build(ctx, actor.StudentID)
	if err != nil {
		s.logger.Warn("failed to build credit load summary", zap.String("student_id", actor.StudentID), zap.Error(err))
		return result, nil
	}
	load := s.eligibility.LoadSummary(record)
	result.Load = &load
	return result, nil
}

func (s *CartService) checkoutItem(ctx context.Context, actor Actor, entry models.CartEntry) (CheckoutOutcome, bool) {
	outcome := CheckoutOutcome{CourseID: entry.CourseID}
	enrolled, err := s.enrollments.Enroll(ctx, actor, EnrollRequest{CourseID: entry.CourseID})
	if err == nil {
		outcome.Status = string(enrolled.Status)
		outcome.SectionID = enrolled.SectionID
		outcome.EnrollmentID = enrolled.EnrollmentID
		outcome.WaitlistPosition = enrolled.WaitlistPosition
		return outcome, false
	}

	appErr := appErrors.FromError(err)
	outcome.Status = CheckoutStatusRejected
	if appErr.Status >= http.StatusInternalServerError {
		s.logger.Error("checkout item failed", zap.String("course_id", entry.CourseID), zap.Error(err))
		outcome.Reason = strings.ToLower(appErrors.ErrInternal.Code)
		outcome.Message = appErrors.ErrInternal.Message
		return outcome, true
	}
	outcome.Reason = strings.ToLower(appErr.Code)
	outcome.Message = appErr.Message
	return outcome, appErr.Code == appErrors.ErrPeriodClosed.Code
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
