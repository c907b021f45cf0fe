package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, section_id, status, requested_at, updated_at`

// EnrollmentRepository serves enrollment read projections.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindEnrollment returns an enrollment by its ID.
func (r *EnrollmentRepository) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindOpenEnrollment returns the student's active or waitlisted enrollment in a course.
func (r *EnrollmentRepository) FindOpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND course_id = $2 AND status IN ('ACTIVE', 'WAITLISTED')`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListStudentEnrollments returns every enrollment of a student with course and section details.
func (r *EnrollmentRepository) ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.section_id, e.status, e.requested_at, e.updated_at,
	c.code AS course_code, c.title AS course_title, c.credits, s.code AS section_code, s.schedule AS section_schedule
FROM enrollments e
JOIN courses c ON c.id = e.course_id
JOIN sections s ON s.id = e.section_id
WHERE e.student_id = $1
ORDER BY e.requested_at, e.id`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}

// SectionRoster returns the active enrollments of a section in request order.
func (r *EnrollmentRepository) SectionRoster(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE section_id = $1 AND status = 'ACTIVE'
ORDER BY requested_at, id`
	var roster []models.Enrollment
	if err := r.db.SelectContext(ctx, &roster, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section roster: %w", err)
	}
	return roster, nil
}

// SectionWaitlist returns the FIFO waitlist with 1-based positions.
func (r *EnrollmentRepository) SectionWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	entries, err := selectWaitlist(ctx, r.db, sectionID)
	if err != nil {
		return nil, err
	}
	return positioned(entries), nil
}

func selectWaitlist(ctx context.Context, q sqlx.QueryerContext, sectionID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT enrollment_id, section_id, student_id, requested_at, seq FROM waitlist_entries
WHERE section_id = $1 ORDER BY requested_at, seq`
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, q, &entries, query, sectionID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}
