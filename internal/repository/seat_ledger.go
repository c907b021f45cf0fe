package repository

import (
	"context"
	"time"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// SeatTx is the view of seat state available inside a locked ledger transaction.
// Lookups that find nothing return sql.ErrNoRows.
type SeatTx interface {
	Section(ctx context.Context, id string) (*models.Section, error)
	CourseSections(ctx context.Context, courseID string) ([]models.Section, error)
	CountActive(ctx context.Context, sectionID string) (int, error)
	OpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Enrollment(ctx context.Context, id string) (*models.Enrollment, error)
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) error
	// ActivateWaitlisted seats a waitlisted enrollment in sectionID. It reports false
	// when the enrollment is no longer waitlisted.
	ActivateWaitlisted(ctx context.Context, id, sectionID string, at time.Time) (bool, error)
	InsertSection(ctx context.Context, section *models.Section) error
	AppendWaitlist(ctx context.Context, entry *models.WaitlistEntry) error
	Waitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	RemoveWaitlistEntry(ctx context.Context, enrollmentID string) error
}

// SeatLedger runs a callback inside one transaction while holding an exclusive lock
// on a section or a course. Returning an error from the callback rolls back every
// write it made.
type SeatLedger interface {
	WithSectionLock(ctx context.Context, sectionID string, fn func(SeatTx) error) error
	WithCourseLock(ctx context.Context, courseID string, fn func(SeatTx) error) error
}

// LockObserver receives the time spent waiting for a ledger lock.
type LockObserver func(scope string, wait time.Duration)

// Lock scopes reported to a LockObserver.
const (
	LockScopeSection = "section"
	LockScopeCourse  = "course"
)
