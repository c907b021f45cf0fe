package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// PostgresSeatLedger serializes seat claims with row locks on sections and courses.
type PostgresSeatLedger struct {
	db       *sqlx.DB
	observer LockObserver
}

// NewPostgresSeatLedger constructs the ledger.
func NewPostgresSeatLedger(db *sqlx.DB) *PostgresSeatLedger {
	return &PostgresSeatLedger{db: db}
}

// SetLockObserver registers a callback for lock wait durations.
func (l *PostgresSeatLedger) SetLockObserver(observer LockObserver) {
	l.observer = observer
}

// WithSectionLock locks the section row for the duration of fn.
func (l *PostgresSeatLedger) WithSectionLock(ctx context.Context, sectionID string, fn func(SeatTx) error) error {
	return l.withLock(ctx, LockScopeSection, `SELECT id FROM sections WHERE id = $1 FOR UPDATE`, sectionID, fn)
}

// WithCourseLock locks the course row for the duration of fn.
func (l *PostgresSeatLedger) WithCourseLock(ctx context.Context, courseID string, fn func(SeatTx) error) error {
	return l.withLock(ctx, LockScopeCourse, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, courseID, fn)
}

func (l *PostgresSeatLedger) withLock(ctx context.Context, scope, lockQuery, id string, fn func(SeatTx) error) (err error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", scope, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	start := time.Now()
	var locked string
	if err = tx.GetContext(ctx, &locked, lockQuery, id); err != nil {
		return err
	}
	if l.observer != nil {
		l.observer(scope, time.Since(start))
	}

	if err = fn(&postgresSeatTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", scope, err)
	}
	return nil
}

type postgresSeatTx struct {
	tx *sqlx.Tx
}

func (t *postgresSeatTx) Section(ctx context.Context, id string) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE id = $1`
	var section models.Section
	if err := t.tx.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

func (t *postgresSeatTx) CourseSections(ctx context.Context, courseID string) ([]models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE course_id = $1 ORDER BY is_overflow, code`
	var sections []models.Section
	if err := t.tx.SelectContext(ctx, &sections, query, courseID); err != nil {
		return nil, fmt.Errorf("list course sections: %w", err)
	}
	return sections, nil
}

func (t *postgresSeatTx) CountActive(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = 'ACTIVE'`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, sectionID); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

func (t *postgresSeatTx) OpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND course_id = $2 AND status IN ('ACTIVE', 'WAITLISTED')`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (t *postgresSeatTx) Enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (t *postgresSeatTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.RequestedAt.IsZero() {
		enrollment.RequestedAt = time.Now().UTC()
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = enrollment.RequestedAt
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, section_id, status, requested_at, updated_at)
VALUES (:id, :student_id, :course_id, :section_id, :status, :requested_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (t *postgresSeatTx) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, id, status, at); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

func (t *postgresSeatTx) ActivateWaitlisted(ctx context.Context, id, sectionID string, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = 'ACTIVE', section_id = $2, updated_at = $3
WHERE id = $1 AND status = 'WAITLISTED'`
	res, err := t.tx.ExecContext(ctx, query, id, sectionID, at)
	if err != nil {
		return false, fmt.Errorf("activate waitlisted enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate waitlisted enrollment: %w", err)
	}
	return n == 1, nil
}

func (t *postgresSeatTx) InsertSection(ctx context.Context, section *models.Section) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO sections (id, course_id, code, capacity, instructor_id, schedule, is_overflow, parent_section_id, created_at)
VALUES (:id, :course_id, :code, :capacity, :instructor_id, :schedule, :is_overflow, :parent_section_id, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

func (t *postgresSeatTx) AppendWaitlist(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO waitlist_entries (enrollment_id, section_id, student_id, requested_at)
VALUES ($1, $2, $3, $4) RETURNING seq`
	if err := t.tx.GetContext(ctx, &entry.Seq, query, entry.EnrollmentID, entry.SectionID, entry.StudentID, entry.RequestedAt); err != nil {
		return fmt.Errorf("append waitlist entry: %w", err)
	}
	return nil
}

func (t *postgresSeatTx) Waitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	entries, err := selectWaitlist(ctx, t.tx, sectionID)
	if err != nil {
		return nil, err
	}
	return positioned(entries), nil
}

func (t *postgresSeatTx) RemoveWaitlistEntry(ctx context.Context, enrollmentID string) error {
	const query = `DELETE FROM waitlist_entries WHERE enrollment_id = $1`
	if _, err := t.tx.ExecContext(ctx, query, enrollmentID); err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	return nil
}
