package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

var sectionRowColumns = []string{"id", "course_id", "code", "capacity", "instructor_id", "schedule", "is_overflow", "parent_section_id", "created_at"}

func TestPostgresSeatLedgerCommitsClaim(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)
	var observed []string
	ledger.SetLockObserver(func(scope string, _ time.Duration) { observed = append(observed, scope) })

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM sections WHERE id = $1 FOR UPDATE`)).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sec-1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO enrollments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var inserted models.Enrollment
	err := ledger.WithSectionLock(context.Background(), "sec-1", func(tx SeatTx) error {
		count, err := tx.CountActive(context.Background(), "sec-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 3, count)
		inserted = models.Enrollment{StudentID: "stu", CourseID: "c1", SectionID: "sec-1", Status: models.EnrollmentStatusActive}
		return tx.InsertEnrollment(context.Background(), &inserted)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inserted.ID)
	assert.Equal(t, []string{LockScopeSection}, observed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeatLedgerMapsUniqueViolationAndRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("sec-1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sec-1"))
	mock.ExpectExec(`INSERT INTO enrollments`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := ledger.WithSectionLock(context.Background(), "sec-1", func(tx SeatTx) error {
		return tx.InsertEnrollment(context.Background(), &models.Enrollment{StudentID: "stu", CourseID: "c1", SectionID: "sec-1", Status: models.EnrollmentStatusActive})
	})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeatLedgerUnknownSection(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	called := false
	err := ledger.WithSectionLock(context.Background(), "missing", func(SeatTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeatLedgerCourseLockCreatesSection(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM courses WHERE id = $1 FOR UPDATE`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectQuery(`FROM sections WHERE course_id = \$1 ORDER BY is_overflow, code`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(sectionRowColumns).
			AddRow("sec-1", "c1", "CS101-01", 2, nil, []byte(`[{"day":"MONDAY","start":"09:00","end":"10:30"}]`), false, nil, time.Now()))
	mock.ExpectExec(`INSERT INTO sections`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := ledger.WithCourseLock(context.Background(), "c1", func(tx SeatTx) error {
		sections, err := tx.CourseSections(context.Background(), "c1")
		if err != nil {
			return err
		}
		require.Len(t, sections, 1)
		require.Len(t, sections[0].Schedule, 1)
		assert.Equal(t, models.MustClock("10:30"), sections[0].Schedule[0].End)
		parent := sections[0].ID
		return tx.InsertSection(context.Background(), &models.Section{CourseID: "c1", Code: "CS101-OV1", Capacity: 30, IsOverflow: true, ParentSectionID: &parent})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeatLedgerWaitlistRoundTrip(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)
	requested := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("sec-1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sec-1"))
	mock.ExpectQuery(`INSERT INTO waitlist_entries`).
		WithArgs("e-2", "sec-1", "stu-2", requested).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectQuery(`FROM waitlist_entries`).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "section_id", "student_id", "requested_at", "seq"}).
			AddRow("e-1", "sec-1", "stu-1", requested.Add(-time.Minute), int64(3)).
			AddRow("e-2", "sec-1", "stu-2", requested, int64(7)))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM waitlist_entries WHERE enrollment_id = $1`)).
		WithArgs("e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.WithSectionLock(context.Background(), "sec-1", func(tx SeatTx) error {
		entry := models.WaitlistEntry{EnrollmentID: "e-2", SectionID: "sec-1", StudentID: "stu-2", RequestedAt: requested}
		if err := tx.AppendWaitlist(context.Background(), &entry); err != nil {
			return err
		}
		assert.Equal(t, int64(7), entry.Seq)
		waitlist, err := tx.Waitlist(context.Background(), "sec-1")
		if err != nil {
			return err
		}
		require.Len(t, waitlist, 2)
		assert.Equal(t, 1, waitlist[0].Position)
		return tx.RemoveWaitlistEntry(context.Background(), waitlist[0].EnrollmentID)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeatLedgerActivateWaitlistedIsConditional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	ledger := NewPostgresSeatLedger(db)
	at := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	activate := `UPDATE enrollments SET status = 'ACTIVE'.+` + regexp.QuoteMeta(`WHERE id = $1 AND status = 'WAITLISTED'`)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("sec-of").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sec-of"))
	mock.ExpectExec(activate).WithArgs("e-1", "sec-of", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(activate).WithArgs("e-1", "sec-of", at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := ledger.WithSectionLock(context.Background(), "sec-of", func(tx SeatTx) error {
		activated, err := tx.ActivateWaitlisted(context.Background(), "e-1", "sec-of", at)
		if err != nil {
			return err
		}
		assert.True(t, activated)
		activated, err = tx.ActivateWaitlisted(context.Background(), "e-1", "sec-of", at)
		if err != nil {
			return err
		}
		assert.False(t, activated)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectCartLock(mock sqlmock.Sqlmock, studentID string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs(studentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCartRepositoryAddDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCartRepository(db)

	expectCartLock(mock, "stu")
	mock.ExpectQuery(`INSERT INTO cart_entries`).
		WithArgs("stu", "c1", sqlmock.AnyArg(), 8).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectCommit()
	expectCartLock(mock, "stu")
	mock.ExpectQuery(`INSERT INTO cart_entries`).
		WithArgs("stu", "c1", sqlmock.AnyArg(), 8).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	entry := &models.CartEntry{StudentID: "stu", CourseID: "c1"}
	require.NoError(t, repo.AddCartEntry(context.Background(), entry, 8))
	assert.Equal(t, int64(1), entry.Seq)

	err := repo.AddCartEntry(context.Background(), &models.CartEntry{StudentID: "stu", CourseID: "c1"}, 8)
	assert.ErrorIs(t, err, ErrDuplicateCartEntry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepositoryAddChecksLimitInInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCartRepository(db)

	expectCartLock(mock, "stu")
	mock.ExpectQuery(`INSERT INTO cart_entries .+ WHERE \$4 <= 0 OR \(SELECT COUNT\(\*\) FROM cart_entries WHERE student_id = \$1 AND course_id <> \$2\) < \$4`).
		WithArgs("stu", "c9", sqlmock.AnyArg(), 2).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}))
	mock.ExpectRollback()

	err := repo.AddCartEntry(context.Background(), &models.CartEntry{StudentID: "stu", CourseID: "c9"}, 2)
	assert.ErrorIs(t, err, ErrCartFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepositoryListRemoveClear(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCartRepository(db)
	added := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT student_id, course_id, added_at, seq FROM cart_entries WHERE student_id = $1 ORDER BY seq`)).
		WithArgs("stu").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "course_id", "added_at", "seq"}).
			AddRow("stu", "c2", added, int64(1)).
			AddRow("stu", "c1", added, int64(2)))
	mock.ExpectExec(`DELETE FROM cart_entries WHERE student_id = \$1 AND course_id = \$2`).
		WithArgs("stu", "c9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM cart_entries WHERE student_id = \$1$`).
		WithArgs("stu").
		WillReturnResult(sqlmock.NewResult(0, 2))

	entries, err := repo.ListCart(context.Background(), "stu")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c2", entries[0].CourseID)

	removed, err := repo.RemoveCartEntry(context.Background(), "stu", "c9")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := repo.ClearCart(context.Background(), "stu")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec(`INSERT INTO audit_records`).
		WithArgs(sqlmock.AnyArg(), "stu", models.AuditActionEnroll, models.AuditResourceEnrollment, "e-1", "stu", "c1", "sec-1",
			"", "ACTIVE", `{"occupancy":1}`, "10.0.0.1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.AuditRecord{
		ActorID:    "stu",
		Action:     models.AuditActionEnroll,
		Resource:   models.AuditResourceEnrollment,
		ResourceID: "e-1",
		StudentID:  "stu",
		CourseID:   "c1",
		SectionID:  "sec-1",
		NewStatus:  "ACTIVE",
		Snapshot:   []byte(`{"occupancy":1}`),
		IPAddress:  "10.0.0.1",
	}
	require.NoError(t, repo.AppendAudit(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppendError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec(`INSERT INTO audit_records`).WillReturnError(errors.New("disk full"))
	err := repo.AppendAudit(context.Background(), &models.AuditRecord{Action: models.AuditActionDrop})
	assert.ErrorContains(t, err, "append audit record")
}

func TestPeriodRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)
	start := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM enrollment_periods\s+WHERE category = '' OR category = \$1`).
		WithArgs("LECTURE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category", "student_group", "priority_group", "starts_at", "priority_ends_at", "ends_at"}).
			AddRow("p1", "Odd 2024", "", "", "SENIOR", start, start.Add(24*time.Hour), start.Add(7*24*time.Hour)))

	periods, err := repo.ListPeriods(context.Background(), "LECTURE")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	require.NotNil(t, periods[0].PriorityEndsAt)
	assert.NoError(t, periods[0].Validate())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRecordRepositoryGetProfile(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRecordRepository(db)

	mock.ExpectQuery(`FROM student_records WHERE student_id = \$1`).
		WithArgs("stu").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "classification", "standing", "groups", "completed_courses"}).
			AddRow("stu", "SOPHOMORE", "GOOD", "{SENIOR}", "{MATH101,CS100}"))

	profile, err := repo.GetProfile(context.Background(), "stu")
	require.NoError(t, err)
	assert.Equal(t, models.StandingGood, profile.Standing)
	assert.Equal(t, []string{"MATH101", "CS100"}, []string(profile.CompletedCourses))
	assert.Equal(t, []string{"SENIOR"}, []string(profile.Groups))
}

func TestCourseRepositoryGetCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(`FROM courses WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "title", "credits", "department", "category", "capacity", "prerequisites", "schedule", "overflow_enabled"}).
			AddRow("c1", "CS201", "Data Structures", 3, "CS", "LECTURE", 40, "{CS101}", `[{"day":"TUESDAY","start":"13:00","end":"14:40","room":"B2"}]`, true))

	course, err := repo.GetCourse(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101"}, []string(course.Prerequisites))
	require.Len(t, course.Schedule, 1)
	assert.Equal(t, models.Tuesday, course.Schedule[0].Day)
	assert.True(t, course.OverflowEnabled)
}

func TestEnrollmentRepositorySectionWaitlistPositions(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM waitlist_entries`).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "section_id", "student_id", "requested_at", "seq"}).
			AddRow("e-1", "sec-1", "stu-1", now, int64(1)).
			AddRow("e-2", "sec-1", "stu-2", now, int64(2)))

	entries, err := repo.SectionWaitlist(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[1].Position)
}

func TestEnrollmentRepositoryFindOpenNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`status IN \('ACTIVE', 'WAITLISTED'\)`).
		WithArgs("stu", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindOpenEnrollment(context.Background(), "stu", "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
