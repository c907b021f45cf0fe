package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive     EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// Open reports whether the status counts toward the one-enrollment-per-course rule.
func (s EnrollmentStatus) Open() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusWaitlisted
}

// Enrollment is a (student, course, section) triple.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	SectionID   string           `db:"section_id" json:"section_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	RequestedAt time.Time        `db:"requested_at" json:"requested_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with the course and section it points to.
type EnrollmentDetail struct {
	Enrollment
	CourseCode      string   `db:"course_code" json:"course_code"`
	CourseTitle     string   `db:"course_title" json:"course_title"`
	Credits         int      `db:"credits" json:"credits"`
	SectionCode     string   `db:"section_code" json:"section_code"`
	SectionSchedule Schedule `db:"section_schedule" json:"schedule"`
}

// WaitlistEntry queues a waitlisted enrollment on a section.
type WaitlistEntry struct {
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	SectionID    string    `db:"section_id" json:"section_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	RequestedAt  time.Time `db:"requested_at" json:"requested_at"`
	Seq          int64     `db:"seq" json:"-"`
	Position     int       `db:"-" json:"position"`
}

// WaitlistBefore orders entries by request time, then insertion sequence.
func WaitlistBefore(a, b WaitlistEntry) bool {
	if !a.RequestedAt.Equal(b.RequestedAt) {
		return a.RequestedAt.Before(b.RequestedAt)
	}
	return a.Seq < b.Seq
}
