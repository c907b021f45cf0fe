package models

import (
	"strings"

	"github.com/lib/pq"
)

// AcademicStanding ranks a student's eligibility to register.
type AcademicStanding string

// Standings ordered from best to worst.
const (
	StandingGood      AcademicStanding = "GOOD"
	StandingProbation AcademicStanding = "PROBATION"
	StandingSuspended AcademicStanding = "SUSPENDED"
)

var standingRank = map[AcademicStanding]int{
	StandingGood:      3,
	StandingProbation: 2,
	StandingSuspended: 1,
}

// AtLeast reports whether s is equal to or better than min. Unknown standings never pass.
func (s AcademicStanding) AtLeast(min AcademicStanding) bool {
	have, ok := standingRank[AcademicStanding(strings.ToUpper(string(s)))]
	if !ok {
		return false
	}
	return have >= standingRank[AcademicStanding(strings.ToUpper(string(min)))]
}

// StudentProfile is the persisted part of a student's academic record.
type StudentProfile struct {
	StudentID        string           `db:"student_id" json:"student_id" validate:"required"`
	Classification   string           `db:"classification" json:"classification"`
	Standing         AcademicStanding `db:"standing" json:"standing" validate:"required,oneof=GOOD PROBATION SUSPENDED"`
	Groups           pq.StringArray   `db:"groups" json:"groups"`
	CompletedCourses pq.StringArray   `db:"completed_courses" json:"completed_courses"`
}

// ScheduledCourse is one of the student's open enrollments.
type ScheduledCourse struct {
	CourseID   string
	CourseCode string
	SectionID  string
	Credits    int
	Status     EnrollmentStatus
	Schedule   Schedule
}

// AcademicRecord is a point-in-time snapshot of a student passed by value into the pipeline.
type AcademicRecord struct {
	StudentID      string
	Classification string
	Standing       AcademicStanding
	Groups         []string
	Completed      []string
	Open           []ScheduledCourse
	CurrentCredits int
	CurrentCourses int
}

// InGroup reports group membership.
func (r AcademicRecord) InGroup(group string) bool {
	for _, g := range r.Groups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// HasCompleted reports whether the course appears in the completed set.
func (r AcademicRecord) HasCompleted(courseID string) bool {
	for _, id := range r.Completed {
		if id == courseID {
			return true
		}
	}
	return false
}

// HoldsOpen reports an active or waitlisted enrollment in the course.
func (r AcademicRecord) HoldsOpen(courseID string) bool {
	for _, sc := range r.Open {
		if sc.CourseID == courseID {
			return true
		}
	}
	return false
}
