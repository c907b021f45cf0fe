package models

import (
	"time"

	"github.com/lib/pq"
)

// Course is a catalog entry. Its capacity is the default for the primary section.
type Course struct {
	ID              string         `db:"id" json:"id" validate:"required"`
	Code            string         `db:"code" json:"code" validate:"required"`
	Title           string         `db:"title" json:"title"`
	Credits         int            `db:"credits" json:"credits" validate:"gt=0"`
	Department      string         `db:"department" json:"department"`
	Category        string         `db:"category" json:"category"`
	Capacity        int            `db:"capacity" json:"capacity" validate:"gte=0"`
	Prerequisites   pq.StringArray `db:"prerequisites" json:"prerequisites"`
	Schedule        Schedule       `db:"schedule" json:"schedule"`
	OverflowEnabled bool           `db:"overflow_enabled" json:"overflow_enabled"`
}

// Section is a scheduled instance of a course with its own capacity and roster.
type Section struct {
	ID              string    `db:"id" json:"id" validate:"required"`
	CourseID        string    `db:"course_id" json:"course_id" validate:"required"`
	Code            string    `db:"code" json:"code"`
	Capacity        int       `db:"capacity" json:"capacity" validate:"gte=0"`
	InstructorID    *string   `db:"instructor_id" json:"instructor_id,omitempty"`
	Schedule        Schedule  `db:"schedule" json:"schedule"`
	IsOverflow      bool      `db:"is_overflow" json:"is_overflow"`
	ParentSectionID *string   `db:"parent_section_id" json:"parent_section_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// SectionOccupancy pairs a section with its active enrollment count.
type SectionOccupancy struct {
	Section
	Active int `db:"active" json:"active"`
}
