package models

import (
	"errors"
	"time"
)

// GateState is the registration state for one student and course category.
type GateState string

// Gate states.
const (
	GateClosed         GateState = "CLOSED"
	GatePriorityWindow GateState = "PRIORITY_WINDOW"
	GateOpen           GateState = "OPEN"
)

// EnrollmentPeriod is a configured registration window.
type EnrollmentPeriod struct {
	ID             string     `db:"id" json:"id" validate:"required"`
	Name           string     `db:"name" json:"name"`
	Category       string     `db:"category" json:"category,omitempty"`
	StudentGroup   string     `db:"student_group" json:"student_group,omitempty"`
	PriorityGroup  string     `db:"priority_group" json:"priority_group,omitempty"`
	StartsAt       time.Time  `db:"starts_at" json:"starts_at" validate:"required"`
	PriorityEndsAt *time.Time `db:"priority_ends_at" json:"priority_ends_at,omitempty"`
	EndsAt         time.Time  `db:"ends_at" json:"ends_at" validate:"required"`
}

// Validate enforces start < end and start <= priority_end <= end.
func (p EnrollmentPeriod) Validate() error {
	if !p.StartsAt.Before(p.EndsAt) {
		return errors.New("period start must be before end")
	}
	if p.PriorityEndsAt != nil {
		if p.PriorityEndsAt.Before(p.StartsAt) || p.PriorityEndsAt.After(p.EndsAt) {
			return errors.New("priority end must fall within the period")
		}
	}
	return nil
}
