package models

import (
	"encoding/json"
	"time"
)

// Audit actions recorded by the enrollment engine.
const (
	AuditActionCartAdd          = "CART_ADD"
	AuditActionCartRemove       = "CART_REMOVE"
	AuditActionCartClear        = "CART_CLEAR"
	AuditActionEnroll           = "ENROLL"
	AuditActionWaitlist         = "WAITLIST"
	AuditActionOverflowCreate   = "OVERFLOW_SECTION_CREATE"
	AuditActionDrop             = "DROP"
	AuditActionWaitlistWithdraw = "WAITLIST_WITHDRAW"
	AuditActionPromote          = "PROMOTE"
	AuditActionWaitlistSkip     = "WAITLIST_SKIP"
)

// Audited resources.
const (
	AuditResourceCart       = "cart"
	AuditResourceEnrollment = "enrollment"
	AuditResourceSection    = "section"
)

// AuditRecord is an immutable trail entry with denormalized context.
type AuditRecord struct {
	ID          string          `db:"id" json:"id"`
	ActorID     string          `db:"actor_id" json:"actor_id"`
	Action      string          `db:"action" json:"action"`
	Resource    string          `db:"resource" json:"resource"`
	ResourceID  string          `db:"resource_id" json:"resource_id"`
	StudentID   string          `db:"student_id" json:"student_id,omitempty"`
	CourseID    string          `db:"course_id" json:"course_id,omitempty"`
	SectionID   string          `db:"section_id" json:"section_id,omitempty"`
	PriorStatus string          `db:"prior_status" json:"prior_status,omitempty"`
	NewStatus   string          `db:"new_status" json:"new_status,omitempty"`
	Snapshot    json.RawMessage `db:"snapshot" json:"snapshot,omitempty"`
	IPAddress   string          `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// AuditSnapshot is the state captured alongside an audit record.
type AuditSnapshot struct {
	CourseCode      string `json:"course_code,omitempty"`
	CourseTitle     string `json:"course_title,omitempty"`
	Credits         int    `json:"credits,omitempty"`
	SectionCode     string `json:"section_code,omitempty"`
	SectionCapacity int    `json:"section_capacity,omitempty"`
	Occupancy       int    `json:"occupancy"`
	Reason          string `json:"reason,omitempty"`
}
