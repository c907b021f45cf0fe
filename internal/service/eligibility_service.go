package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

// RejectionReason is the single reason an eligibility check failed.
type RejectionReason string

// Rejection reasons in evaluation order.
const (
	ReasonAcademicStanding RejectionReason = "academic_standing_insufficient"
	ReasonPrerequisite     RejectionReason = "prerequisite_not_met"
	ReasonCreditLimit      RejectionReason = "credit_limit_exceeded"
	ReasonAlreadyEnrolled  RejectionReason = "already_enrolled"
	ReasonScheduleConflict RejectionReason = "schedule_conflict"
)

// Verdict is the outcome of an eligibility check.
type Verdict struct {
	Eligible bool
	Reason   RejectionReason
	Detail   string
	Conflict *models.ScheduleConflict
}

// Err converts a rejection into its typed error, nil when eligible.
func (v Verdict) Err() error {
	if v.Eligible {
		return nil
	}
	var base *appErrors.Error
	switch v.Reason {
	case ReasonAcademicStanding:
		base = appErrors.ErrAcademicStandingInsufficient
	case ReasonPrerequisite:
		base = appErrors.ErrPrerequisiteNotMet
	case ReasonCreditLimit:
		base = appErrors.ErrCreditLimitExceeded
	case ReasonAlreadyEnrolled:
		base = appErrors.ErrAlreadyEnrolled
	case ReasonScheduleConflict:
		base = appErrors.ErrScheduleConflict
	default:
		return appErrors.Inconsistency("verdict without reason")
	}
	return appErrors.Clone(base, v.Detail)
}

func reject(reason RejectionReason, format string, args ...interface{}) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// EligibilityPolicy holds the configurable limits the validator enforces.
type EligibilityPolicy struct {
	MinStanding  models.AcademicStanding
	CreditLimits map[string]config.CreditLimit
}

// EligibilityValidator decides whether a student may take a course section. It performs no writes.
type EligibilityValidator struct {
	policy EligibilityPolicy
}

// NewEligibilityValidator constructs the validator, defaulting missing policy values.
func NewEligibilityValidator(policy EligibilityPolicy) *EligibilityValidator {
	if policy.MinStanding == "" {
		policy.MinStanding = models.StandingProbation
	}
	if _, ok := policy.CreditLimits[config.DefaultClassification]; !ok {
		limits := make(map[string]config.CreditLimit, len(policy.CreditLimits)+1)
		for k, v := range policy.CreditLimits {
			limits[k] = v
		}
		limits[config.DefaultClassification] = config.CreditLimit{MinCredits: 6, MaxCredits: 18, MinCourses: 2, MaxCourses: 6}
		policy.CreditLimits = limits
	}
	return &EligibilityValidator{policy: policy}
}

// StandingAllowed reports whether a standing meets the configured minimum.
func (v *EligibilityValidator) StandingAllowed(standing models.AcademicStanding) bool {
	return standing.AtLeast(v.policy.MinStanding)
}

// Check runs standing, prerequisites, credit limit, duplicate and schedule checks
// in that order and stops at the first failure.
func (v *EligibilityValidator) Check(record models.AcademicRecord, course models.Course, section models.Section) Verdict {
	if !v.StandingAllowed(record.Standing) {
		return reject(ReasonAcademicStanding, "academic standing %s is below the required %s", record.Standing, v.policy.MinStanding)
	}

	var missing []string
	for _, prereq := range course.Prerequisites {
		if !record.HasCompleted(prereq) {
			missing = append(missing, prereq)
		}
	}
	if len(missing) > 0 {
		return reject(ReasonPrerequisite, "missing prerequisites: %s", strings.Join(missing, ", "))
	}

	limit := v.limitFor(record.Classification)
	if record.CurrentCredits+course.Credits > limit.MaxCredits {
		return reject(ReasonCreditLimit, "enrolling would bring the load to %d credits, limit is %d", record.CurrentCredits+course.Credits, limit.MaxCredits)
	}
	if record.CurrentCourses+1 > limit.MaxCourses {
		return reject(ReasonCreditLimit, "enrolling would bring the load to %d courses, limit is %d", record.CurrentCourses+1, limit.MaxCourses)
	}

	if record.HoldsOpen(course.ID) {
		return reject(ReasonAlreadyEnrolled, "already enrolled or waitlisted in %s", course.Code)
	}

	schedule := section.Schedule
	if len(schedule) == 0 {
		schedule = course.Schedule
	}
	if conflict, ok := ConflictsWithAny(schedule, record.Open); ok {
		verdict := reject(ReasonScheduleConflict, "%s overlaps %s", conflict.Proposed, conflict.Existing)
		verdict.Conflict = &conflict
		return verdict
	}

	return Verdict{Eligible: true}
}

// LoadSummary reports a student's load against the classification limits.
type LoadSummary struct {
	Credits      int  `json:"credits"`
	Courses      int  `json:"courses"`
	MinCredits   int  `json:"min_credits"`
	MaxCredits   int  `json:"max_credits"`
	MinCourses   int  `json:"min_courses"`
	MaxCourses   int  `json:"max_courses"`
	BelowMinimum bool `json:"below_minimum"`
}

// LoadSummary is advisory: minimum limits never block an enrollment.
func (v *EligibilityValidator) LoadSummary(record models.AcademicRecord) LoadSummary {
	limit := v.limitFor(record.Classification)
	return LoadSummary{
		Credits:      record.CurrentCredits,
		Courses:      record.CurrentCourses,
		MinCredits:   limit.MinCredits,
		MaxCredits:   limit.MaxCredits,
		MinCourses:   limit.MinCourses,
		MaxCourses:   limit.MaxCourses,
		BelowMinimum: record.CurrentCredits < limit.MinCredits || record.CurrentCourses < limit.MinCourses,
	}
}

func (v *EligibilityValidator) limitFor(classification string) config.CreditLimit {
	if limit, ok := v.policy.CreditLimits[strings.ToUpper(classification)]; ok {
		return limit
	}
	return v.policy.CreditLimits[config.DefaultClassification]
}
