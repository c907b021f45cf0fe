package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

type auditRecorder interface {
	Record(ctx context.Context, record models.AuditRecord)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, models.AuditRecord) {}

// CapacityConfig tunes overflow creation and transient-failure retries.
type CapacityConfig struct {
	OverflowCapacity int
	Retries          int
	RetryDelay       time.Duration
}

// SeatRequest asks for a seat in a section of a course.
type SeatRequest struct {
	StudentID string
	ActorID   string
	IPAddress string
	Course    models.Course
	Section   models.Section
}

// SeatResult is the outcome of a seat request.
type SeatResult struct {
	Status           models.EnrollmentStatus
	Enrollment       models.Enrollment
	Section          models.Section
	OverflowCreated  bool
	WaitlistPosition int
}

// ReleaseResult is the outcome of dropping an enrollment.
type ReleaseResult struct {
	Dropped   models.Enrollment
	Withdrawn bool
	Promoted  *models.Enrollment
	Skipped   []models.WaitlistEntry
}

// CapacityManager owns seat accounting: claims, overflow sections, the waitlist and promotion.
// It never holds more than one ledger lock at a time.
type CapacityManager struct {
	ledger      repository.SeatLedger
	profiles    profileReader
	eligibility *EligibilityValidator
	audit       auditRecorder
	metrics     *MetricsService
	cfg         CapacityConfig
	logger      *zap.Logger
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewCapacityManager constructs the manager.
func NewCapacityManager(ledger repository.SeatLedger, profiles profileReader, eligibility *EligibilityValidator, audit auditRecorder, metrics *MetricsService, cfg CapacityConfig, logger *zap.Logger) *CapacityManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if audit == nil {
		audit = noopAudit{}
	}
	return &CapacityManager{
		ledger:      ledger,
		profiles:    profiles,
		eligibility: eligibility,
		audit:       audit,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       time.Sleep,
	}
}

type claimOutcome struct {
	enrollment *models.Enrollment
	section    models.Section
	occupancy  int
	position   int
}

// RequestSeat claims a seat in the requested section. When it is full it falls back
// to the course's single overflow section (created on first need when the course
// allows it) and finally to the requested section's waitlist, which also feeds seats
// freed in the overflow section. Once started the claim is not cancelled by the
// caller's context.
func (m *CapacityManager) RequestSeat(ctx context.Context, req SeatRequest) (SeatResult, error) {
	ctx = context.WithoutCancel(ctx)
	var result SeatResult
	err := m.withRetry("request_seat", func() error {
		var err error
		result, err = m.requestSeat(ctx, req)
		return err
	})
	return result, err
}

func (m *CapacityManager) requestSeat(ctx context.Context, req SeatRequest) (SeatResult, error) {
	first, err := m.claim(ctx, req, req.Section.ID, false)
	if err != nil {
		return SeatResult{}, err
	}
	if first.enrollment != nil {
		return m.seated(ctx, req, first, false), nil
	}

	var overflowSection *models.Section
	if !first.section.IsOverflow && req.Course.OverflowEnabled && m.cfg.OverflowCapacity > 0 {
		overflow, created, err := m.ensureOverflow(ctx, req, first.section)
		if err != nil {
			return SeatResult{}, err
		}
		if created {
			m.metrics.RecordOverflowCreated()
			m.audit.Record(ctx, models.AuditRecord{
				ActorID:    req.ActorID,
				Action:     models.AuditActionOverflowCreate,
				Resource:   models.AuditResourceSection,
				ResourceID: overflow.ID,
				StudentID:  req.StudentID,
				CourseID:   req.Course.ID,
				SectionID:  overflow.ID,
				Snapshot:   Snapshot(req.Course, overflow, 0, "parent section "+first.section.Code+" full"),
				IPAddress:  req.IPAddress,
			})
		}
		second, err := m.claim(ctx, req, overflow.ID, false)
		if err != nil {
			return SeatResult{}, err
		}
		if second.enrollment != nil {
			return m.seated(ctx, req, second, created), nil
		}
		overflowSection = &overflow
	}

	last, err := m.claim(ctx, req, req.Section.ID, true)
	if err != nil {
		return SeatResult{}, err
	}
	result := m.seated(ctx, req, last, false)
	if result.Status != models.EnrollmentStatusWaitlisted || overflowSection == nil {
		return result, nil
	}

	// An overflow seat freed between the overflow claim and the waitlist append goes
	// to the head of the queue, which may be this request.
	promoted, section := m.fillOverflow(ctx, req.Course, overflowSection.ID, req.ActorID, req.IPAddress)
	if promoted != nil && promoted.ID == result.Enrollment.ID {
		result.Status = promoted.Status
		result.Enrollment = *promoted
		result.Section = section
		result.WaitlistPosition = 0
	}
	return result, nil
}

// claim runs one locked read-check-write on a section. A full section yields no
// enrollment unless waitlisting is allowed.
func (m *CapacityManager) claim(ctx context.Context, req SeatRequest, sectionID string, waitlist bool) (claimOutcome, error) {
	var out claimOutcome
	err := m.ledger.WithSectionLock(ctx, sectionID, func(tx repository.SeatTx) error {
		section, err := tx.Section(ctx, sectionID)
		if err != nil {
			return err
		}
		if section.CourseID != req.Course.ID {
			return appErrors.Clone(appErrors.ErrValidation, "section does not belong to course")
		}
		out.section = *section

		if _, err := tx.OpenEnrollment(ctx, req.StudentID, req.Course.ID); err == nil {
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled or waitlisted in "+req.Course.Code)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		count, err := tx.CountActive(ctx, section.ID)
		if err != nil {
			return err
		}
		if err := m.checkOccupancy(*section, count); err != nil {
			return err
		}

		now := m.now()
		enrollment := models.Enrollment{
			ID:          uuid.NewString(),
			StudentID:   req.StudentID,
			CourseID:    req.Course.ID,
			SectionID:   section.ID,
			Status:      models.EnrollmentStatusActive,
			RequestedAt: now,
			UpdatedAt:   now,
		}
		if count >= section.Capacity {
			if !waitlist {
				out.occupancy = count
				return nil
			}
			enrollment.Status = models.EnrollmentStatusWaitlisted
		}

		if err := tx.InsertEnrollment(ctx, &enrollment); err != nil {
			if errors.Is(err, repository.ErrDuplicateEnrollment) {
				return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled or waitlisted in "+req.Course.Code)
			}
			return err
		}

		if enrollment.Status == models.EnrollmentStatusWaitlisted {
			entry := models.WaitlistEntry{
				EnrollmentID: enrollment.ID,
				SectionID:    section.ID,
				StudentID:    req.StudentID,
				RequestedAt:  now,
			}
			if err := tx.AppendWaitlist(ctx, &entry); err != nil {
				return err
			}
			queue, err := tx.Waitlist(ctx, section.ID)
			if err != nil {
				return err
			}
			for _, queued := range queue {
				if queued.EnrollmentID == enrollment.ID {
					out.position = queued.Position
				}
			}
			out.occupancy = count
		} else {
			out.occupancy = count + 1
		}
		out.enrollment = &enrollment
		return nil
	})
	return out, err
}

// ensureOverflow returns the course's overflow section, creating it under the course
// lock when none exists yet.
func (m *CapacityManager) ensureOverflow(ctx context.Context, req SeatRequest, parent models.Section) (models.Section, bool, error) {
	var overflow models.Section
	created := false
	err := m.ledger.WithCourseLock(ctx, req.Course.ID, func(tx repository.SeatTx) error {
		sections, err := tx.CourseSections(ctx, req.Course.ID)
		if err != nil {
			return err
		}
		var existing []models.Section
		for _, section := range sections {
			if section.IsOverflow {
				existing = append(existing, section)
			}
		}
		switch len(existing) {
		case 0:
		case 1:
			overflow = existing[0]
			return nil
		default:
			return m.inconsistency("single_overflow_section", "course %s has %d overflow sections", req.Course.ID, len(existing))
		}

		parentID := parent.ID
		overflow = models.Section{
			ID:              uuid.NewString(),
			CourseID:        req.Course.ID,
			Code:            req.Course.Code + "-OV1",
			Capacity:        m.cfg.OverflowCapacity,
			InstructorID:    parent.InstructorID,
			Schedule:        append(models.Schedule(nil), parent.Schedule...),
			IsOverflow:      true,
			ParentSectionID: &parentID,
			CreatedAt:       m.now(),
		}
		if err := tx.InsertSection(ctx, &overflow); err != nil {
			return err
		}
		created = true
		return nil
	})
	return overflow, created, err
}

func (m *CapacityManager) seated(ctx context.Context, req SeatRequest, out claimOutcome, overflowCreated bool) SeatResult {
	enrollment := *out.enrollment
	action := models.AuditActionEnroll
	if enrollment.Status == models.EnrollmentStatusWaitlisted {
		action = models.AuditActionWaitlist
	}
	m.audit.Record(ctx, models.AuditRecord{
		ActorID:    req.ActorID,
		Action:     action,
		Resource:   models.AuditResourceEnrollment,
		ResourceID: enrollment.ID,
		StudentID:  enrollment.StudentID,
		CourseID:   enrollment.CourseID,
		SectionID:  enrollment.SectionID,
		NewStatus:  string(enrollment.Status),
		Snapshot:   Snapshot(req.Course, out.section, out.occupancy, ""),
		IPAddress:  req.IPAddress,
	})
	return SeatResult{
		Status:           enrollment.Status,
		Enrollment:       enrollment,
		Section:          out.section,
		OverflowCreated:  overflowCreated,
		WaitlistPosition: out.position,
	}
}

// ReleaseSeat drops an open enrollment. Dropping an active seat promotes the earliest
// waitlisted student who still meets the standing requirement in the same transaction.
// A seat freed in an overflow section goes to the parent section's queue.
func (m *CapacityManager) ReleaseSeat(ctx context.Context, enrollment models.Enrollment, course models.Course, actorID, ip string) (ReleaseResult, error) {
	ctx = context.WithoutCancel(ctx)
	var (
		result    ReleaseResult
		section   models.Section
		occupancy int
	)
	err := m.withRetry("release_seat", func() error {
		result = ReleaseResult{}
		return m.ledger.WithSectionLock(ctx, enrollment.SectionID, func(tx repository.SeatTx) error {
			current, err := tx.Enrollment(ctx, enrollment.ID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.ErrNotEnrolled
				}
				return err
			}
			if !current.Status.Open() {
				return appErrors.ErrNotEnrolled
			}
			loaded, err := tx.Section(ctx, current.SectionID)
			if err != nil {
				return err
			}
			section = *loaded

			now := m.now()
			if err := tx.UpdateEnrollmentStatus(ctx, current.ID, models.EnrollmentStatusDropped, now); err != nil {
				return err
			}
			dropped := *current
			dropped.Status = models.EnrollmentStatusDropped
			dropped.UpdatedAt = now
			result.Dropped = dropped

			if current.Status == models.EnrollmentStatusWaitlisted {
				result.Withdrawn = true
				occupancy, err = tx.CountActive(ctx, section.ID)
				if err != nil {
					return err
				}
				return tx.RemoveWaitlistEntry(ctx, current.ID)
			}

			occupancy, err = tx.CountActive(ctx, section.ID)
			if err != nil {
				return err
			}
			if err := m.checkOccupancy(section, occupancy); err != nil {
				return err
			}
			if occupancy >= section.Capacity {
				return nil
			}
			promoted, skipped, err := m.promote(ctx, tx, section, now)
			if err != nil {
				return err
			}
			result.Promoted = promoted
			result.Skipped = skipped
			if promoted != nil {
				occupancy++
			}
			return nil
		})
	})
	if err != nil {
		return ReleaseResult{}, err
	}

	m.recordRelease(ctx, result, course, section, occupancy, actorID, ip)
	return result, nil
}

// fillOverflow hands free seats of an overflow section to the parent section's
// waitlist. Failures are logged: the caller's own enrollment is already committed.
func (m *CapacityManager) fillOverflow(ctx context.Context, course models.Course, overflowID, actorID, ip string) (*models.Enrollment, models.Section) {
	var (
		result    ReleaseResult
		section   models.Section
		occupancy int
	)
	err := m.withRetry("fill_overflow", func() error {
		result = ReleaseResult{}
		return m.ledger.WithSectionLock(ctx, overflowID, func(tx repository.SeatTx) error {
			loaded, err := tx.Section(ctx, overflowID)
			if err != nil {
				return err
			}
			section = *loaded
			occupancy, err = tx.CountActive(ctx, section.ID)
			if err != nil {
				return err
			}
			if err := m.checkOccupancy(section, occupancy); err != nil {
				return err
			}
			if occupancy >= section.Capacity {
				return nil
			}
			promoted, skipped, err := m.promote(ctx, tx, section, m.now())
			if err != nil {
				return err
			}
			result.Promoted = promoted
			result.Skipped = skipped
			if promoted != nil {
				occupancy++
			}
			return nil
		})
	})
	if err != nil {
		m.logger.Error("failed to fill overflow section from waitlist", zap.String("section_id", overflowID), zap.Error(err))
		return nil, section
	}
	m.recordPromotion(ctx, result, course, section, occupancy, actorID, ip)
	return result.Promoted, section
}

// waitlistOf returns the section whose queue feeds seats in section. Overflow
// sections draw from their parent's waitlist.
func waitlistOf(section models.Section) string {
	if section.IsOverflow && section.ParentSectionID != nil {
		return *section.ParentSectionID
	}
	return section.ID
}

// promote walks the feeding waitlist in FIFO order and seats the first eligible entry
// in section. Ineligible entries stay queued.
func (m *CapacityManager) promote(ctx context.Context, tx repository.SeatTx, section models.Section, now time.Time) (*models.Enrollment, []models.WaitlistEntry, error) {
	queue, err := tx.Waitlist(ctx, waitlistOf(section))
	if err != nil {
		return nil, nil, err
	}
	var skipped []models.WaitlistEntry
	for _, entry := range queue {
		waiting, err := tx.Enrollment(ctx, entry.EnrollmentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		if waiting == nil || waiting.Status != models.EnrollmentStatusWaitlisted {
			m.logger.Warn("removing stale waitlist entry", zap.String("enrollment_id", entry.EnrollmentID), zap.String("section_id", section.ID))
			if err := tx.RemoveWaitlistEntry(ctx, entry.EnrollmentID); err != nil {
				return nil, nil, err
			}
			continue
		}

		eligible, err := m.standingAllowed(ctx, entry.StudentID)
		if err != nil {
			return nil, nil, err
		}
		if !eligible {
			m.logger.Warn("skipping ineligible waitlist entry",
				zap.String("student_id", entry.StudentID),
				zap.String("section_id", section.ID),
				zap.Int("position", entry.Position),
			)
			skipped = append(skipped, entry)
			continue
		}

		activated, err := tx.ActivateWaitlisted(ctx, waiting.ID, section.ID, now)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.RemoveWaitlistEntry(ctx, waiting.ID); err != nil {
			return nil, nil, err
		}
		if !activated {
			continue
		}
		promoted := *waiting
		promoted.Status = models.EnrollmentStatusActive
		promoted.SectionID = section.ID
		promoted.UpdatedAt = now
		return &promoted, skipped, nil
	}
	return nil, skipped, nil
}

func (m *CapacityManager) standingAllowed(ctx context.Context, studentID string) (bool, error) {
	profile, err := m.profiles.GetProfile(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return m.eligibility.StandingAllowed(profile.Standing), nil
}

func (m *CapacityManager) recordRelease(ctx context.Context, result ReleaseResult, course models.Course, section models.Section, occupancy int, actorID, ip string) {
	dropped := result.Dropped
	action := models.AuditActionDrop
	prior := models.EnrollmentStatusActive
	if result.Withdrawn {
		action = models.AuditActionWaitlistWithdraw
		prior = models.EnrollmentStatusWaitlisted
	}
	m.audit.Record(ctx, models.AuditRecord{
		ActorID:     actorID,
		Action:      action,
		Resource:    models.AuditResourceEnrollment,
		ResourceID:  dropped.ID,
		StudentID:   dropped.StudentID,
		CourseID:    dropped.CourseID,
		SectionID:   dropped.SectionID,
		PriorStatus: string(prior),
		NewStatus:   string(models.EnrollmentStatusDropped),
		Snapshot:    Snapshot(course, section, occupancy, ""),
		IPAddress:   ip,
	})
	m.recordPromotion(ctx, result, course, section, occupancy, actorID, ip)
}

func (m *CapacityManager) recordPromotion(ctx context.Context, result ReleaseResult, course models.Course, section models.Section, occupancy int, actorID, ip string) {
	for _, entry := range result.Skipped {
		m.metrics.RecordWaitlistSkip()
		m.audit.Record(ctx, models.AuditRecord{
			ActorID:     actorID,
			Action:      models.AuditActionWaitlistSkip,
			Resource:    models.AuditResourceEnrollment,
			ResourceID:  entry.EnrollmentID,
			StudentID:   entry.StudentID,
			CourseID:    course.ID,
			SectionID:   entry.SectionID,
			PriorStatus: string(models.EnrollmentStatusWaitlisted),
			NewStatus:   string(models.EnrollmentStatusWaitlisted),
			Snapshot:    Snapshot(course, section, occupancy, "academic standing below minimum at promotion"),
			IPAddress:   ip,
		})
	}

	if promoted := result.Promoted; promoted != nil {
		m.metrics.RecordPromotion()
		m.audit.Record(ctx, models.AuditRecord{
			ActorID:     actorID,
			Action:      models.AuditActionPromote,
			Resource:    models.AuditResourceEnrollment,
			ResourceID:  promoted.ID,
			StudentID:   promoted.StudentID,
			CourseID:    promoted.CourseID,
			SectionID:   promoted.SectionID,
			PriorStatus: string(models.EnrollmentStatusWaitlisted),
			NewStatus:   string(models.EnrollmentStatusActive),
			Snapshot:    Snapshot(course, section, occupancy, ""),
			IPAddress:   ip,
		})
	}
}

func (m *CapacityManager) checkOccupancy(section models.Section, count int) error {
	if count < 0 {
		return m.inconsistency("non_negative_occupancy", "section %s occupancy is %d", section.ID, count)
	}
	if count > section.Capacity {
		return m.inconsistency("capacity", "section %s holds %d active enrollments for capacity %d", section.ID, count, section.Capacity)
	}
	return nil
}

func (m *CapacityManager) inconsistency(invariant, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	m.logger.Error("seat accounting invariant violated", zap.String("invariant", invariant), zap.String("detail", detail))
	m.metrics.RecordInvariantViolation()
	return appErrors.Inconsistency("%s", detail)
}

// withRetry retries transient storage failures with linear backoff. Exhausted
// retries surface as a generic internal error.
func (m *CapacityManager) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		if attempt > 0 {
			m.sleep(m.cfg.RetryDelay * time.Duration(attempt))
		}
		err = fn()
		if err == nil || !repository.IsTransient(err) {
			break
		}
		m.logger.Warn("transient storage failure", zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "section not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update seat ledger")
}
