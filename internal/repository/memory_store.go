package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// MemoryStore keeps the whole enrollment state in process memory. It implements the
// seat ledger with per-key mutexes and an undo log, and the catalog, cart, audit,
// period and student-record stores on top of the same maps.
type MemoryStore struct {
	mu          sync.RWMutex
	courses     map[string]models.Course
	sections    map[string]models.Section
	enrollments map[string]models.Enrollment
	openIndex   map[string]string
	active      map[string]int
	waitlists   map[string][]models.WaitlistEntry
	carts       map[string][]models.CartEntry
	profiles    map[string]models.StudentProfile
	periods     []models.EnrollmentPeriod
	audit       []models.AuditRecord
	seq         int64

	locks    *keyedMutex
	observer LockObserver
	now      func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:     make(map[string]models.Course),
		sections:    make(map[string]models.Section),
		enrollments: make(map[string]models.Enrollment),
		openIndex:   make(map[string]string),
		active:      make(map[string]int),
		waitlists:   make(map[string][]models.WaitlistEntry),
		carts:       make(map[string][]models.CartEntry),
		profiles:    make(map[string]models.StudentProfile),
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLockObserver registers a callback for lock wait durations.
func (s *MemoryStore) SetLockObserver(observer LockObserver) {
	s.observer = observer
}

func openKey(studentID, courseID string) string {
	return studentID + "|" + courseID
}

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

// SaveCourse adds or replaces a catalog course.
func (s *MemoryStore) SaveCourse(course models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
}

// SaveSection adds or replaces a section.
func (s *MemoryStore) SaveSection(section models.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = s.now()
	}
	s.sections[section.ID] = section
}

// SaveProfile adds or replaces a student's academic profile.
func (s *MemoryStore) SaveProfile(profile models.StudentProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.StudentID] = profile
}

// SavePeriod appends an enrollment period.
func (s *MemoryStore) SavePeriod(period models.EnrollmentPeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods = append(s.periods, period)
}

// SaveEnrollment stores an enrollment outside any ledger transaction, for seeding.
func (s *MemoryStore) SaveEnrollment(enrollment models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.insertEnrollmentLocked(enrollment)
	return err
}

// GetCourse returns a catalog course.
func (s *MemoryStore) GetCourse(_ context.Context, id string) (*models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

// GetSection returns a section.
func (s *MemoryStore) GetSection(_ context.Context, id string) (*models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	section, ok := s.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &section, nil
}

// ListSections returns a course's sections, primary sections first.
func (s *MemoryStore) ListSections(_ context.Context, courseID string) ([]models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.courseSectionsLocked(courseID), nil
}

func (s *MemoryStore) courseSectionsLocked(courseID string) []models.Section {
	var sections []models.Section
	for _, section := range s.sections {
		if section.CourseID == courseID {
			sections = append(sections, section)
		}
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].IsOverflow != sections[j].IsOverflow {
			return !sections[i].IsOverflow
		}
		return sections[i].Code < sections[j].Code
	})
	return sections
}

// FindEnrollment returns an enrollment by ID.
func (s *MemoryStore) FindEnrollment(_ context.Context, id string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enrollment, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

// FindOpenEnrollment returns the student's active or waitlisted enrollment in a course.
func (s *MemoryStore) FindOpenEnrollment(_ context.Context, studentID, courseID string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openEnrollmentLocked(studentID, courseID)
}

func (s *MemoryStore) openEnrollmentLocked(studentID, courseID string) (*models.Enrollment, error) {
	id, ok := s.openIndex[openKey(studentID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	enrollment := s.enrollments[id]
	return &enrollment, nil
}

// ListStudentEnrollments returns every enrollment of a student with course and section details.
func (s *MemoryStore) ListStudentEnrollments(_ context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var details []models.EnrollmentDetail
	for _, enrollment := range s.enrollments {
		if enrollment.StudentID != studentID {
			continue
		}
		course := s.courses[enrollment.CourseID]
		section := s.sections[enrollment.SectionID]
		details = append(details, models.EnrollmentDetail{
			Enrollment:      enrollment,
			CourseCode:      course.Code,
			CourseTitle:     course.Title,
			Credits:         course.Credits,
			SectionCode:     section.Code,
			SectionSchedule: section.Schedule,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		if !details[i].RequestedAt.Equal(details[j].RequestedAt) {
			return details[i].RequestedAt.Before(details[j].RequestedAt)
		}
		return details[i].ID < details[j].ID
	})
	return details, nil
}

// SectionRoster returns the active enrollments of a section in request order.
func (s *MemoryStore) SectionRoster(_ context.Context, sectionID string) ([]models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roster []models.Enrollment
	for _, enrollment := range s.enrollments {
		if enrollment.SectionID == sectionID && enrollment.Status == models.EnrollmentStatusActive {
			roster = append(roster, enrollment)
		}
	}
	sort.Slice(roster, func(i, j int) bool {
		if !roster[i].RequestedAt.Equal(roster[j].RequestedAt) {
			return roster[i].RequestedAt.Before(roster[j].RequestedAt)
		}
		return roster[i].ID < roster[j].ID
	})
	return roster, nil
}

// SectionWaitlist returns the FIFO waitlist with 1-based positions.
func (s *MemoryStore) SectionWaitlist(_ context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return positioned(s.waitlists[sectionID]), nil
}

func positioned(entries []models.WaitlistEntry) []models.WaitlistEntry {
	out := make([]models.WaitlistEntry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// GetProfile returns a student's academic profile.
func (s *MemoryStore) GetProfile(_ context.Context, studentID string) (*models.StudentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &profile, nil
}

// ListPeriods returns periods whose category is empty or equal to category.
func (s *MemoryStore) ListPeriods(_ context.Context, category string) ([]models.EnrollmentPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var periods []models.EnrollmentPeriod
	for _, period := range s.periods {
		if period.Category == "" || period.Category == category {
			periods = append(periods, period)
		}
	}
	return periods, nil
}

// ListCart returns a student's cart in insertion order.
func (s *MemoryStore) ListCart(_ context.Context, studentID string) ([]models.CartEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.carts[studentID]
	out := make([]models.CartEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// AddCartEntry stages a course. Duplicates return ErrDuplicateCartEntry and a cart
// already holding maxItems entries returns ErrCartFull; maxItems <= 0 is unbounded.
func (s *MemoryStore) AddCartEntry(_ context.Context, entry *models.CartEntry, maxItems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.carts[entry.StudentID] {
		if existing.CourseID == entry.CourseID {
			return ErrDuplicateCartEntry
		}
	}
	if maxItems > 0 && len(s.carts[entry.StudentID]) >= maxItems {
		return ErrCartFull
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = s.now()
	}
	entry.Seq = s.nextSeq()
	s.carts[entry.StudentID] = append(s.carts[entry.StudentID], *entry)
	return nil
}

// RemoveCartEntry removes a staged course and reports whether it was present.
func (s *MemoryStore) RemoveCartEntry(_ context.Context, studentID, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.carts[studentID]
	for i, entry := range entries {
		if entry.CourseID == courseID {
			s.carts[studentID] = append(entries[:i:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ClearCart empties a student's cart and returns how many entries were removed.
func (s *MemoryStore) ClearCart(_ context.Context, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.carts[studentID])
	delete(s.carts, studentID)
	return n, nil
}

// AppendAudit appends an immutable audit record.
func (s *MemoryStore) AppendAudit(_ context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	stored := *record
	stored.Snapshot = append([]byte(nil), record.Snapshot...)
	s.audit = append(s.audit, stored)
	return nil
}

// AuditTrail returns a copy of the recorded audit entries.
func (s *MemoryStore) AuditTrail() []models.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditRecord, len(s.audit))
	copy(out, s.audit)
	return out
}

// WithSectionLock serializes callers on one section.
func (s *MemoryStore) WithSectionLock(ctx context.Context, sectionID string, fn func(SeatTx) error) error {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return err
	}
	return s.withLock(LockScopeSection, "section:"+sectionID, fn)
}

// WithCourseLock serializes callers on one course.
func (s *MemoryStore) WithCourseLock(ctx context.Context, courseID string, fn func(SeatTx) error) error {
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return err
	}
	return s.withLock(LockScopeCourse, "course:"+courseID, fn)
}

func (s *MemoryStore) withLock(scope, key string, fn func(SeatTx) error) (err error) {
	start := time.Now()
	unlock := s.locks.Lock(key)
	defer unlock()
	if s.observer != nil {
		s.observer(scope, time.Since(start))
	}

	tx := &memorySeatTx{store: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *MemoryStore) index(e models.Enrollment) {
	if e.Status.Open() {
		s.openIndex[openKey(e.StudentID, e.CourseID)] = e.ID
	}
	if e.Status == models.EnrollmentStatusActive {
		s.active[e.SectionID]++
	}
}

func (s *MemoryStore) unindex(e models.Enrollment) {
	if e.Status.Open() && s.openIndex[openKey(e.StudentID, e.CourseID)] == e.ID {
		delete(s.openIndex, openKey(e.StudentID, e.CourseID))
	}
	if e.Status == models.EnrollmentStatusActive {
		s.active[e.SectionID]--
	}
}

func (s *MemoryStore) insertEnrollmentLocked(e models.Enrollment) (models.Enrollment, error) {
	if e.Status.Open() {
		if _, taken := s.openIndex[openKey(e.StudentID, e.CourseID)]; taken {
			return e, ErrDuplicateEnrollment
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now()
	if e.RequestedAt.IsZero() {
		e.RequestedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.RequestedAt
	}
	s.enrollments[e.ID] = e
	s.index(e)
	return e, nil
}

func (s *MemoryStore) replaceEnrollmentLocked(e models.Enrollment) {
	if prev, ok := s.enrollments[e.ID]; ok {
		s.unindex(prev)
	}
	s.enrollments[e.ID] = e
	s.index(e)
}

func (s *MemoryStore) deleteEnrollmentLocked(id string) {
	if prev, ok := s.enrollments[id]; ok {
		s.unindex(prev)
		delete(s.enrollments, id)
	}
}

func (s *MemoryStore) insertWaitlistLocked(entry models.WaitlistEntry) {
	entries := append(s.waitlists[entry.SectionID], entry)
	sort.SliceStable(entries, func(i, j int) bool { return models.WaitlistBefore(entries[i], entries[j]) })
	s.waitlists[entry.SectionID] = entries
}

type memorySeatTx struct {
	store *MemoryStore
	undo  []func()
}

func (tx *memorySeatTx) rollback() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memorySeatTx) Section(ctx context.Context, id string) (*models.Section, error) {
	return tx.store.GetSection(ctx, id)
}

func (tx *memorySeatTx) CourseSections(ctx context.Context, courseID string) ([]models.Section, error) {
	return tx.store.ListSections(ctx, courseID)
}

func (tx *memorySeatTx) CountActive(_ context.Context, sectionID string) (int, error) {
	s := tx.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[sectionID], nil
}

func (tx *memorySeatTx) OpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	return tx.store.FindOpenEnrollment(ctx, studentID, courseID)
}

func (tx *memorySeatTx) Enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	return tx.store.FindEnrollment(ctx, id)
}

func (tx *memorySeatTx) InsertEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.insertEnrollmentLocked(*enrollment)
	if err != nil {
		return err
	}
	*enrollment = stored
	tx.undo = append(tx.undo, func() { s.deleteEnrollmentLocked(stored.ID) })
	return nil
}

func (tx *memorySeatTx) UpdateEnrollmentStatus(_ context.Context, id string, status models.EnrollmentStatus, at time.Time) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	if status.Open() && !prev.Status.Open() {
		if _, taken := s.openIndex[openKey(prev.StudentID, prev.CourseID)]; taken {
			return ErrDuplicateEnrollment
		}
	}
	next := prev
	next.Status = status
	next.UpdatedAt = at
	s.replaceEnrollmentLocked(next)
	tx.undo = append(tx.undo, func() { s.replaceEnrollmentLocked(prev) })
	return nil
}

func (tx *memorySeatTx) ActivateWaitlisted(_ context.Context, id, sectionID string, at time.Time) (bool, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.enrollments[id]
	if !ok || prev.Status != models.EnrollmentStatusWaitlisted {
		return false, nil
	}
	next := prev
	next.Status = models.EnrollmentStatusActive
	next.SectionID = sectionID
	next.UpdatedAt = at
	s.replaceEnrollmentLocked(next)
	tx.undo = append(tx.undo, func() { s.replaceEnrollmentLocked(prev) })
	return true, nil
}

func (tx *memorySeatTx) InsertSection(_ context.Context, section *models.Section) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = s.now()
	}
	s.sections[section.ID] = *section
	id := section.ID
	tx.undo = append(tx.undo, func() { delete(s.sections, id) })
	return nil
}

func (tx *memorySeatTx) AppendWaitlist(_ context.Context, entry *models.WaitlistEntry) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = s.now()
	}
	entry.Seq = s.nextSeq()
	s.insertWaitlistLocked(*entry)
	sectionID, enrollmentID := entry.SectionID, entry.EnrollmentID
	tx.undo = append(tx.undo, func() { s.removeWaitlistLocked(sectionID, enrollmentID) })
	return nil
}

func (tx *memorySeatTx) Waitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	return tx.store.SectionWaitlist(ctx, sectionID)
}

func (tx *memorySeatTx) RemoveWaitlistEntry(_ context.Context, enrollmentID string) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for sectionID, entries := range s.waitlists {
		for _, entry := range entries {
			if entry.EnrollmentID == enrollmentID {
				removed := entry
				s.removeWaitlistLocked(sectionID, enrollmentID)
				tx.undo = append(tx.undo, func() { s.insertWaitlistLocked(removed) })
				return nil
			}
		}
	}
	return nil
}

func (s *MemoryStore) removeWaitlistLocked(sectionID, enrollmentID string) {
	entries := s.waitlists[sectionID]
	for i, entry := range entries {
		if entry.EnrollmentID == enrollmentID {
			s.waitlists[sectionID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(s.waitlists[sectionID]) == 0 {
		delete(s.waitlists, sectionID)
	}
}
