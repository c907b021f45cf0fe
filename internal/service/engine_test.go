package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
)

type testEngine struct {
	store       *repository.MemoryStore
	metrics     *MetricsService
	eligibility *EligibilityValidator
	capacity    *CapacityManager
	enrollments *EnrollmentService
	carts       *CartService
}

func newTestEngine(t *testing.T, overflowCapacity int) *testEngine {
	t.Helper()
	store := repository.NewMemoryStore()
	metrics := NewMetricsService()
	audit := NewAuditService(store, nil, metrics, zap.NewNop())
	eligibility := NewEligibilityValidator(EligibilityPolicy{
		MinStanding: models.StandingProbation,
		CreditLimits: map[string]config.CreditLimit{
			config.DefaultClassification: {MinCredits: 12, MaxCredits: 18, MinCourses: 4, MaxCourses: 7},
		},
	})
	capacity := NewCapacityManager(store, store, eligibility, audit, metrics, CapacityConfig{OverflowCapacity: overflowCapacity, Retries: 2, RetryDelay: time.Millisecond}, zap.NewNop())
	capacity.sleep = func(time.Duration) {}
	records := NewAcademicRecordService(store, store)
	gate := NewPeriodGate(store, zap.NewNop())
	enrollments := NewEnrollmentService(store, store, records, gate, eligibility, capacity, metrics, nil, zap.NewNop())
	carts := NewCartService(store, store, enrollments, records, eligibility, audit, 8, nil, zap.NewNop())

	store.SavePeriod(models.EnrollmentPeriod{
		ID:       "open",
		Name:     "Regular registration",
		StartsAt: time.Now().Add(-time.Hour),
		EndsAt:   time.Now().Add(time.Hour),
	})

	return &testEngine{
		store:       store,
		metrics:     metrics,
		eligibility: eligibility,
		capacity:    capacity,
		enrollments: enrollments,
		carts:       carts,
	}
}

func block(day models.Weekday, start, end string) models.TimeBlock {
	return models.TimeBlock{Day: day, Start: models.MustClock(start), End: models.MustClock(end)}
}

// addCourse saves a course with one primary section sharing its capacity and schedule.
func (e *testEngine) addCourse(id string, credits, capacity int, overflow bool, schedule ...models.TimeBlock) (models.Course, models.Section) {
	course := models.Course{
		ID:              id,
		Code:            id,
		Title:           "Course " + id,
		Credits:         credits,
		Capacity:        capacity,
		Schedule:        schedule,
		OverflowEnabled: overflow,
	}
	section := models.Section{
		ID:       id + "-01",
		CourseID: id,
		Code:     id + "-01",
		Capacity: capacity,
		Schedule: schedule,
	}
	e.store.SaveCourse(course)
	e.store.SaveSection(section)
	return course, section
}

func (e *testEngine) addStudent(id string, standing models.AcademicStanding, completed ...string) {
	e.store.SaveProfile(models.StudentProfile{
		StudentID:        id,
		Classification:   "UNDERGRAD",
		Standing:         standing,
		CompletedCourses: completed,
	})
}

func (e *testEngine) request(studentID string, course models.Course, section models.Section) SeatRequest {
	return SeatRequest{StudentID: studentID, ActorID: studentID, IPAddress: "10.0.0.1", Course: course, Section: section}
}

func (e *testEngine) countStatus(t *testing.T, sectionID string, status models.EnrollmentStatus) int {
	t.Helper()
	roster, err := e.store.SectionRoster(context.Background(), sectionID)
	require.NoError(t, err)
	if status == models.EnrollmentStatusActive {
		return len(roster)
	}
	waitlist, err := e.store.SectionWaitlist(context.Background(), sectionID)
	require.NoError(t, err)
	return len(waitlist)
}

func (e *testEngine) auditActions() []string {
	var actions []string
	for _, record := range e.store.AuditTrail() {
		actions = append(actions, record.Action)
	}
	return actions
}
