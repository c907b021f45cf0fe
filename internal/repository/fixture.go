package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// CatalogFixture seeds a MemoryStore for single-node deployments and tests.
type CatalogFixture struct {
	Courses     []models.Course           `json:"courses"`
	Sections    []models.Section          `json:"sections"`
	Periods     []models.EnrollmentPeriod `json:"periods"`
	Students    []models.StudentProfile   `json:"students"`
	Enrollments []models.Enrollment       `json:"enrollments"`
}

// LoadFixtureFile reads a JSON fixture from disk into the store.
func LoadFixtureFile(store *MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	var fixture CatalogFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}
	return LoadFixture(store, fixture, validator.New())
}

// LoadFixture validates every record and copies it into the store. Courses without
// any section get a primary section built from the course's own capacity and schedule.
func LoadFixture(store *MemoryStore, fixture CatalogFixture, validate *validator.Validate) error {
	if validate == nil {
		validate = validator.New()
	}

	withSections := make(map[string]bool)
	for _, section := range fixture.Sections {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("section %s: %w", section.ID, err)
		}
		if err := section.Schedule.Validate(); err != nil {
			return fmt.Errorf("section %s schedule: %w", section.ID, err)
		}
		withSections[section.CourseID] = true
	}

	for _, course := range fixture.Courses {
		if err := validate.Struct(course); err != nil {
			return fmt.Errorf("course %s: %w", course.ID, err)
		}
		if err := course.Schedule.Validate(); err != nil {
			return fmt.Errorf("course %s schedule: %w", course.ID, err)
		}
		store.SaveCourse(course)
		if !withSections[course.ID] {
			store.SaveSection(models.Section{
				ID:       course.ID + "-01",
				CourseID: course.ID,
				Code:     course.Code + "-01",
				Capacity: course.Capacity,
				Schedule: course.Schedule,
			})
		}
	}

	for _, section := range fixture.Sections {
		if _, err := store.GetCourse(context.Background(), section.CourseID); err != nil {
			return fmt.Errorf("section %s references unknown course %s", section.ID, section.CourseID)
		}
		store.SaveSection(section)
	}

	for _, period := range fixture.Periods {
		if err := validate.Struct(period); err != nil {
			return fmt.Errorf("period %s: %w", period.ID, err)
		}
		if err := period.Validate(); err != nil {
			return fmt.Errorf("period %s: %w", period.ID, err)
		}
		store.SavePeriod(period)
	}

	for _, student := range fixture.Students {
		if err := validate.Struct(student); err != nil {
			return fmt.Errorf("student %s: %w", student.StudentID, err)
		}
		store.SaveProfile(student)
	}

	for _, enrollment := range fixture.Enrollments {
		section, err := store.GetSection(context.Background(), enrollment.SectionID)
		if err != nil {
			return fmt.Errorf("enrollment %s references unknown section %s", enrollment.ID, enrollment.SectionID)
		}
		enrollment.CourseID = section.CourseID
		if err := store.SaveEnrollment(enrollment); err != nil {
			return fmt.Errorf("enrollment %s: %w", enrollment.ID, err)
		}
	}
	return nil
}
