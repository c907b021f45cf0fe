package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

const (
	courseColumns  = `id, code, title, credits, department, category, capacity, prerequisites, schedule, overflow_enabled`
	sectionColumns = `id, course_id, code, capacity, instructor_id, schedule, is_overflow, parent_section_id, created_at`
)

// CourseRepository reads the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// GetCourse returns a course by ID.
func (r *CourseRepository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// GetSection returns a section by ID.
func (r *CourseRepository) GetSection(ctx context.Context, id string) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListSections returns a course's sections, primary sections first.
func (r *CourseRepository) ListSections(ctx context.Context, courseID string) ([]models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE course_id = $1 ORDER BY is_overflow, code`
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, courseID); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}
