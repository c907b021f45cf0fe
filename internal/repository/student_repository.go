package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// StudentRecordRepository reads the academic profile maintained by the records system.
type StudentRecordRepository struct {
	db *sqlx.DB
}

// NewStudentRecordRepository constructs the repository.
func NewStudentRecordRepository(db *sqlx.DB) *StudentRecordRepository {
	return &StudentRecordRepository{db: db}
}

// GetProfile returns a student's standing, classification, groups and completed courses.
func (r *StudentRecordRepository) GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	const query = `SELECT student_id, classification, standing, groups, completed_courses FROM student_records WHERE student_id = $1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, studentID); err != nil {
		return nil, err
	}
	return &profile, nil
}
