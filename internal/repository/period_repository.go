package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// PeriodRepository reads enrollment period configuration.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// ListPeriods returns periods whose category is empty or equal to category.
func (r *PeriodRepository) ListPeriods(ctx context.Context, category string) ([]models.EnrollmentPeriod, error) {
	const query = `SELECT id, name, category, student_group, priority_group, starts_at, priority_ends_at, ends_at
FROM enrollment_periods
WHERE category = '' OR category = $1
ORDER BY starts_at`
	var periods []models.EnrollmentPeriod
	if err := r.db.SelectContext(ctx, &periods, query, category); err != nil {
		return nil, fmt.Errorf("list enrollment periods: %w", err)
	}
	return periods, nil
}
