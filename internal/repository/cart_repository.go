package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// CartRepository persists staged course selections.
type CartRepository struct {
	db *sqlx.DB
}

// NewCartRepository constructs the repository.
func NewCartRepository(db *sqlx.DB) *CartRepository {
	return &CartRepository{db: db}
}

// ListCart returns a student's cart in insertion order.
func (r *CartRepository) ListCart(ctx context.Context, studentID string) ([]models.CartEntry, error) {
	const query = `SELECT student_id, course_id, added_at, seq FROM cart_entries WHERE student_id = $1 ORDER BY seq`
	var entries []models.CartEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	return entries, nil
}

// AddCartEntry stages a course. Duplicates return ErrDuplicateCartEntry and a cart
// already holding maxItems entries returns ErrCartFull; maxItems <= 0 is unbounded.
// Adds for one student are serialized with a transaction-scoped advisory lock.
func (r *CartRepository) AddCartEntry(ctx context.Context, entry *models.CartEntry, maxItems int) (err error) {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add cart entry: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.StudentID); err != nil {
		return fmt.Errorf("add cart entry: lock cart: %w", err)
	}
	const query = `INSERT INTO cart_entries (student_id, course_id, added_at)
SELECT $1, $2, $3
WHERE $4 <= 0 OR (SELECT COUNT(*) FROM cart_entries WHERE student_id = $1 AND course_id <> $2) < $4
RETURNING seq`
	if err = tx.GetContext(ctx, &entry.Seq, query, entry.StudentID, entry.CourseID, entry.AddedAt, maxItems); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrCartFull
		case isUniqueViolation(err):
			return ErrDuplicateCartEntry
		}
		return fmt.Errorf("add cart entry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("add cart entry: commit: %w", err)
	}
	return nil
}

// RemoveCartEntry removes a staged course and reports whether it was present.
func (r *CartRepository) RemoveCartEntry(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `DELETE FROM cart_entries WHERE student_id = $1 AND course_id = $2`
	res, err := r.db.ExecContext(ctx, query, studentID, courseID)
	if err != nil {
		return false, fmt.Errorf("remove cart entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove cart entry: %w", err)
	}
	return affected > 0, nil
}

// ClearCart empties a student's cart and returns how many entries were removed.
func (r *CartRepository) ClearCart(ctx context.Context, studentID string) (int, error) {
	const query = `DELETE FROM cart_entries WHERE student_id = $1`
	res, err := r.db.ExecContext(ctx, query, studentID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return int(affected), nil
}
