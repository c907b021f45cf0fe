package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
)

// AuditRepository appends audit records. The table rejects updates and deletes.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendAudit inserts one audit record.
func (r *AuditRepository) AppendAudit(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	var snapshot interface{}
	if len(record.Snapshot) > 0 {
		snapshot = string(record.Snapshot)
	}
	const query = `INSERT INTO audit_records (id, actor_id, action, resource, resource_id, student_id, course_id, section_id,
	prior_status, new_status, snapshot, ip_address, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.ActorID, record.Action, record.Resource, record.ResourceID, record.StudentID, record.CourseID, record.SectionID,
		record.PriorStatus, record.NewStatus, snapshot, record.IPAddress, record.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
