package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/pkg/jobs"
)

// AuditJobType is the job and message type used for published audit records.
const AuditJobType = "enrollment.audit"

type auditStore interface {
	AppendAudit(ctx context.Context, record *models.AuditRecord) error
}

type auditDispatcher interface {
	Enqueue(job jobs.Job) error
}

type auditPublisher interface {
	PublishJSON(ctx context.Context, messageType string, payload interface{}) error
}

// AuditService appends audit records and optionally forwards them to the broker.
type AuditService struct {
	store      auditStore
	dispatcher auditDispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuditService constructs the service. A nil dispatcher disables publication.
func NewAuditService(store auditStore, dispatcher auditDispatcher, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, dispatcher: dispatcher, metrics: metrics, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends the record. Failures are logged and never reach the caller.
func (s *AuditService) Record(ctx context.Context, record models.AuditRecord) {
	ctx = context.WithoutCancel(ctx)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	if err := s.store.AppendAudit(ctx, &record); err != nil {
		s.logger.Error("failed to append audit record",
			zap.Error(err),
			zap.String("action", record.Action),
			zap.String("resource_id", record.ResourceID),
		)
		s.metrics.RecordAuditFailure("append")
		return
	}

	if s.dispatcher == nil {
		return
	}
	job := jobs.Job{ID: record.ID, Type: AuditJobType, Payload: record}
	if err := s.dispatcher.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue audit publication", zap.Error(err), zap.String("audit_id", record.ID))
		s.metrics.RecordAuditFailure("enqueue")
	}
}

// AuditPublishHandler returns the job handler that forwards audit records to the broker.
func AuditPublishHandler(publisher auditPublisher) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		return publisher.PublishJSON(ctx, job.Type, job.Payload)
	}
}

// Snapshot encodes audit snapshot state, returning nil when it cannot be encoded.
func Snapshot(course models.Course, section models.Section, occupancy int, reason string) json.RawMessage {
	raw, err := json.Marshal(models.AuditSnapshot{
		CourseCode:      course.Code,
		CourseTitle:     course.Title,
		Credits:         course.Credits,
		SectionCode:     section.Code,
		SectionCapacity: section.Capacity,
		Occupancy:       occupancy,
		Reason:          reason,
	})
	if err != nil {
		return nil
	}
	return raw
}
