package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/pkg/jobs"
)

type stubAuditStore struct {
	records []models.AuditRecord
	err     error
}

func (s *stubAuditStore) AppendAudit(ctx context.Context, record *models.AuditRecord) error {
	if s.err != nil {
		return s.err
	}
	if record.ID == "" {
		record.ID = "audit-1"
	}
	s.records = append(s.records, *record)
	return nil
}

type stubDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *stubDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type stubPublisher struct {
	messageType string
	payload     interface{}
}

func (p *stubPublisher) PublishJSON(ctx context.Context, messageType string, payload interface{}) error {
	p.messageType = messageType
	p.payload = payload
	return nil
}

func TestAuditServiceRecordsAndEnqueues(t *testing.T) {
	store := &stubAuditStore{}
	dispatcher := &stubDispatcher{}
	svc := NewAuditService(store, dispatcher, nil, nil)

	course := models.Course{ID: "C101", Code: "C101", Title: "Algorithms", Credits: 3}
	section := models.Section{ID: "C101-01", Code: "C101-01", Capacity: 40}
	svc.Record(context.Background(), models.AuditRecord{
		ActorID:    "S1",
		Action:     models.AuditActionEnroll,
		Resource:   models.AuditResourceEnrollment,
		ResourceID: "e-1",
		Snapshot:   Snapshot(course, section, 12, ""),
	})

	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].CreatedAt.IsZero())
	var snapshot models.AuditSnapshot
	require.NoError(t, json.Unmarshal(store.records[0].Snapshot, &snapshot))
	assert.Equal(t, "Algorithms", snapshot.CourseTitle)
	assert.Equal(t, 12, snapshot.Occupancy)

	require.Len(t, dispatcher.jobs, 1)
	assert.Equal(t, AuditJobType, dispatcher.jobs[0].Type)
	assert.Equal(t, "audit-1", dispatcher.jobs[0].ID)

	publisher := &stubPublisher{}
	handler := AuditPublishHandler(publisher)
	require.NoError(t, handler(context.Background(), dispatcher.jobs[0]))
	assert.Equal(t, AuditJobType, publisher.messageType)
	assert.Equal(t, dispatcher.jobs[0].Payload, publisher.payload)
}

func TestAuditServiceLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := NewMetricsService()
	svc := NewAuditService(&stubAuditStore{err: errors.New("disk full")}, &stubDispatcher{}, metrics, zap.New(core))

	svc.Record(context.Background(), models.AuditRecord{Action: models.AuditActionDrop, ResourceID: "e-2"})

	entries := logs.FilterMessage("failed to append audit record").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditFailures.WithLabelValues("append")))

	svc = NewAuditService(&stubAuditStore{}, &stubDispatcher{err: errors.New("queue full")}, metrics, zap.New(core))
	svc.Record(context.Background(), models.AuditRecord{Action: models.AuditActionDrop, ResourceID: "e-3"})
	assert.Equal(t, 1, logs.FilterMessage("failed to enqueue audit publication").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditFailures.WithLabelValues("enqueue")))
}
