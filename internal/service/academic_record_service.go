package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

type profileReader interface {
	GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error)
}

type studentEnrollmentReader interface {
	ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

// AcademicRecordService assembles the academic record snapshot fed into the pipeline.
type AcademicRecordService struct {
	profiles    profileReader
	enrollments studentEnrollmentReader
}

// NewAcademicRecordService constructs the service.
func NewAcademicRecordService(profiles profileReader, enrollments studentEnrollmentReader) *AcademicRecordService {
	return &AcademicRecordService{profiles: profiles, enrollments: enrollments}
}

// Build loads the student's profile and open enrollments. Credits and course counts
// include waitlisted enrollments, which may be promoted without another check.
func (s *AcademicRecordService) Build(ctx context.Context, studentID string) (models.AcademicRecord, error) {
	profile, err := s.profiles.GetProfile(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AcademicRecord{}, appErrors.Clone(appErrors.ErrNotFound, "academic record not found")
		}
		return models.AcademicRecord{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic record")
	}

	details, err := s.enrollments.ListStudentEnrollments(ctx, studentID)
	if err != nil {
		return models.AcademicRecord{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	record := models.AcademicRecord{
		StudentID:      profile.StudentID,
		Classification: profile.Classification,
		Standing:       profile.Standing,
		Groups:         append([]string(nil), profile.Groups...),
		Completed:      append([]string(nil), profile.CompletedCourses...),
	}
	for _, detail := range details {
		if !detail.Status.Open() {
			continue
		}
		record.Open = append(record.Open, models.ScheduledCourse{
			CourseID:   detail.CourseID,
			CourseCode: detail.CourseCode,
			SectionID:  detail.SectionID,
			Credits:    detail.Credits,
			Status:     detail.Status,
			Schedule:   detail.SectionSchedule,
		})
		record.CurrentCredits += detail.Credits
		record.CurrentCourses++
	}
	return record, nil
}
