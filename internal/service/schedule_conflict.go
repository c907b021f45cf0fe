package service

import "github.com/noah-isme/krs-enrollment-api/internal/models"

// DetectScheduleConflict compares two weekly schedules and returns the first
// overlapping pair. Blocks conflict when they share a day and their [start, end)
// intervals intersect, so back-to-back blocks never collide.
func DetectScheduleConflict(existing, proposed models.Schedule) (models.ScheduleConflict, bool) {
	for _, a := range existing {
		for _, b := range proposed {
			if a.Overlaps(b) {
				return models.ScheduleConflict{Existing: a, Proposed: b}, true
			}
		}
	}
	return models.ScheduleConflict{}, false
}

// ConflictsWithAny checks a proposed schedule against every open course of a student.
func ConflictsWithAny(proposed models.Schedule, open []models.ScheduledCourse) (models.ScheduleConflict, bool) {
	for _, course := range open {
		if conflict, ok := DetectScheduleConflict(course.Schedule, proposed); ok {
			conflict.CourseID = course.CourseID
			return conflict, true
		}
	}
	return models.ScheduleConflict{}, false
}
