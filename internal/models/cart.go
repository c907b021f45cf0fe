package models

import "time"

// CartEntry is a staged course selection. It holds no seat.
type CartEntry struct {
	StudentID string    `db:"student_id" json:"student_id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`
	Seq       int64     `db:"seq" json:"-"`
}

// CartItem is a cart entry joined with catalog data for display.
type CartItem struct {
	CourseID    string    `json:"course_id"`
	CourseCode  string    `json:"course_code"`
	CourseTitle string    `json:"course_title"`
	Credits     int       `json:"credits"`
	AddedAt     time.Time `json:"added_at"`
}
