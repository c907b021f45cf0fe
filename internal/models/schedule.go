package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Weekday is an upper-case day name used in weekly schedules.
type Weekday string

// Days accepted in schedule blocks.
const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

var weekdayIndex = map[Weekday]int{
	Monday:    1,
	Tuesday:   2,
	Wednesday: 3,
	Thursday:  4,
	Friday:    5,
	Saturday:  6,
	Sunday:    7,
}

// Valid reports whether the day is one of the seven known names.
func (d Weekday) Valid() bool {
	_, ok := weekdayIndex[d]
	return ok
}

// Index returns 1 for Monday through 7 for Sunday, 0 when unknown.
func (d Weekday) Index() int {
	return weekdayIndex[d]
}

// Clock is a time of day expressed in minutes since midnight.
type Clock int

// ParseClock parses an "HH:MM" string.
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	return Clock(hour*60 + minute), nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes the clock as "HH:MM".
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes an "HH:MM" string.
func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeBlock is one weekly meeting of a course or section.
type TimeBlock struct {
	Day   Weekday `json:"day"`
	Start Clock   `json:"start"`
	End   Clock   `json:"end"`
	Room  string  `json:"room,omitempty"`
}

// Validate rejects unknown days and empty or inverted intervals.
func (b TimeBlock) Validate() error {
	if !b.Day.Valid() {
		return fmt.Errorf("unknown day %q", b.Day)
	}
	if b.Start < 0 || b.End > 24*60 {
		return fmt.Errorf("time out of range on %s", b.Day)
	}
	if b.Start >= b.End {
		return fmt.Errorf("start %s must be before end %s on %s", b.Start, b.End, b.Day)
	}
	return nil
}

// Overlaps reports whether two blocks share a day and their [start, end) intervals intersect.
func (b TimeBlock) Overlaps(other TimeBlock) bool {
	return b.Day == other.Day && b.Start < other.End && other.Start < b.End
}

func (b TimeBlock) String() string {
	return fmt.Sprintf("%s %s-%s", b.Day, b.Start, b.End)
}

// Schedule is the ordered set of weekly blocks, stored as JSON.
type Schedule []TimeBlock

// Validate checks every block.
func (s Schedule) Validate() error {
	for i, block := range s {
		if err := block.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// Value implements driver.Valuer.
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner and validates the decoded blocks.
func (s *Schedule) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported schedule column type")
	}
	var blocks Schedule
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	if err := blocks.Validate(); err != nil {
		return err
	}
	*s = blocks
	return nil
}

// ScheduleConflict describes the first pair of overlapping blocks found between two schedules.
type ScheduleConflict struct {
	CourseID string    `json:"course_id,omitempty"`
	Existing TimeBlock `json:"existing"`
	Proposed TimeBlock `json:"proposed"`
}
