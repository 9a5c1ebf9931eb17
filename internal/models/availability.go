package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of civil session dates
const DateLayout = "2006-01-02"

// TimeOfDay is a trainer-local wall clock time, stored as minutes since midnight.
// It maps to a PostgreSQL TIME column.
type TimeOfDay int

// ParseTimeOfDay accepts "15:04" or "15:04:05"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for literals, it panics on bad input
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayFrom returns the wall clock time of t in its own location
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Add returns t shifted by d, truncated to minutes
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// Value implements the driver.Valuer interface
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String() + ":00", nil
}

// Scan implements the sql.Scanner interface. Drivers hand TIME back as
// text, as a time.Time or (pgx) as microseconds since midnight.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = 0
		return nil
	case []byte:
		return t.scanString(string(v))
	case string:
		return t.scanString(v)
	case time.Time:
		*t = TimeOfDayFrom(v)
		return nil
	case int64:
		*t = TimeOfDay(v / int64(time.Minute/time.Microsecond))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t *TimeOfDay) scanString(s string) error {
	if len(s) > 8 {
		s = s[:8]
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON renders the time as "15:04"
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "15:04" or "15:04:05"
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeRange is a half-open [Start, End) window within a day
type TimeRange struct {
	Start TimeOfDay `json:"start" db:"start_time"`
	End   TimeOfDay `json:"end" db:"end_time"`
}

// Overlaps reports whether the two half-open ranges intersect
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// SlotHold is a time window on a date held by an active booking or group session
type SlotHold struct {
	SessionDate time.Time `db:"session_date"`
	StartTime   TimeOfDay `db:"start_time"`
	EndTime     TimeOfDay `db:"end_time"`
}

// Range returns the held window
func (h SlotHold) Range() TimeRange {
	return TimeRange{Start: h.StartTime, End: h.EndTime}
}

// Slot is one bookable start time
type Slot struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// AvailabilityRule is a trainer's weekly open window for one weekday (0 = Sunday)
type AvailabilityRule struct {
	ID        int64     `json:"id" db:"id"`
	TrainerID int64     `json:"trainer_id" db:"trainer_id"`
	DayOfWeek int       `json:"day_of_week" db:"day_of_week"`
	StartTime TimeOfDay `json:"start_time" db:"start_time"`
	EndTime   TimeOfDay `json:"end_time" db:"end_time"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExceptionType is the kind of date override
type ExceptionType string

const (
	ExceptionBlocked   ExceptionType = "blocked"
	ExceptionAvailable ExceptionType = "available"
)

// AvailabilityException overrides the weekly rule on one date
type AvailabilityException struct {
	ID            int64         `json:"id" db:"id"`
	TrainerID     int64         `json:"trainer_id" db:"trainer_id"`
	ExceptionDate time.Time     `json:"exception_date" db:"exception_date"`
	ExceptionType ExceptionType `json:"exception_type" db:"exception_type"`
	StartTime     *TimeOfDay    `json:"start_time,omitempty" db:"start_time"`
	EndTime       *TimeOfDay    `json:"end_time,omitempty" db:"end_time"`
	Reason        string        `json:"reason" db:"reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// Window returns the extra window of an available exception
func (e AvailabilityException) Window() (TimeRange, bool) {
	if e.ExceptionType != ExceptionAvailable || e.StartTime == nil || e.EndTime == nil {
		return TimeRange{}, false
	}
	if *e.EndTime <= *e.StartTime {
		return TimeRange{}, false
	}
	return TimeRange{Start: *e.StartTime, End: *e.EndTime}, true
}

// Reasons attached to an empty availability result
const (
	ReasonPastDate       = "past_date"
	ReasonBeyondHorizon  = "beyond_horizon"
	ReasonBlocked        = "blocked"
	ReasonNoAvailability = "no_availability"
	ReasonFullyBooked    = "fully_booked"
)

// DayAvailability is the open slots of one date, Reason is set when Slots is empty
type DayAvailability struct {
	TrainerID int64  `json:"trainer_id"`
	Date      string `json:"date"`
	Slots     []Slot `json:"slots"`
	Reason    string `json:"reason,omitempty"`
}

// HasStart reports whether start is one of the open slots
func (d DayAvailability) HasStart(start TimeOfDay) bool {
	for _, s := range d.Slots {
		if s.Start == start {
			return true
		}
	}
	return false
}

// MonthAvailability maps "2006-01-02" dates to open start times. Days without slots are omitted.
type MonthAvailability struct {
	TrainerID int64                  `json:"trainer_id"`
	Year      int                    `json:"year"`
	Month     int                    `json:"month"`
	Days      map[string][]TimeOfDay `json:"days"`
}

// AddExceptionRequest is the payload for a date override
type AddExceptionRequest struct {
	Date          string        `json:"date" validate:"required,datetime=2006-01-02"`
	ExceptionType ExceptionType `json:"exception_type" validate:"required,oneof=blocked available"`
	StartTime     string        `json:"start_time" validate:"required_if=ExceptionType available,omitempty,datetime=15:04"`
	EndTime       string        `json:"end_time" validate:"required_if=ExceptionType available,omitempty,datetime=15:04"`
	Reason        string        `json:"reason" validate:"max=255"`
}
