package models

import "time"

// SeriesStatus is the status of a recurring series
type SeriesStatus string

const (
	SeriesStatusActive    SeriesStatus = "active"
	SeriesStatusCancelled SeriesStatus = "cancelled"
)

// RecurringSeries groups bookings that were created together at a fixed cadence
type RecurringSeries struct {
	ID              int64              `json:"id" db:"id"`
	ParentID        int64              `json:"parent_id" db:"parent_id"`
	TrainerID       int64              `json:"trainer_id" db:"trainer_id"`
	PlayerID        int64              `json:"player_id" db:"player_id"`
	Frequency       RecurringFrequency `json:"frequency" db:"frequency"`
	TotalSessions   int                `json:"total_sessions" db:"total_sessions"`
	SessionsCreated int                `json:"sessions_created" db:"sessions_created"`
	DayOfWeek       int                `json:"day_of_week" db:"day_of_week"`
	PreferredTime   TimeOfDay          `json:"preferred_time" db:"preferred_time"`
	Status          SeriesStatus       `json:"status" db:"status"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// SeriesDates returns count civil dates starting at first, stepping by the
// frequency interval. Calendar arithmetic keeps the wall clock session time
// fixed across DST changes.
func SeriesDates(first time.Time, frequency RecurringFrequency, count int) []time.Time {
	step := frequency.IntervalDays()
	dates := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		dates = append(dates, time.Date(first.Year(), first.Month(), first.Day()+i*step, 0, 0, 0, 0, time.UTC))
	}
	return dates
}
