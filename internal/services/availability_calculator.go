package services

import (
	"sort"
	"time"

	"github.com/coachconnect/booking-engine/internal/models"
)

// SlotCalculator turns a trainer's rules, exceptions and holds for one date
// into the list of bookable start times. It performs no I/O.
type SlotCalculator struct {
	SlotDuration time.Duration
	HorizonDays  int
}

// DayInputs is everything known about one date of one trainer
type DayInputs struct {
	Date       time.Time // civil date, midnight UTC
	Rule       *models.AvailabilityRule
	Exceptions []models.AvailabilityException
	Holds      []models.TimeRange
}

// Clock is the business-timezone reference point for past and horizon checks
type Clock struct {
	Today time.Time // civil date, midnight UTC
	Now   models.TimeOfDay
}

// NewClock derives the civil date and wall clock of now in loc
func NewClock(now time.Time, loc *time.Location) Clock {
	local := now.In(loc)
	return Clock{
		Today: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
		Now:   models.TimeOfDayFrom(local),
	}
}

// Compute returns the open slots of in.Date. When enforceHorizon is false
// dates beyond the booking horizon are still evaluated, which is how later
// occurrences of a recurring series are checked.
func (c SlotCalculator) Compute(in DayInputs, clock Clock, enforceHorizon bool) models.DayAvailability {
	day := models.DayAvailability{
		Date:  in.Date.Format(models.DateLayout),
		Slots: []models.Slot{},
	}

	if in.Date.Before(clock.Today) {
		day.Reason = models.ReasonPastDate
		return day
	}
	if enforceHorizon && in.Date.After(clock.Today.AddDate(0, 0, c.HorizonDays)) {
		day.Reason = models.ReasonBeyondHorizon
		return day
	}

	var windows []models.TimeRange
	for _, exc := range in.Exceptions {
		if exc.ExceptionType == models.ExceptionBlocked {
			day.Reason = models.ReasonBlocked
			return day
		}
		if w, ok := exc.Window(); ok {
			windows = append(windows, w)
		}
	}
	if in.Rule != nil && in.Rule.IsActive && in.Rule.EndTime > in.Rule.StartTime {
		windows = append(windows, models.TimeRange{Start: in.Rule.StartTime, End: in.Rule.EndTime})
	}
	if len(windows) == 0 {
		day.Reason = models.ReasonNoAvailability
		return day
	}

	isToday := in.Date.Equal(clock.Today)
	for _, slot := range c.slotsFor(mergeWindows(windows)) {
		if isToday && slot.Start <= clock.Now {
			continue
		}
		if overlapsAny(models.TimeRange{Start: slot.Start, End: slot.End}, in.Holds) {
			continue
		}
		day.Slots = append(day.Slots, slot)
	}
	if len(day.Slots) == 0 {
		day.Reason = models.ReasonFullyBooked
	}
	return day
}

func (c SlotCalculator) slotsFor(windows []models.TimeRange) []models.Slot {
	var slots []models.Slot
	for _, w := range windows {
		for start := w.Start; start.Add(c.SlotDuration) <= w.End; start = start.Add(c.SlotDuration) {
			slots = append(slots, models.Slot{Start: start, End: start.Add(c.SlotDuration)})
		}
	}
	return slots
}

// mergeWindows sorts the windows and joins any that overlap or touch
func mergeWindows(windows []models.TimeRange) []models.TimeRange {
	sorted := make([]models.TimeRange, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := []models.TimeRange{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.Start <= last.End {
			if w.End > last.End {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func overlapsAny(r models.TimeRange, holds []models.TimeRange) bool {
	for _, h := range holds {
		if r.Overlaps(h) {
			return true
		}
	}
	return false
}

// ruleFor picks the rule of the date's weekday
func ruleFor(rules []models.AvailabilityRule, date time.Time) *models.AvailabilityRule {
	dow := int(date.Weekday())
	for i := range rules {
		if rules[i].DayOfWeek == dow {
			return &rules[i]
		}
	}
	return nil
}
