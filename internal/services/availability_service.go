package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/coachconnect/booking-engine/internal/cache"
	"github.com/coachconnect/booking-engine/internal/models"
)

// AvailabilityService answers availability queries and owns trainer schedules.
// Results are cached per trainer under a generation counter, so a weekly
// schedule change invalidates every cached date of that trainer at once.
type AvailabilityService struct {
	trainers     TrainerStore
	availability AvailabilityStore
	holds        HoldLister
	cache        cache.Cache
	calc         SlotCalculator
	loc          *time.Location
	ttl          time.Duration
	logger       *logrus.Logger
	group        singleflight.Group
	now          func() time.Time
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(
	trainers TrainerStore,
	availability AvailabilityStore,
	holds HoldLister,
	c cache.Cache,
	calc SlotCalculator,
	loc *time.Location,
	ttl time.Duration,
	logger *logrus.Logger,
) *AvailabilityService {
	return &AvailabilityService{
		trainers:     trainers,
		availability: availability,
		holds:        holds,
		cache:        c,
		calc:         calc,
		loc:          loc,
		ttl:          ttl,
		logger:       logger,
		now:          time.Now,
	}
}

// SlotDuration returns the length of one bookable slot
func (s *AvailabilityService) SlotDuration() time.Duration {
	return s.calc.SlotDuration
}

// Clock returns the current business-timezone date and time
func (s *AvailabilityService) Clock() Clock {
	return NewClock(s.now(), s.loc)
}

// GetAvailableSlots returns the open slots of a trainer on date
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, trainerID int64, date time.Time) (*models.DayAvailability, error) {
	trainer, err := s.bookableTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	clock := s.Clock()
	if date.Before(clock.Today) || date.After(clock.Today.AddDate(0, 0, s.calc.HorizonDays)) {
		day := s.calc.Compute(DayInputs{Date: date}, clock, true)
		day.TrainerID = trainer.ID
		return &day, nil
	}

	gen := s.generation(ctx, trainer.ID)
	key := fmt.Sprintf("availability:%d:g%d:day:%s", trainer.ID, gen, date.Format(models.DateLayout))

	var day models.DayAvailability
	if s.cacheGet(ctx, key, &day) {
		return &day, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		days, err := s.computeRange(ctx, trainer.ID, []time.Time{date}, clock, true)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, days[0])
		return days[0], nil
	})
	if err != nil {
		return nil, err
	}
	day = v.(models.DayAvailability)
	return &day, nil
}

// GetMonthlyAvailability returns the open start times of every bookable day in a month
func (s *AvailabilityService) GetMonthlyAvailability(ctx context.Context, trainerID int64, year, month int) (*models.MonthAvailability, error) {
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return nil, models.NewValidationError("invalid_month", "Year and month are out of range")
	}
	trainer, err := s.bookableTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	gen := s.generation(ctx, trainer.ID)
	key := fmt.Sprintf("availability:%d:g%d:month:%04d-%02d", trainer.ID, gen, year, month)

	var result models.MonthAvailability
	if s.cacheGet(ctx, key, &result) {
		return &result, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		var dates []time.Time
		for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
			dates = append(dates, d)
		}

		days, err := s.computeRange(ctx, trainer.ID, dates, s.Clock(), true)
		if err != nil {
			return nil, err
		}

		out := models.MonthAvailability{
			TrainerID: trainer.ID,
			Year:      year,
			Month:     month,
			Days:      make(map[string][]models.TimeOfDay),
		}
		for _, day := range days {
			if len(day.Slots) == 0 {
				continue
			}
			starts := make([]models.TimeOfDay, 0, len(day.Slots))
			for _, slot := range day.Slots {
				starts = append(starts, slot.Start)
			}
			out.Days[day.Date] = starts
		}
		s.cacheSet(ctx, key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	result = v.(models.MonthAvailability)
	return &result, nil
}

// VerifySlots checks against fresh data that start is open on every date.
// Only the first date is held to the booking horizon.
func (s *AvailabilityService) VerifySlots(ctx context.Context, trainerID int64, dates []time.Time, start models.TimeOfDay) error {
	if len(dates) == 0 {
		return models.NewValidationError("invalid_date", "At least one session date is required")
	}
	clock := s.Clock()
	if dates[0].After(clock.Today.AddDate(0, 0, s.calc.HorizonDays)) {
		return models.NewConflictError(models.ReasonBeyondHorizon,
			fmt.Sprintf("Bookings can be made at most %d days ahead", s.calc.HorizonDays))
	}

	days, err := s.computeRange(ctx, trainerID, dates, clock, false)
	if err != nil {
		return err
	}
	for _, day := range days {
		if !day.HasStart(start) {
			msg := fmt.Sprintf("The %s slot on %s is not available", start, day.Date)
			if day.Reason != "" {
				msg = fmt.Sprintf("%s (%s)", msg, day.Reason)
			}
			return models.NewConflictError("slot_unavailable", msg)
		}
	}
	return nil
}

// SaveWeeklySchedule normalizes and stores the caller's weekly schedule
func (s *AvailabilityService) SaveWeeklySchedule(ctx context.Context, actor *models.Actor, raw []byte) ([]models.DaySchedule, error) {
	trainer, err := s.actingTrainer(ctx, actor)
	if err != nil {
		return nil, err
	}

	schedule, err := models.NormalizeWeeklySchedule(raw)
	if err != nil {
		return nil, err
	}

	if err := s.availability.ReplaceWeeklyRules(ctx, trainer.ID, schedule); err != nil {
		return nil, datastoreError(err)
	}

	s.InvalidateTrainer(ctx, trainer.ID)
	s.logger.WithFields(logrus.Fields{
		"trainer_id": trainer.ID,
		"days":       len(schedule),
	}).Info("Weekly schedule saved")
	return schedule, nil
}

// AddException records a blocked or extra-available date for the caller
func (s *AvailabilityService) AddException(ctx context.Context, actor *models.Actor, req models.AddExceptionRequest) (*models.AvailabilityException, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	trainer, err := s.actingTrainer(ctx, actor)
	if err != nil {
		return nil, err
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	exc := &models.AvailabilityException{
		TrainerID:     trainer.ID,
		ExceptionDate: date,
		ExceptionType: req.ExceptionType,
		Reason:        req.Reason,
	}
	if req.ExceptionType == models.ExceptionAvailable {
		start, err := parseTime(req.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseTime(req.EndTime)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, models.NewValidationError("invalid_window", "end_time must be after start_time")
		}
		exc.StartTime, exc.EndTime = &start, &end
	}

	if err := s.availability.AddException(ctx, exc); err != nil {
		return nil, datastoreError(err)
	}
	s.InvalidateDate(ctx, trainer.ID, date)
	return exc, nil
}

// RemoveException deletes one of the caller's exceptions
func (s *AvailabilityService) RemoveException(ctx context.Context, actor *models.Actor, exceptionID int64) error {
	trainer, err := s.actingTrainer(ctx, actor)
	if err != nil {
		return err
	}

	exc, err := s.availability.DeleteException(ctx, trainer.ID, exceptionID)
	if err != nil {
		return datastoreError(err)
	}
	if exc == nil {
		return models.NewNotFoundError("exception_not_found", "Availability exception not found")
	}
	s.InvalidateDate(ctx, trainer.ID, exc.ExceptionDate)
	return nil
}

// InvalidateDate drops the cached day and month entries that contain date
func (s *AvailabilityService) InvalidateDate(ctx context.Context, trainerID int64, dates ...time.Time) {
	gen := s.generation(ctx, trainerID)
	keys := make([]string, 0, len(dates)*2)
	for _, d := range dates {
		keys = append(keys,
			fmt.Sprintf("availability:%d:g%d:day:%s", trainerID, gen, d.Format(models.DateLayout)),
			fmt.Sprintf("availability:%d:g%d:month:%04d-%02d", trainerID, gen, d.Year(), int(d.Month())),
		)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).WithField("trainer_id", trainerID).Warn("Failed to invalidate availability cache")
	}
}

// InvalidateTrainer moves the trainer to a new cache generation
func (s *AvailabilityService) InvalidateTrainer(ctx context.Context, trainerID int64) {
	if _, err := s.cache.Incr(ctx, generationKey(trainerID), 0); err != nil {
		s.logger.WithError(err).WithField("trainer_id", trainerID).Warn("Failed to bump availability generation")
	}
}

// computeRange loads the inputs covering dates once and evaluates each date
func (s *AvailabilityService) computeRange(ctx context.Context, trainerID int64, dates []time.Time, clock Clock, enforceHorizon bool) ([]models.DayAvailability, error) {
	from, to := dates[0], dates[0]
	for _, d := range dates {
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}

	rules, err := s.availability.ListRules(ctx, trainerID)
	if err != nil {
		return nil, datastoreError(err)
	}
	exceptions, err := s.availability.ListExceptions(ctx, trainerID, from, to)
	if err != nil {
		return nil, datastoreError(err)
	}
	holds, err := s.holds.ListHolds(ctx, trainerID, from, to)
	if err != nil {
		return nil, datastoreError(err)
	}

	excByDate := make(map[string][]models.AvailabilityException)
	for _, e := range exceptions {
		k := e.ExceptionDate.Format(models.DateLayout)
		excByDate[k] = append(excByDate[k], e)
	}
	holdsByDate := make(map[string][]models.TimeRange)
	for _, h := range holds {
		k := h.SessionDate.Format(models.DateLayout)
		holdsByDate[k] = append(holdsByDate[k], h.Range())
	}

	days := make([]models.DayAvailability, 0, len(dates))
	for _, d := range dates {
		k := d.Format(models.DateLayout)
		day := s.calc.Compute(DayInputs{
			Date:       d,
			Rule:       ruleFor(rules, d),
			Exceptions: excByDate[k],
			Holds:      holdsByDate[k],
		}, clock, enforceHorizon)
		day.TrainerID = trainerID
		days = append(days, day)
	}
	return days, nil
}

func (s *AvailabilityService) bookableTrainer(ctx context.Context, trainerID int64) (*models.Trainer, error) {
	trainer, err := s.trainers.GetByID(ctx, trainerID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if trainer == nil {
		return nil, models.NewValidationError("invalid_trainer", "Trainer not found")
	}
	if !trainer.IsBookable() {
		return nil, models.NewValidationError("trainer_unavailable", "Trainer is not accepting bookings")
	}
	return trainer, nil
}

func (s *AvailabilityService) actingTrainer(ctx context.Context, actor *models.Actor) (*models.Trainer, error) {
	if actor == nil {
		return nil, models.NewUnauthorizedError("authentication_required", "Sign in as a trainer to manage availability")
	}
	trainer, err := s.trainers.GetByAccountID(ctx, actor.AccountID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if trainer == nil {
		return nil, models.NewUnauthorizedError("not_a_trainer", "Only trainers can manage availability")
	}
	return trainer, nil
}

func generationKey(trainerID int64) string {
	return fmt.Sprintf("availability:%d:gen", trainerID)
}

func (s *AvailabilityService) generation(ctx context.Context, trainerID int64) int64 {
	raw, ok, err := s.cache.Get(ctx, generationKey(trainerID))
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read availability generation")
		return 0
	}
	if !ok {
		return 0
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return gen
}

func (s *AvailabilityService) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Availability cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Discarding unreadable availability cache entry")
		return false
	}
	return true
}

func (s *AvailabilityService) cacheSet(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Availability cache write failed")
	}
}
