package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/database"
	"github.com/coachconnect/booking-engine/internal/models"
)

// maxNumberAttempts bounds regeneration of colliding booking numbers
const maxNumberAttempts = 3

// BookingService creates bookings and drives their lifecycle
type BookingService struct {
	trainers     TrainerStore
	bookings     BookingStore
	groups       GroupSessionStore
	identity     *IdentityService
	availability *AvailabilityService
	pricing      PricingPolicy
	dispatcher   Dispatcher
	numberPrefix string
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(
	trainers TrainerStore,
	bookings BookingStore,
	groups GroupSessionStore,
	identity *IdentityService,
	availability *AvailabilityService,
	pricing PricingPolicy,
	dispatcher Dispatcher,
	numberPrefix string,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		trainers:     trainers,
		bookings:     bookings,
		groups:       groups,
		identity:     identity,
		availability: availability,
		pricing:      pricing,
		dispatcher:   dispatcher,
		numberPrefix: numberPrefix,
		logger:       logger,
		now:          time.Now,
	}
}

// participant is the parent and player a booking is made for
type participant struct {
	parent *models.Parent
	player *models.Player
}

// CreateBooking books a single session, a package, a recurring series or a group seat.
// All rows of one request are written in a single transaction.
func (s *BookingService) CreateBooking(ctx context.Context, actor *models.Actor, req models.CreateBookingRequest) (*models.CreateBookingResponse, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	if req.Recurring != "" && req.SessionType != models.SessionSingle {
		return nil, models.NewValidationError("invalid_recurring", "Only single sessions can recur")
	}

	trainer, err := s.bookableTrainer(ctx, req.TrainerID)
	if err != nil {
		return nil, err
	}

	who, err := s.resolveParticipant(ctx, actor, req.PlayerID, req.Guest)
	if err != nil {
		return nil, err
	}

	if req.SessionType == models.SessionGroup {
		return s.joinGroup(ctx, trainer, who, req)
	}

	date, err := parseDate(req.SessionDate)
	if err != nil {
		return nil, err
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		return nil, err
	}
	end := start.Add(s.availability.SlotDuration())
	if end > models.TimeOfDay(24*60) {
		return nil, models.NewValidationError("invalid_time", "The session must end on the same day")
	}

	dates := []time.Time{date}
	if req.Recurring != "" {
		dates = models.SeriesDates(date, req.Recurring, req.RecurringCount)
	}
	if err := s.availability.VerifySlots(ctx, trainer.ID, dates, start); err != nil {
		return nil, err
	}

	base := models.Booking{
		TrainerID:     trainer.ID,
		ParentID:      who.parent.ID,
		PlayerID:      who.player.ID,
		StartTime:     start,
		EndTime:       end,
		Location:      req.Location,
		Status:        models.BookingStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		SessionType:   req.SessionType,
		Notes:         req.Notes,
	}

	var series *models.RecurringSeries
	var rows []*models.Booking
	var total int64
	if req.Recurring != "" {
		quote := s.pricing.Quote(trainer.HourlyRateCents, len(dates))
		total = quote.TotalAmountCents
		series = &models.RecurringSeries{
			ParentID:      who.parent.ID,
			TrainerID:     trainer.ID,
			PlayerID:      who.player.ID,
			Frequency:     req.Recurring,
			TotalSessions: len(dates),
			DayOfWeek:     int(date.Weekday()),
			PreferredTime: start,
			Status:        models.SeriesStatusActive,
		}
		for i, amount := range SplitEvenly(quote.TotalAmountCents, len(dates)) {
			b := base
			b.SessionDate = dates[i]
			b.TotalAmountCents = amount
			b.PlatformFeeCents, b.TrainerPayoutCents = s.pricing.Split(amount)
			b.SessionCount = 1
			rows = append(rows, &b)
		}
	} else {
		sessions := req.SessionType.PackageSessions()
		if !req.SessionType.IsPackage() && req.SessionCount > 1 {
			sessions = req.SessionCount
		}
		quote := s.pricing.Quote(trainer.HourlyRateCents, sessions)
		total = quote.TotalAmountCents

		b := base
		b.SessionDate = date
		b.TotalAmountCents = quote.TotalAmountCents
		b.PlatformFeeCents = quote.PlatformFeeCents
		b.TrainerPayoutCents = quote.TrainerPayoutCents
		b.SessionCount = sessions
		b.SessionsRemaining = sessions - 1
		rows = append(rows, &b)
	}

	err = s.withBookingNumbers(rows, func() error {
		return s.bookings.CreateBookings(ctx, series, rows)
	})
	if err != nil {
		return nil, datastoreError(err)
	}

	s.availability.InvalidateDate(ctx, trainer.ID, dates...)

	first := rows[0]
	s.logger.WithFields(logrus.Fields{
		"booking_id":     first.ID,
		"booking_number": first.BookingNumber,
		"trainer_id":     trainer.ID,
		"session_type":   first.SessionType,
		"sessions":       len(rows),
	}).Info("Booking created")

	for _, b := range rows {
		s.dispatcher.Enqueue(ctx, models.EventBookingCreated, bookingPayload(b))
	}

	resp := &models.CreateBookingResponse{
		BookingID:        first.ID,
		BookingNumber:    first.BookingNumber,
		Status:           first.Status,
		PaymentStatus:    first.PaymentStatus,
		TotalAmountCents: total,
	}
	if series != nil {
		resp.RecurringSeriesID = int64Ptr(series.ID)
		resp.SessionsCreated = len(rows)
	}
	return resp, nil
}

// Quote prices a number of sessions without booking anything
func (s *BookingService) Quote(ctx context.Context, req models.QuoteRequest) (*models.PriceQuote, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	trainer, err := s.bookableTrainer(ctx, req.TrainerID)
	if err != nil {
		return nil, err
	}
	quote := s.pricing.Quote(trainer.HourlyRateCents, req.SessionCount)
	return &quote, nil
}

// GetBooking looks a booking up by number or id. Lookup by booking number is
// open to guests, lookup by id requires the owning parent or the trainer.
func (s *BookingService) GetBooking(ctx context.Context, actor *models.Actor, ref string) (*models.Booking, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		b, err := s.bookings.GetByID(ctx, id)
		if err != nil {
			return nil, datastoreError(err)
		}
		if b == nil {
			return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
		}
		if _, err := s.authorizeBookingActor(ctx, actor, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := s.bookings.GetByNumber(ctx, ref)
	if err != nil {
		return nil, datastoreError(err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
	}
	return b, nil
}

// CancelBooking cancels a pending or confirmed booking on behalf of its
// parent or trainer. Cancelling never refunds credits.
func (s *BookingService) CancelBooking(ctx context.Context, actor *models.Actor, bookingID int64, reason string) (*models.StatusResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
	}
	by, err := s.authorizeBookingActor(ctx, actor, b)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanCancel() {
		return nil, invalidTransition(b, "cancelled")
	}

	var ok bool
	if b.GroupSessionID != nil {
		ok, err = s.groups.Leave(ctx, *b.GroupSessionID, b.ID, reason)
	} else {
		ok, err = s.bookings.Cancel(ctx, b.ID, reason)
	}
	if err != nil {
		return nil, datastoreError(err)
	}
	if !ok {
		return nil, s.transitionLost(ctx, b.ID, "cancelled")
	}

	if b.GroupSessionID == nil {
		s.availability.InvalidateDate(ctx, b.TrainerID, b.SessionDate)
	}

	b.Status = models.BookingStatusCancelled
	payload := bookingPayload(b)
	payload["cancelled_by"] = by
	payload["reason"] = reason
	s.dispatcher.Enqueue(ctx, models.EventBookingCancelled, payload)
	if b.GroupSessionID != nil {
		s.dispatcher.Enqueue(ctx, models.EventGroupLeft, payload)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   b.ID,
		"cancelled_by": by,
	}).Info("Booking cancelled")

	return &models.StatusResponse{BookingID: b.ID, Status: b.Status, PaymentStatus: b.PaymentStatus}, nil
}

// CompleteBooking marks a confirmed session as delivered. Only the trainer may do this.
func (s *BookingService) CompleteBooking(ctx context.Context, actor *models.Actor, bookingID int64) (*models.StatusResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
	}
	by, err := s.authorizeBookingActor(ctx, actor, b)
	if err != nil {
		return nil, err
	}
	if by != "trainer" {
		return nil, models.NewUnauthorizedError("trainer_only", "Only the trainer can complete a session")
	}
	if !b.Status.CanComplete() {
		return nil, invalidTransition(b, "completed")
	}

	ok, err := s.bookings.Complete(ctx, b.ID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if !ok {
		return nil, s.transitionLost(ctx, b.ID, "completed")
	}

	b.Status = models.BookingStatusCompleted
	s.dispatcher.Enqueue(ctx, models.EventBookingCompleted, bookingPayload(b))
	return &models.StatusResponse{BookingID: b.ID, Status: b.Status, PaymentStatus: b.PaymentStatus}, nil
}

func (s *BookingService) bookableTrainer(ctx context.Context, trainerID int64) (*models.Trainer, error) {
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

// resolveParticipant finds or provisions the parent and player a booking is for
func (s *BookingService) resolveParticipant(ctx context.Context, actor *models.Actor, playerID int64, guest *models.GuestInfo) (*participant, error) {
	if actor != nil {
		parent, err := s.identity.ParentForActor(ctx, actor)
		if err != nil {
			return nil, err
		}
		var player *models.Player
		switch {
		case playerID > 0:
			player, err = s.identity.AuthorizePlayer(ctx, parent, playerID)
		case guest != nil:
			player, err = s.identity.ResolvePlayer(ctx, parent, guest.Player)
		default:
			return nil, models.NewValidationError("player_required", "player_id is required")
		}
		if err != nil {
			return nil, err
		}
		return &participant{parent: parent, player: player}, nil
	}

	if guest == nil {
		return nil, models.NewValidationError("guest_required", "Sign in or provide guest details to book")
	}
	profile := guest.Profile
	if profile.Mode == "" {
		profile.Mode = models.IdentityGuest
	}
	account, _, err := s.identity.ResolveOrCreate(ctx, profile)
	if err != nil {
		return nil, err
	}
	parent, err := s.identity.EnsureParent(ctx, account, profile)
	if err != nil {
		return nil, err
	}
	player, err := s.identity.ResolvePlayer(ctx, parent, guest.Player)
	if err != nil {
		return nil, err
	}
	return &participant{parent: parent, player: player}, nil
}

// authorizeBookingActor returns "trainer" or "parent" for the caller's relation to b
func (s *BookingService) authorizeBookingActor(ctx context.Context, actor *models.Actor, b *models.Booking) (string, error) {
	return bookingRelation(ctx, s.trainers, s.identity, actor, b)
}

// transitionLost reports a compare-and-set that matched no row
func (s *BookingService) transitionLost(ctx context.Context, bookingID int64, target string) error {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return datastoreError(err)
	}
	if current == nil {
		return models.NewNotFoundError("booking_not_found", "Booking not found")
	}
	return invalidTransition(current, target)
}

func invalidTransition(b *models.Booking, target string) error {
	return models.NewConflictError("invalid_transition",
		"A "+string(b.Status)+" booking cannot be "+target)
}

// withBookingNumbers assigns fresh numbers to rows and runs write, retrying a
// bounded number of times when a number collides
func (s *BookingService) withBookingNumbers(rows []*models.Booking, write func() error) error {
	var err error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		for _, b := range rows {
			if b.BookingNumber, err = NewBookingNumber(s.numberPrefix, s.now()); err != nil {
				return err
			}
		}
		err = write()
		if !errors.Is(err, database.ErrDuplicateBookingNumber) {
			return err
		}
		s.logger.WithField("attempt", attempt+1).Warn("Booking number collision, regenerating")
	}
	return err
}

func bookingPayload(b *models.Booking) map[string]interface{} {
	payload := map[string]interface{}{
		"booking_id":           b.ID,
		"booking_number":       b.BookingNumber,
		"trainer_id":           b.TrainerID,
		"parent_id":            b.ParentID,
		"player_id":            b.PlayerID,
		"session_date":         b.DateString(),
		"start_time":           b.StartTime.String(),
		"end_time":             b.EndTime.String(),
		"session_type":         b.SessionType,
		"status":               b.Status,
		"payment_status":       b.PaymentStatus,
		"total_amount_cents":   b.TotalAmountCents,
		"trainer_payout_cents": b.TrainerPayoutCents,
		"platform_fee_cents":   b.PlatformFeeCents,
	}
	if b.RecurringSeriesID != nil {
		payload["recurring_series_id"] = *b.RecurringSeriesID
	}
	if b.GroupSessionID != nil {
		payload["group_session_id"] = *b.GroupSessionID
	}
	return payload
}
