package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
)

// CreateGroupSession opens a group session in one of the caller's free slots
func (s *BookingService) CreateGroupSession(ctx context.Context, actor *models.Actor, req models.CreateGroupSessionRequest) (*models.GroupSession, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, models.NewUnauthorizedError("authentication_required", "Sign in as a trainer to create group sessions")
	}
	trainer, err := s.trainers.GetByAccountID(ctx, actor.AccountID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if trainer == nil {
		return nil, models.NewUnauthorizedError("not_a_trainer", "Only trainers can create group sessions")
	}
	if !trainer.IsBookable() {
		return nil, models.NewValidationError("trainer_unavailable", "Trainer is not accepting bookings")
	}

	date, err := parseDate(req.SessionDate)
	if err != nil {
		return nil, err
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		return nil, err
	}
	if err := s.availability.VerifySlots(ctx, trainer.ID, []time.Time{date}, start); err != nil {
		return nil, err
	}

	g := &models.GroupSession{
		TrainerID:           trainer.ID,
		SessionDate:         date,
		StartTime:           start,
		EndTime:             start.Add(s.availability.SlotDuration()),
		Location:            req.Location,
		MaxPlayers:          req.MaxPlayers,
		PricePerPlayerCents: req.PricePerPlayerCents,
		Status:              models.GroupSessionOpen,
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, datastoreError(err)
	}
	s.availability.InvalidateDate(ctx, trainer.ID, date)

	s.logger.WithFields(logrus.Fields{
		"group_session_id": g.ID,
		"trainer_id":       trainer.ID,
		"max_players":      g.MaxPlayers,
	}).Info("Group session created")
	return g, nil
}

// LeaveGroupSession cancels the caller's seat in a group session
func (s *BookingService) LeaveGroupSession(ctx context.Context, actor *models.Actor, sessionID, bookingID int64, reason string) (*models.StatusResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if b == nil || b.GroupSessionID == nil || *b.GroupSessionID != sessionID {
		return nil, models.NewNotFoundError("booking_not_found", "No seat in this group session")
	}
	return s.CancelBooking(ctx, actor, bookingID, reason)
}

// joinGroup books one seat. The seat counter and the booking row are written together.
func (s *BookingService) joinGroup(ctx context.Context, trainer *models.Trainer, who *participant, req models.CreateBookingRequest) (*models.CreateBookingResponse, error) {
	g, err := s.groups.GetByID(ctx, req.GroupSessionID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if g == nil {
		return nil, models.NewNotFoundError("group_session_not_found", "Group session not found")
	}
	if g.TrainerID != trainer.ID {
		return nil, models.NewValidationError("group_trainer_mismatch", "The group session belongs to another trainer")
	}
	if g.Status != models.GroupSessionOpen {
		return nil, models.NewConflictError("group_closed", "This group session is no longer open")
	}
	clock := s.availability.Clock()
	if g.SessionDate.Before(clock.Today) || (g.SessionDate.Equal(clock.Today) && g.StartTime <= clock.Now) {
		return nil, models.NewConflictError("group_started", "This group session has already started")
	}
	if g.OpenSpots() == 0 {
		return nil, models.NewConflictError("group_full", "This group session is full")
	}

	fee, payout := s.pricing.Split(g.PricePerPlayerCents)
	b := &models.Booking{
		TrainerID:          trainer.ID,
		ParentID:           who.parent.ID,
		PlayerID:           who.player.ID,
		SessionDate:        g.SessionDate,
		StartTime:          g.StartTime,
		EndTime:            g.EndTime,
		Location:           g.Location,
		Status:             models.BookingStatusPending,
		PaymentStatus:      models.PaymentStatusPending,
		TotalAmountCents:   g.PricePerPlayerCents,
		PlatformFeeCents:   fee,
		TrainerPayoutCents: payout,
		SessionType:        models.SessionGroup,
		SessionCount:       1,
		GroupSessionID:     int64Ptr(g.ID),
		Notes:              req.Notes,
	}

	var seats int
	err = s.withBookingNumbers([]*models.Booking{b}, func() error {
		var joinErr error
		seats, joinErr = s.groups.Join(ctx, g.ID, b)
		return joinErr
	})
	if err != nil {
		return nil, datastoreError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"group_session_id": g.ID,
		"booking_id":       b.ID,
		"current_players":  seats,
	}).Info("Player joined group session")

	payload := bookingPayload(b)
	payload["current_players"] = seats
	s.dispatcher.Enqueue(ctx, models.EventGroupJoined, payload)
	s.dispatcher.Enqueue(ctx, models.EventBookingCreated, bookingPayload(b))

	return &models.CreateBookingResponse{
		BookingID:        b.ID,
		BookingNumber:    b.BookingNumber,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		TotalAmountCents: b.TotalAmountCents,
	}, nil
}
