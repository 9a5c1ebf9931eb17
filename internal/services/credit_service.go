package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
)

// CreditService grants prepaid package credits and books sessions against them
type CreditService struct {
	credits      CreditStore
	bookings     *BookingService
	identity     *IdentityService
	availability *AvailabilityService
	dispatcher   Dispatcher
	logger       *logrus.Logger
	now          func() time.Time
}

// NewCreditService creates a new CreditService
func NewCreditService(
	credits CreditStore,
	bookings *BookingService,
	identity *IdentityService,
	availability *AvailabilityService,
	dispatcher Dispatcher,
	logger *logrus.Logger,
) *CreditService {
	return &CreditService{
		credits:      credits,
		bookings:     bookings,
		identity:     identity,
		availability: availability,
		dispatcher:   dispatcher,
		logger:       logger,
		now:          time.Now,
	}
}

// Redeem books a session paid for by one credit. The decrement and the
// booking insert share a transaction, so one credit never backs two bookings.
func (s *CreditService) Redeem(ctx context.Context, actor *models.Actor, creditID int64, req models.RedeemCreditRequest) (*models.RedeemCreditResponse, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	parent, err := s.identity.ParentForActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	credit, err := s.credits.GetByID(ctx, creditID, parent.ID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if credit == nil {
		return nil, models.NewNotFoundError("credit_not_found", "Package credit not found")
	}
	if !credit.IsRedeemable(s.now()) {
		return nil, models.NewInsufficientCreditError("This package has no sessions left")
	}

	trainer, err := s.bookings.bookableTrainer(ctx, credit.TrainerID)
	if err != nil {
		return nil, err
	}
	player, err := s.identity.AuthorizePlayer(ctx, parent, req.PlayerID)
	if err != nil {
		return nil, err
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

	b := &models.Booking{
		TrainerID:     trainer.ID,
		ParentID:      parent.ID,
		PlayerID:      player.ID,
		SessionDate:   date,
		StartTime:     start,
		EndTime:       start.Add(s.availability.SlotDuration()),
		Location:      req.Location,
		Status:        models.BookingStatusConfirmed,
		PaymentStatus: models.PaymentStatusPaid,
		SessionType:   models.SessionCredit,
		SessionCount:  1,
		Notes:         req.Notes,
	}

	var remaining int
	err = s.bookings.withBookingNumbers([]*models.Booking{b}, func() error {
		var redeemErr error
		remaining, redeemErr = s.credits.RedeemForBooking(ctx, credit.ID, parent.ID, b)
		return redeemErr
	})
	if err != nil {
		return nil, datastoreError(err)
	}

	s.availability.InvalidateDate(ctx, trainer.ID, date)

	s.logger.WithFields(logrus.Fields{
		"credit_id":  credit.ID,
		"booking_id": b.ID,
		"remaining":  remaining,
	}).Info("Package credit redeemed")

	payload := bookingPayload(b)
	payload["package_credit_id"] = credit.ID
	payload["credits_remaining"] = remaining
	s.dispatcher.Enqueue(ctx, models.EventCreditRedeemed, payload)
	s.dispatcher.Enqueue(ctx, models.EventBookingCreated, bookingPayload(b))

	return &models.RedeemCreditResponse{
		BookingID:         b.ID,
		BookingNumber:     b.BookingNumber,
		SessionsRemaining: remaining,
	}, nil
}

// Grant stores a paid credit. Granting twice for the same payment intent
// returns the first credit and created=false.
func (s *CreditService) Grant(ctx context.Context, credit *models.PackageCredit) (bool, error) {
	if credit.Status == "" {
		credit.Status = models.CreditStatusActive
	}
	if credit.Remaining == 0 {
		credit.Remaining = credit.TotalCredits
	}
	created, err := s.credits.Grant(ctx, credit)
	if err != nil {
		return false, datastoreError(err)
	}
	if created {
		s.logger.WithFields(logrus.Fields{
			"credit_id":  credit.ID,
			"parent_id":  credit.ParentID,
			"trainer_id": credit.TrainerID,
			"credits":    credit.TotalCredits,
		}).Info("Package credit granted")

		s.dispatcher.Enqueue(ctx, models.EventCreditGranted, map[string]interface{}{
			"credit_id":               credit.ID,
			"parent_id":               credit.ParentID,
			"trainer_id":              credit.TrainerID,
			"total_credits":           credit.TotalCredits,
			"remaining":               credit.Remaining,
			"price_per_session_cents": credit.PricePerSessionCents,
		})
	}
	return created, nil
}

// ListCredits returns the caller's package credits
func (s *CreditService) ListCredits(ctx context.Context, actor *models.Actor) ([]models.PackageCredit, error) {
	parent, err := s.identity.ParentForActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	credits, err := s.credits.ListByParent(ctx, parent.ID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if credits == nil {
		credits = []models.PackageCredit{}
	}
	return credits, nil
}
