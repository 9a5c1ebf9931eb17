package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
)

// PaymentService creates payment intents and turns verified payments into
// confirmed bookings or package credits. A payment that succeeded at the
// gateway is never reported to the client as failed.
type PaymentService struct {
	bookings        BookingStore
	intents         PaymentIntentStore
	reconciliations ReconciliationStore
	trainers        TrainerStore
	identity        *IdentityService
	credits         *CreditService
	availability    *AvailabilityService
	gateway         PaymentGateway
	audit           *AuditService
	pricing         PricingPolicy
	retry           RetryPolicy
	dispatcher      Dispatcher
	currency        string
	pendingTTL      time.Duration
	logger          *logrus.Logger
	now             func() time.Time
}

// PaymentServiceDeps groups the collaborators of a PaymentService
type PaymentServiceDeps struct {
	Bookings        BookingStore
	Intents         PaymentIntentStore
	Reconciliations ReconciliationStore
	Trainers        TrainerStore
	Identity        *IdentityService
	Credits         *CreditService
	Availability    *AvailabilityService
	Gateway         PaymentGateway
	Audit           *AuditService
	Pricing         PricingPolicy
	Retry           RetryPolicy
	Dispatcher      Dispatcher
	Currency        string
	PendingTTL      time.Duration
	Logger          *logrus.Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(deps PaymentServiceDeps) *PaymentService {
	return &PaymentService{
		bookings:        deps.Bookings,
		intents:         deps.Intents,
		reconciliations: deps.Reconciliations,
		trainers:        deps.Trainers,
		identity:        deps.Identity,
		credits:         deps.Credits,
		availability:    deps.Availability,
		gateway:         deps.Gateway,
		audit:           deps.Audit,
		pricing:         deps.Pricing,
		retry:           deps.Retry,
		dispatcher:      deps.Dispatcher,
		currency:        deps.Currency,
		pendingTTL:      deps.PendingTTL,
		logger:          deps.Logger,
		now:             time.Now,
	}
}

// CreateIntent dispatches to booking or package intent creation. A booking
// is paid by its booking number, which guests hold, or by id when the caller
// is the booking's parent or trainer.
func (s *PaymentService) CreateIntent(ctx context.Context, actor *models.Actor, req models.CreateIntentRequest) (*models.IntentResponse, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}

	switch {
	case req.BookingNumber != "":
		b, err := s.bookings.GetByNumber(ctx, req.BookingNumber)
		if err != nil {
			return nil, datastoreError(err)
		}
		if b == nil {
			return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
		}
		return s.bookingIntent(ctx, b)
	case req.BookingID > 0:
		b, err := s.bookings.GetByID(ctx, req.BookingID)
		if err != nil {
			return nil, datastoreError(err)
		}
		if b == nil {
			return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
		}
		if _, err := bookingRelation(ctx, s.trainers, s.identity, actor, b); err != nil {
			return nil, err
		}
		return s.bookingIntent(ctx, b)
	}
	return s.CreatePackageIntent(ctx, actor, req.TrainerID, req.PackageSize)
}

// bookingIntent returns an intent covering the booking, or its whole series.
// The latest intent is reused while it can still be paid, or once it is paid.
func (s *PaymentService) bookingIntent(ctx context.Context, booking *models.Booking) (*models.IntentResponse, error) {
	b, err := s.payableBooking(ctx, booking)
	if err != nil {
		return nil, err
	}
	amount, err := s.bookings.PayableAmount(ctx, b)
	if err != nil {
		return nil, datastoreError(err)
	}

	key := fmt.Sprintf("booking-%d", b.ID)
	existing, err := s.intents.FindLatestForBooking(ctx, b.ID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if existing != nil {
		if existing.Status != models.IntentCanceled {
			resp, err := s.reuseIntent(ctx, existing, amount, b.ID)
			if err != nil || resp != nil {
				return resp, err
			}
		}
		key = fmt.Sprintf("booking-%d-%s", b.ID, existing.IntentID)
	}

	intent, err := s.createGatewayIntent(ctx, CreateIntentParams{
		AmountCents: amount,
		Currency:    s.currency,
		Metadata: map[string]string{
			"booking_id":     strconv.FormatInt(b.ID, 10),
			"booking_number": b.BookingNumber,
			"trainer_id":     strconv.FormatInt(b.TrainerID, 10),
		},
		IdempotencyKey: key,
	}, b.ID)
	if err != nil {
		return nil, err
	}

	rec := &models.PaymentIntentRecord{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Purpose:      models.PurposeBooking,
		BookingID:    int64Ptr(b.ID),
		ParentID:     b.ParentID,
		TrainerID:    b.TrainerID,
		AmountCents:  amount,
		Currency:     s.currency,
		Status:       intent.Status,
	}
	if err := s.intents.Save(ctx, rec); err != nil {
		return nil, datastoreError(err)
	}
	if err := s.bookings.AttachPaymentIntent(ctx, b, intent.ID); err != nil {
		return nil, datastoreError(err)
	}

	audit := models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetBooking(b.ID).
		SetGatewayStatus(intent.Status).
		SetIdempotencyKey(key)
	audit.SetAmounts(amount, intent.AmountCents)
	s.audit.Record(ctx, audit)

	return &models.IntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amount,
		Currency:     s.currency,
	}, nil
}

// CreatePackageIntent returns an intent for buying a credit package with a trainer
func (s *PaymentService) CreatePackageIntent(ctx context.Context, actor *models.Actor, trainerID int64, size int) (*models.IntentResponse, error) {
	if size != 5 && size != 10 {
		return nil, models.NewValidationError("invalid_package_size", "Packages hold 5 or 10 sessions")
	}
	parent, err := s.identity.ParentForActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	trainer, err := s.trainers.GetByID(ctx, trainerID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if trainer == nil || !trainer.IsBookable() {
		return nil, models.NewValidationError("invalid_trainer", "Trainer is not accepting bookings")
	}
	amount := s.pricing.Quote(trainer.HourlyRateCents, size).TotalAmountCents

	existing, err := s.intents.FindOpenForPackage(ctx, parent.ID, trainer.ID, size)
	if err != nil {
		return nil, datastoreError(err)
	}
	if existing != nil {
		resp, err := s.reuseIntent(ctx, existing, amount, 0)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	key := fmt.Sprintf("package-%d-%d-%d-%s", parent.ID, trainer.ID, size, uuid.NewString())
	intent, err := s.createGatewayIntent(ctx, CreateIntentParams{
		AmountCents: amount,
		Currency:    s.currency,
		Metadata: map[string]string{
			"purpose":      string(models.PurposePackage),
			"parent_id":    strconv.FormatInt(parent.ID, 10),
			"trainer_id":   strconv.FormatInt(trainer.ID, 10),
			"package_size": strconv.Itoa(size),
		},
		IdempotencyKey: key,
	}, 0)
	if err != nil {
		return nil, err
	}

	rec := &models.PaymentIntentRecord{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Purpose:      models.PurposePackage,
		ParentID:     parent.ID,
		TrainerID:    trainer.ID,
		PackageSize:  size,
		AmountCents:  amount,
		Currency:     s.currency,
		Status:       intent.Status,
	}
	if err := s.intents.Save(ctx, rec); err != nil {
		return nil, datastoreError(err)
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetGatewayStatus(intent.Status).
		SetIdempotencyKey(key).
		WithDetail("package_size", size).
		WithDetail("trainer_id", trainer.ID))

	return &models.IntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amount,
		Currency:     s.currency,
	}, nil
}

// ConfirmPayment verifies the intent with the gateway and confirms the
// booking. Confirming an already confirmed booking with the same intent is a
// no-op, and the confirmation event is emitted once.
func (s *PaymentService) ConfirmPayment(ctx context.Context, req models.ConfirmPaymentRequest) (*models.StatusResponse, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	b, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking_not_found", "Booking not found")
	}
	if b.IsPaidWith(req.IntentID) {
		return statusOf(b), nil
	}
	if b.PaymentStatus == models.PaymentStatusPaid {
		return nil, models.NewConflictError("already_paid", "This booking has already been paid")
	}

	anchor, err := s.seriesAnchor(ctx, b)
	if err != nil {
		return nil, err
	}
	rec, err := s.intents.GetByIntentID(ctx, req.IntentID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if rec == nil || rec.Purpose != models.PurposeBooking || rec.BookingID == nil || *rec.BookingID != anchor.ID {
		return nil, models.NewValidationError("intent_mismatch", "The payment does not belong to this booking")
	}

	intent, err := s.verifyIntent(ctx, req.IntentID, anchor.ID)
	if err != nil {
		return nil, err
	}

	expected, err := s.bookings.PayableAmount(ctx, anchor)
	if err != nil {
		return nil, datastoreError(err)
	}
	if err := s.checkAmount(ctx, intent, expected, anchor.ID); err != nil {
		return nil, err
	}

	if err := s.settleBooking(ctx, anchor, intent); err != nil {
		return nil, err
	}
	b.Status, b.PaymentStatus = models.BookingStatusConfirmed, models.PaymentStatusPaid
	return statusOf(b), nil
}

// ConfirmPackagePurchase verifies a package intent and grants the credit.
// Confirming twice returns the same credit.
func (s *PaymentService) ConfirmPackagePurchase(ctx context.Context, actor *models.Actor, req models.ConfirmPackageRequest) (*models.PackageCredit, error) {
	if err := models.Validate(req); err != nil {
		return nil, err
	}
	parent, err := s.identity.ParentForActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	rec, err := s.intents.GetByIntentID(ctx, req.IntentID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if rec == nil || rec.Purpose != models.PurposePackage {
		return nil, models.NewNotFoundError("intent_not_found", "Payment not found")
	}
	if rec.ParentID != parent.ID {
		return nil, models.NewUnauthorizedError("intent_not_owned", "This payment does not belong to your account")
	}

	intent, err := s.verifyIntent(ctx, req.IntentID, 0)
	if err != nil {
		return nil, err
	}
	if err := s.checkAmount(ctx, intent, rec.AmountCents, 0); err != nil {
		return nil, err
	}

	credit, err := s.grantPackage(ctx, rec, intent)
	if err != nil {
		return nil, s.flagReconciliation(ctx, 0, intent, err)
	}
	return credit, nil
}

// ReconcileStalePending settles bookings left pending past their payment
// window. Paid intents confirm the booking, anything else cancels it and
// gives a group seat back. Bookings with an open reconciliation case are skipped.
func (s *PaymentService) ReconcileStalePending(ctx context.Context) (confirmed, cancelled int, err error) {
	cutoff := s.now().Add(-s.pendingTTL)
	stale, err := s.bookings.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		return 0, 0, datastoreError(err)
	}

	for i := range stale {
		b := &stale[i]
		flagged, err := s.reconciliations.HasOpenForBooking(ctx, b.ID)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to check reconciliation cases for stale booking")
			continue
		}
		if flagged {
			// money already moved, the reconciliation retry owns this booking
			continue
		}

		// the latest intent may already be succeeded locally if the booking write failed
		rec, err := s.intents.FindLatestForBooking(ctx, b.ID)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to load intent for stale booking")
			continue
		}

		if rec != nil {
			intent, err := s.getIntent(ctx, rec.IntentID)
			if err != nil {
				// unknown gateway state, leave the booking for the next run
				s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Could not verify stale booking payment")
				continue
			}
			if intent.Status.IsAccepted() {
				expected, err := s.bookings.PayableAmount(ctx, b)
				if err != nil {
					s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to price stale booking")
					continue
				}
				if err := s.checkAmount(ctx, intent, expected, b.ID); err != nil {
					s.logger.WithError(err).WithField("booking_id", b.ID).Error("Stale booking paid with a different amount, left for review")
					continue
				}
				if err := s.settleBooking(ctx, b, intent); err != nil {
					s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to confirm stale booking")
					continue
				}
				confirmed++
				continue
			}
		}

		n, err := s.bookings.CancelUnpaid(ctx, b, "payment_timeout")
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to cancel stale booking")
			continue
		}
		if n == 0 {
			continue
		}
		cancelled++
		s.releaseCancelled(ctx, b)
	}

	if confirmed > 0 || cancelled > 0 {
		s.logger.WithFields(logrus.Fields{
			"confirmed": confirmed,
			"cancelled": cancelled,
		}).Info("Stale pending bookings reconciled")
	}
	return confirmed, cancelled, nil
}

// RetryReconciliations retries open cases where money moved but state did not follow
func (s *PaymentService) RetryReconciliations(ctx context.Context) (resolved int, err error) {
	cases, err := s.reconciliations.ListOpen(ctx, 50)
	if err != nil {
		return 0, datastoreError(err)
	}

	for _, rc := range cases {
		if err := s.resolveCase(ctx, rc); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"reconciliation_id": rc.ID,
				"intent_id":         rc.IntentID,
				"alert":             "reconciliation_required",
			}).Warn("Reconciliation attempt failed")
			if recErr := s.reconciliations.RecordAttempt(ctx, rc.ID, err.Error()); recErr != nil {
				s.logger.WithError(recErr).Error("Failed to record reconciliation attempt")
			}
			continue
		}
		if err := s.reconciliations.Resolve(ctx, rc.ID); err != nil {
			s.logger.WithError(err).Error("Failed to resolve reconciliation")
			continue
		}
		resolved++
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationResolved, models.PaymentSourceSystem).
			SetIntent(rc.IntentID).
			SetBooking(rc.BookingID))
	}
	return resolved, nil
}

func (s *PaymentService) resolveCase(ctx context.Context, rc models.PaymentReconciliation) error {
	intent, err := s.getIntent(ctx, rc.IntentID)
	if err != nil {
		return err
	}
	if !intent.Status.IsAccepted() {
		return fmt.Errorf("intent is %s", intent.Status)
	}

	if rc.BookingID == 0 {
		rec, err := s.intents.GetByIntentID(ctx, rc.IntentID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no local record of intent")
		}
		_, err = s.grantPackage(ctx, rec, intent)
		return err
	}

	b, err := s.bookings.GetByID(ctx, rc.BookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("booking no longer exists")
	}
	if b.IsPaidWith(intent.ID) {
		return s.grantRemainder(ctx, b, intent)
	}
	if b.Status != models.BookingStatusPending {
		return fmt.Errorf("booking is %s, refund or manual restore required", b.Status)
	}
	ok, err := s.bookings.MarkPaid(ctx, b, intent.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("booking changed state during reconciliation")
	}
	s.onConfirmed(ctx, b, intent)
	return s.grantRemainder(ctx, b, intent)
}

// settleBooking marks a verified booking paid. Any failure here happens after
// the gateway took the money, so it becomes a reconciliation case.
func (s *PaymentService) settleBooking(ctx context.Context, b *models.Booking, intent *models.GatewayIntent) error {
	if b.Status == models.BookingStatusCancelled && b.RecurringSeriesID == nil {
		return s.flagReconciliation(ctx, b.ID, intent, errors.New("payment received for a cancelled booking"))
	}

	ok, err := s.bookings.MarkPaid(ctx, b, intent.ID)
	if err != nil {
		return s.flagReconciliation(ctx, b.ID, intent, err)
	}
	if !ok {
		current, err := s.bookings.GetByID(ctx, b.ID)
		if err != nil {
			return s.flagReconciliation(ctx, b.ID, intent, err)
		}
		if current != nil && current.IsPaidWith(intent.ID) {
			return nil
		}
		return s.flagReconciliation(ctx, b.ID, intent, errors.New("booking was no longer pending"))
	}

	s.onConfirmed(ctx, b, intent)
	if err := s.grantRemainder(ctx, b, intent); err != nil {
		return s.flagReconciliation(ctx, b.ID, intent, err)
	}
	return nil
}

func (s *PaymentService) onConfirmed(ctx context.Context, b *models.Booking, intent *models.GatewayIntent) {
	b.Status, b.PaymentStatus = models.BookingStatusConfirmed, models.PaymentStatusPaid
	b.PaymentIntentID = stringPtr(intent.ID)

	audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetBooking(b.ID).
		SetGatewayStatus(intent.Status)
	s.audit.Record(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"intent_id":  intent.ID,
		"amount":     intent.AmountCents,
	}).Info("Booking confirmed")

	payload := bookingPayload(b)
	payload["intent_id"] = intent.ID
	payload["amount_paid_cents"] = intent.AmountCents
	s.dispatcher.Enqueue(ctx, models.EventBookingConfirmed, payload)
}

// grantRemainder turns the unused sessions of a paid package booking into a credit
func (s *PaymentService) grantRemainder(ctx context.Context, b *models.Booking, intent *models.GatewayIntent) error {
	if b.RecurringSeriesID != nil || b.SessionsRemaining <= 0 || b.SessionCount <= 1 {
		return nil
	}
	credit := &models.PackageCredit{
		ParentID:             b.ParentID,
		TrainerID:            b.TrainerID,
		TotalCredits:         b.SessionsRemaining,
		Remaining:            b.SessionsRemaining,
		PricePerSessionCents: b.TotalAmountCents / int64(b.SessionCount),
		Status:               models.CreditStatusActive,
		PaymentIntentID:      stringPtr(intent.ID),
	}
	created, err := s.credits.Grant(ctx, credit)
	if err != nil {
		return err
	}
	if created {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventCreditGranted, models.PaymentSourceBackend).
			SetIntent(intent.ID).
			SetBooking(b.ID).
			WithDetail("credits", credit.TotalCredits))
	}
	return nil
}

func (s *PaymentService) grantPackage(ctx context.Context, rec *models.PaymentIntentRecord, intent *models.GatewayIntent) (*models.PackageCredit, error) {
	credit := &models.PackageCredit{
		ParentID:             rec.ParentID,
		TrainerID:            rec.TrainerID,
		TotalCredits:         rec.PackageSize,
		Remaining:            rec.PackageSize,
		PricePerSessionCents: rec.AmountCents / int64(rec.PackageSize),
		Status:               models.CreditStatusActive,
		PaymentIntentID:      stringPtr(intent.ID),
	}
	created, err := s.credits.Grant(ctx, credit)
	if err != nil {
		return nil, err
	}
	if created {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventCreditGranted, models.PaymentSourceBackend).
			SetIntent(intent.ID).
			WithDetail("credits", credit.TotalCredits))
	}
	return credit, nil
}

// flagReconciliation records money that moved without the booking state
// following, alerts operators and returns the error shown to the client
func (s *PaymentService) flagReconciliation(ctx context.Context, bookingID int64, intent *models.GatewayIntent, cause error) error {
	s.logger.WithError(cause).WithFields(logrus.Fields{
		"alert":      "reconciliation_required",
		"booking_id": bookingID,
		"intent_id":  intent.ID,
		"amount":     intent.AmountCents,
	}).Error("CRITICAL: payment succeeded but booking state was not updated")

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventBookingConfirmFailed, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetBooking(bookingID).
		SetGatewayStatus(intent.Status).
		SetError(cause))

	rc := &models.PaymentReconciliation{
		BookingID:   bookingID,
		IntentID:    intent.ID,
		AmountCents: intent.AmountCents,
		Status:      models.ReconciliationOpen,
		LastError:   cause.Error(),
	}
	if err := s.reconciliations.Open(ctx, rc); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"alert":     "reconciliation_required",
			"intent_id": intent.ID,
		}).Error("CRITICAL: failed to open reconciliation case")
	}
	return models.NewReconciliationRequiredError(cause)
}

// reuseIntent returns a response for a still usable intent, or nil when a new
// intent must be created
func (s *PaymentService) reuseIntent(ctx context.Context, rec *models.PaymentIntentRecord, amount, bookingID int64) (*models.IntentResponse, error) {
	intent, err := s.getIntent(ctx, rec.IntentID)
	if err != nil {
		s.recordGatewayError(ctx, rec.IntentID, bookingID, err)
		return nil, models.NewPaymentVerificationError("gateway_unavailable", err)
	}
	if intent.Status != rec.Status {
		if err := s.intents.UpdateStatus(ctx, rec.IntentID, intent.Status); err != nil {
			s.logger.WithError(err).WithField("intent_id", rec.IntentID).Warn("Failed to update intent status")
		}
	}

	usable := intent.Status == models.IntentSucceeded || (!intent.Status.IsTerminal() && intent.AmountCents == amount)
	if !usable {
		return nil, nil
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventIntentReused, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetBooking(bookingID).
		SetGatewayStatus(intent.Status))

	secret := intent.ClientSecret
	if secret == "" {
		secret = rec.ClientSecret
	}
	return &models.IntentResponse{
		IntentID:     intent.ID,
		ClientSecret: secret,
		AmountCents:  intent.AmountCents,
		Currency:     rec.Currency,
		Reused:       true,
	}, nil
}

func (s *PaymentService) createGatewayIntent(ctx context.Context, params CreateIntentParams, bookingID int64) (*models.GatewayIntent, error) {
	var intent *models.GatewayIntent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.CreateIntent(ctx, params)
		return err
	})
	if err != nil {
		s.recordGatewayError(ctx, "", bookingID, err)
		return nil, models.NewPaymentVerificationError("gateway_unavailable", err)
	}
	return intent, nil
}

func (s *PaymentService) getIntent(ctx context.Context, intentID string) (*models.GatewayIntent, error) {
	var intent *models.GatewayIntent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.GetIntent(ctx, intentID)
		return err
	})
	return intent, err
}

// verifyIntent fetches the intent and requires an accepted status
func (s *PaymentService) verifyIntent(ctx context.Context, intentID string, bookingID int64) (*models.GatewayIntent, error) {
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventStatusCheckRequest, models.PaymentSourceUser).
		SetIntent(intentID).
		SetBooking(bookingID))

	intent, err := s.getIntent(ctx, intentID)
	if err != nil {
		s.recordGatewayError(ctx, intentID, bookingID, err)
		return nil, models.NewPaymentVerificationError("gateway_unavailable", err)
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventStatusCheckResponse, models.PaymentSourceGatewayAPI).
		SetIntent(intentID).
		SetBooking(bookingID).
		SetGatewayStatus(intent.Status))
	if err := s.intents.UpdateStatus(ctx, intentID, intent.Status); err != nil {
		s.logger.WithError(err).WithField("intent_id", intentID).Warn("Failed to update intent status")
	}

	if !intent.Status.IsAccepted() {
		return nil, &models.AppError{
			Kind:      models.KindPaymentVerification,
			Code:      "payment_not_completed",
			Message:   "The payment has not been completed.",
			Retryable: !intent.Status.IsTerminal(),
		}
	}
	return intent, nil
}

func (s *PaymentService) checkAmount(ctx context.Context, intent *models.GatewayIntent, expected, bookingID int64) error {
	audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceBackend).
		SetIntent(intent.ID).
		SetBooking(bookingID).
		SetGatewayStatus(intent.Status)
	if audit.SetAmounts(expected, intent.AmountCents) {
		return nil
	}
	s.audit.Record(ctx, audit)
	s.logger.WithFields(logrus.Fields{
		"alert":      "amount_mismatch",
		"intent_id":  intent.ID,
		"booking_id": bookingID,
		"expected":   expected,
		"received":   intent.AmountCents,
	}).Error("Payment amount does not match booking total")
	return &models.AppError{
		Kind:    models.KindPaymentVerification,
		Code:    "amount_mismatch",
		Message: "The payment amount does not match the booking total.",
	}
}

func (s *PaymentService) recordGatewayError(ctx context.Context, intentID string, bookingID int64, err error) {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"intent_id":  intentID,
		"booking_id": bookingID,
	}).Warn("Payment gateway call failed")
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventGatewayError, models.PaymentSourceGatewayAPI).
		SetIntent(intentID).
		SetBooking(bookingID).
		SetError(err))
}

// payableBooking checks the booking an intent is created for, resolved to the
// first booking of its series
func (s *PaymentService) payableBooking(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.PaymentStatus == models.PaymentStatusPaid {
		return nil, models.NewConflictError("already_paid", "This booking has already been paid")
	}
	if b.Status != models.BookingStatusPending {
		return nil, models.NewConflictError("booking_not_payable", "Only pending bookings can be paid")
	}
	return s.seriesAnchor(ctx, b)
}

func (s *PaymentService) seriesAnchor(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.RecurringSeriesID == nil {
		return b, nil
	}
	series, err := s.bookings.ListBySeries(ctx, *b.RecurringSeriesID)
	if err != nil {
		return nil, datastoreError(err)
	}
	if len(series) == 0 || series[0].ID == b.ID {
		return b, nil
	}
	return &series[0], nil
}

func (s *PaymentService) releaseCancelled(ctx context.Context, b *models.Booking) {
	dates := []time.Time{b.SessionDate}
	if b.RecurringSeriesID != nil {
		if series, err := s.bookings.ListBySeries(ctx, *b.RecurringSeriesID); err == nil {
			dates = dates[:0]
			for _, sb := range series {
				dates = append(dates, sb.SessionDate)
			}
		}
	}
	if b.GroupSessionID == nil {
		s.availability.InvalidateDate(ctx, b.TrainerID, dates...)
	}

	b.Status = models.BookingStatusCancelled
	payload := bookingPayload(b)
	payload["cancelled_by"] = "system"
	payload["reason"] = "payment_timeout"
	s.dispatcher.Enqueue(ctx, models.EventBookingCancelled, payload)
}

func statusOf(b *models.Booking) *models.StatusResponse {
	return &models.StatusResponse{BookingID: b.ID, Status: b.Status, PaymentStatus: b.PaymentStatus}
}
