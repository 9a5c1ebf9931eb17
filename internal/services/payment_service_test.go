package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachconnect/booking-engine/internal/models"
)

// pendingBooking books a guest session and opens an intent for it
func pendingBooking(t *testing.T, h *harness, req models.CreateBookingRequest) (*models.CreateBookingResponse, *models.IntentResponse) {
	t.Helper()
	ctx := context.Background()
	if req.Guest == nil && req.PlayerID == 0 {
		req.Guest = guestInfo("payer@example.com")
	}
	booking, err := h.bookingSvc.CreateBooking(ctx, nil, req)
	require.NoError(t, err)
	intent, err := h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
	require.NoError(t, err)
	return booking, intent
}

func TestPaymentService_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("confirming twice emits one event", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		assert.Equal(t, int64(8000), intent.AmountCents)
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)

		req := models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID}
		first, err := h.paymentSvc.ConfirmPayment(ctx, req)
		require.NoError(t, err)
		second, err := h.paymentSvc.ConfirmPayment(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, models.BookingStatusConfirmed, second.Status)
		assert.Equal(t, models.PaymentStatusPaid, second.PaymentStatus)
		assert.Equal(t, 1, h.dispatcher.count(models.EventBookingConfirmed))
		assert.Equal(t, 1, h.audits.count(models.PaymentEventBookingConfirmed))

		trail, err := NewAuditService(h.audits, testLogger()).Trail(ctx, intent.IntentID)
		require.NoError(t, err)
		types := make([]models.PaymentEventType, 0, len(trail))
		for _, a := range trail {
			types = append(types, a.EventType)
		}
		assert.Contains(t, types, models.PaymentEventBookingConfirmed)
	})

	t.Run("unfinished payment", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		req := models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID}

		_, err := h.paymentSvc.ConfirmPayment(ctx, req)
		appErr, ok := models.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, "payment_not_completed", appErr.Code)
		assert.True(t, appErr.Retryable)

		h.gateway.setStatus(intent.IntentID, models.IntentCanceled)
		_, err = h.paymentSvc.ConfirmPayment(ctx, req)
		appErr, ok = models.AsAppError(err)
		require.True(t, ok)
		assert.False(t, appErr.Retryable)
		assert.Equal(t, models.BookingStatusPending, h.db.find(booking.BookingID).Status)
	})

	t.Run("gateway outage is retryable and changes nothing", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.gateway.getErr = &GatewayError{StatusCode: 503, Message: "unavailable", Retryable: true}

		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		appErr, ok := models.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, models.KindPaymentVerification, appErr.Kind)
		assert.True(t, appErr.Retryable)
		assert.Equal(t, 3, h.gateway.getCalls)
		assert.Equal(t, models.PaymentStatusPending, h.db.find(booking.BookingID).PaymentStatus)
		assert.Equal(t, 1, h.audits.count(models.PaymentEventGatewayError))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.gateway.intents[intent.IntentID].AmountCents = 100

		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		assert.Equal(t, "amount_mismatch", appCode(t, err))
		assert.Equal(t, 1, h.audits.count(models.PaymentEventReconciliationMismatch))
		assert.Equal(t, models.PaymentStatusPending, h.db.find(booking.BookingID).PaymentStatus)
	})

	t.Run("intent of another booking", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		first, _ := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		_, other := pendingBooking(t, h, singleRequest("2025-03-03", "17:00"))

		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: first.BookingID, IntentID: other.IntentID})
		assert.Equal(t, "intent_mismatch", appCode(t, err))
	})

	t.Run("paid booking rejects a different intent", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		require.NoError(t, err)

		_, err = h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: "pi_other"})
		assert.Equal(t, "already_paid", appCode(t, err))

		_, err = h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
		assert.Equal(t, "already_paid", appCode(t, err))
	})

	t.Run("failed state write opens a reconciliation case", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.db.markPaidErr = errors.New("connection reset")

		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		assert.True(t, models.IsKind(err, models.KindReconciliationRequired))
		require.Len(t, h.recs.cases, 1)
		assert.Equal(t, intent.IntentID, h.recs.cases[0].IntentID)
		assert.Equal(t, booking.BookingID, h.recs.cases[0].BookingID)
		assert.Equal(t, 1, h.audits.count(models.PaymentEventBookingConfirmFailed))
		assert.Equal(t, 0, h.dispatcher.count(models.EventBookingConfirmed))

		// the background retry settles it once the store recovers
		resolved, err := h.paymentSvc.RetryReconciliations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, resolved)
		assert.Equal(t, 2, h.recs.cases[0].Attempts)

		h.db.markPaidErr = nil
		resolved, err = h.paymentSvc.RetryReconciliations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, resolved)
		assert.Equal(t, models.ReconciliationResolved, h.recs.cases[0].Status)
		assert.Equal(t, models.BookingStatusConfirmed, h.db.find(booking.BookingID).Status)
		assert.Equal(t, 1, h.dispatcher.count(models.EventBookingConfirmed))
	})

	t.Run("payment for a cancelled booking", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		_, err := h.bookingSvc.CancelBooking(ctx, h.trainerActor, booking.BookingID, "rain")
		require.NoError(t, err)
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)

		_, err = h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		assert.True(t, models.IsKind(err, models.KindReconciliationRequired))
		assert.Len(t, h.recs.cases, 1)
	})

	t.Run("series is paid by one intent", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		req := singleRequest("2025-03-03", "16:00")
		req.Recurring = models.FrequencyWeekly
		req.RecurringCount = 3
		booking, intent := pendingBooking(t, h, req)
		assert.Equal(t, int64(24000), intent.AmountCents)
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)

		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		require.NoError(t, err)

		rows, err := fakeBookings{db: h.db}.ListBySeries(ctx, *booking.RecurringSeriesID)
		require.NoError(t, err)
		for _, b := range rows {
			assert.Equal(t, models.BookingStatusConfirmed, b.Status)
			assert.True(t, b.IsPaidWith(intent.IntentID))
		}

		later, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: rows[2].ID, IntentID: intent.IntentID})
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusConfirmed, later.Status)
	})

	t.Run("package booking grants the remaining sessions once", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		req := singleRequest("2025-03-03", "16:00")
		req.SessionType = models.SessionPackage5
		booking, intent := pendingBooking(t, h, req)
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)

		confirm := models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID}
		_, err := h.paymentSvc.ConfirmPayment(ctx, confirm)
		require.NoError(t, err)
		_, err = h.paymentSvc.ConfirmPayment(ctx, confirm)
		require.NoError(t, err)

		require.Len(t, h.db.credits, 1)
		for _, c := range h.db.credits {
			assert.Equal(t, 4, c.Remaining)
			assert.Equal(t, int64(7200), c.PricePerSessionCents)
			assert.Equal(t, intent.IntentID, *c.PaymentIntentID)
		}
	})
}

func TestPaymentService_CreateIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.withMondayEvenings(t)
	booking, first := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))

	t.Run("open intent is reused", func(t *testing.T) {
		again, err := h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
		require.NoError(t, err)
		assert.True(t, again.Reused)
		assert.Equal(t, first.IntentID, again.IntentID)
		assert.Equal(t, 1, h.gateway.createCalls)
	})

	t.Run("cancelled intent is replaced", func(t *testing.T) {
		h.gateway.setStatus(first.IntentID, models.IntentCanceled)
		next, err := h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
		require.NoError(t, err)
		assert.False(t, next.Reused)
		assert.NotEqual(t, first.IntentID, next.IntentID)
		assert.Equal(t, 2, h.gateway.createCalls)
		assert.Equal(t, next.IntentID, *h.db.find(booking.BookingID).PaymentIntentID)
	})

	t.Run("gateway refusal surfaces as verification error", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		req := singleRequest("2025-03-03", "16:00")
		req.Guest = guestInfo("payer@example.com")
		booking, err := h.bookingSvc.CreateBooking(ctx, nil, req)
		require.NoError(t, err)

		h.gateway.createErr = &GatewayError{StatusCode: 400, Message: "invalid currency"}
		_, err = h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
		assert.True(t, models.IsKind(err, models.KindPaymentVerification))
		assert.Equal(t, 1, h.gateway.createCalls)
	})
	t.Run("booking id needs the owning parent or trainer", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		actor, player := h.parentActor(t, "owner@example.com")
		stranger, _ := h.parentActor(t, "stranger@example.com")
		req := singleRequest("2025-03-03", "16:00")
		req.PlayerID = player.ID
		booking, err := h.bookingSvc.CreateBooking(ctx, actor, req)
		require.NoError(t, err)
		byID := models.CreateIntentRequest{BookingID: booking.BookingID}

		_, err = h.paymentSvc.CreateIntent(ctx, nil, byID)
		assert.Equal(t, "authentication_required", appCode(t, err))
		_, err = h.paymentSvc.CreateIntent(ctx, stranger, byID)
		assert.Equal(t, "booking_not_owned", appCode(t, err))
		assert.Zero(t, h.gateway.createCalls)

		own, err := h.paymentSvc.CreateIntent(ctx, actor, byID)
		require.NoError(t, err)
		assert.NotEmpty(t, own.ClientSecret)
		trainer, err := h.paymentSvc.CreateIntent(ctx, h.trainerActor, byID)
		require.NoError(t, err)
		assert.Equal(t, own.IntentID, trainer.IntentID)
	})

	t.Run("unknown booking number", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: "TB-20250301-00000000"})
		assert.Equal(t, "booking_not_found", appCode(t, err))
	})

	t.Run("succeeded intent is handed back instead of charging again", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.db.markPaidErr = errors.New("connection reset")
		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		require.True(t, models.IsKind(err, models.KindReconciliationRequired))

		again, err := h.paymentSvc.CreateIntent(ctx, nil, models.CreateIntentRequest{BookingNumber: booking.BookingNumber})
		require.NoError(t, err)
		assert.True(t, again.Reused)
		assert.Equal(t, intent.IntentID, again.IntentID)
		assert.Equal(t, 1, h.gateway.createCalls)
	})
}

func TestPaymentService_PackagePurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	actor, _ := h.parentActor(t, "parent@example.com")

	_, err := h.paymentSvc.CreatePackageIntent(ctx, actor, trainerID, 3)
	assert.Equal(t, "invalid_package_size", appCode(t, err))

	intent, err := h.paymentSvc.CreatePackageIntent(ctx, actor, trainerID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(36000), intent.AmountCents)

	reused, err := h.paymentSvc.CreatePackageIntent(ctx, actor, trainerID, 5)
	require.NoError(t, err)
	assert.True(t, reused.Reused)
	assert.Equal(t, intent.IntentID, reused.IntentID)

	h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
	credit, err := h.paymentSvc.ConfirmPackagePurchase(ctx, actor, models.ConfirmPackageRequest{IntentID: intent.IntentID})
	require.NoError(t, err)
	assert.Equal(t, 5, credit.Remaining)
	assert.Equal(t, int64(7200), credit.PricePerSessionCents)

	again, err := h.paymentSvc.ConfirmPackagePurchase(ctx, actor, models.ConfirmPackageRequest{IntentID: intent.IntentID})
	require.NoError(t, err)
	assert.Equal(t, credit.ID, again.ID)
	assert.Equal(t, 1, h.dispatcher.count(models.EventCreditGranted))

	stranger, _ := h.parentActor(t, "stranger@example.com")
	_, err = h.paymentSvc.ConfirmPackagePurchase(ctx, stranger, models.ConfirmPackageRequest{IntentID: intent.IntentID})
	assert.Equal(t, "intent_not_owned", appCode(t, err))
}

func TestPaymentService_ReconcileStalePending(t *testing.T) {
	ctx := context.Background()

	t.Run("paid bookings confirm and unpaid ones cancel", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)

		unpaid := singleRequest("2025-03-03", "16:00")
		unpaid.Guest = guestInfo("late@example.com")
		abandoned, err := h.bookingSvc.CreateBooking(ctx, nil, unpaid)
		require.NoError(t, err)

		paid, intent := pendingBooking(t, h, singleRequest("2025-03-03", "17:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)

		// inside the payment window nothing happens
		confirmed, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Zero(t, confirmed+cancelled)

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		confirmed, cancelled, err = h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, confirmed)
		assert.Equal(t, 1, cancelled)

		assert.Equal(t, models.BookingStatusConfirmed, h.db.find(paid.BookingID).Status)
		gone := h.db.find(abandoned.BookingID)
		assert.Equal(t, models.BookingStatusCancelled, gone.Status)
		assert.Equal(t, "payment_timeout", *gone.CancelReason)

		day, err := h.availability.GetAvailableSlots(ctx, trainerID, mustDate(t, "2025-03-03"))
		require.NoError(t, err)
		assert.Equal(t, []string{"16:00", "18:00", "19:00"}, slotStarts(day))
	})

	t.Run("bookings with an open reconciliation case are not cancelled", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.db.markPaidErr = errors.New("connection reset")
		_, err := h.paymentSvc.ConfirmPayment(ctx, models.ConfirmPaymentRequest{BookingID: booking.BookingID, IntentID: intent.IntentID})
		require.True(t, models.IsKind(err, models.KindReconciliationRequired))

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		confirmed, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Zero(t, confirmed+cancelled)
		assert.Equal(t, models.BookingStatusPending, h.db.find(booking.BookingID).Status)

		h.db.markPaidErr = nil
		resolved, err := h.paymentSvc.RetryReconciliations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, resolved)
		assert.Equal(t, models.BookingStatusConfirmed, h.db.find(booking.BookingID).Status)
	})

	t.Run("locally succeeded intent confirms the booking", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		require.NoError(t, h.intents.UpdateStatus(ctx, intent.IntentID, models.IntentSucceeded))

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		confirmed, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, confirmed)
		assert.Zero(t, cancelled)
		assert.True(t, h.db.find(booking.BookingID).IsPaidWith(intent.IntentID))
	})

	t.Run("abandoned group joins give their seats back", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		g, err := h.bookingSvc.CreateGroupSession(ctx, h.trainerActor, models.CreateGroupSessionRequest{
			SessionDate:         "2025-03-03",
			StartTime:           "18:00",
			MaxPlayers:          2,
			PricePerPlayerCents: 3000,
		})
		require.NoError(t, err)
		join := func(email string) error {
			actor, player := h.parentActor(t, email)
			_, err := h.bookingSvc.CreateBooking(ctx, actor, models.CreateBookingRequest{
				TrainerID:      trainerID,
				SessionType:    models.SessionGroup,
				GroupSessionID: g.ID,
				PlayerID:       player.ID,
			})
			return err
		}
		require.NoError(t, join("one@example.com"))
		require.NoError(t, join("two@example.com"))
		assert.Equal(t, 2, h.db.groups[g.ID].CurrentPlayers)

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		_, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, cancelled)
		assert.Zero(t, h.db.groups[g.ID].CurrentPlayers)

		assert.NoError(t, join("three@example.com"))
	})

	t.Run("amount mismatch is left for review", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, intent := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.setStatus(intent.IntentID, models.IntentSucceeded)
		h.gateway.intents[intent.IntentID].AmountCents = 100

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		confirmed, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Zero(t, confirmed+cancelled)
		assert.Equal(t, models.BookingStatusPending, h.db.find(booking.BookingID).Status)
		assert.Equal(t, 1, h.audits.count(models.PaymentEventReconciliationMismatch))
	})

	t.Run("unverifiable intents are left for the next run", func(t *testing.T) {
		h := newHarness(t)
		h.withMondayEvenings(t)
		booking, _ := pendingBooking(t, h, singleRequest("2025-03-03", "16:00"))
		h.gateway.getErr = &GatewayError{StatusCode: 502, Retryable: true}

		h.paymentSvc.now = func() time.Time { return testNow.Add(time.Hour) }
		confirmed, cancelled, err := h.paymentSvc.ReconcileStalePending(ctx)
		require.NoError(t, err)
		assert.Zero(t, confirmed+cancelled)
		assert.Equal(t, models.BookingStatusPending, h.db.find(booking.BookingID).Status)
	})
}
