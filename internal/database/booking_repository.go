package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/jmoiron/sqlx"
)

// BookingRepository handles booking persistence and state transitions
type BookingRepository struct {
	db DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, booking_number, trainer_id, parent_id, player_id,
	session_date, start_time, end_time, location,
	status, payment_status,
	total_amount_cents, trainer_payout_cents, platform_fee_cents,
	session_type, session_count, sessions_remaining,
	recurring_series_id, group_session_id, package_credit_id, payment_intent_id,
	cancel_reason, notes, created_at, updated_at`

// ============================================================================
// SLOT LOCKING (shared by every path that takes a trainer slot)
// ============================================================================

// lockTrainerSlotsTx serializes slot-taking transactions of one trainer until commit
func lockTrainerSlotsTx(ctx context.Context, tx *sqlx.Tx, trainerID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, trainerID); err != nil {
		return fmt.Errorf("failed to lock trainer schedule: %w", err)
	}
	return nil
}

// slotHeldTx reports whether an active booking or group session overlaps the window
func slotHeldTx(ctx context.Context, tx *sqlx.Tx, trainerID int64, date time.Time, window models.TimeRange) (bool, error) {
	var held bool
	err := tx.GetContext(ctx, &held, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE trainer_id = $1 AND session_date = $2::date
			  AND status IN ('pending', 'confirmed', 'completed')
			  AND session_type <> 'group'
			  AND start_time < $4 AND end_time > $3
			UNION ALL
			SELECT 1 FROM group_sessions
			WHERE trainer_id = $1 AND session_date = $2::date
			  AND status <> 'cancelled'
			  AND start_time < $4 AND end_time > $3
		)`,
		trainerID, date.Format(models.DateLayout), window.Start, window.End)
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return held, nil
}

// takeSlotTx locks the trainer schedule and fails with a ConflictError if the window is held
func takeSlotTx(ctx context.Context, tx *sqlx.Tx, trainerID int64, date time.Time, window models.TimeRange) error {
	if err := lockTrainerSlotsTx(ctx, tx, trainerID); err != nil {
		return err
	}
	held, err := slotHeldTx(ctx, tx, trainerID, date, window)
	if err != nil {
		return err
	}
	if held {
		return slotTakenError(date, window.Start)
	}
	return nil
}

func slotTakenError(date time.Time, start models.TimeOfDay) error {
	return models.NewConflictError("slot_unavailable",
		fmt.Sprintf("The %s slot on %s is no longer available", start, date.Format(models.DateLayout)))
}

// insertBookingTx inserts a booking and fills its id and timestamps
func insertBookingTx(ctx context.Context, tx *sqlx.Tx, b *models.Booking) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO bookings (
			booking_number, trainer_id, parent_id, player_id,
			session_date, start_time, end_time, location,
			status, payment_status,
			total_amount_cents, trainer_payout_cents, platform_fee_cents,
			session_type, session_count, sessions_remaining,
			recurring_series_id, group_session_id, package_credit_id, payment_intent_id,
			notes
		) VALUES (
			$1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		) RETURNING id, created_at, updated_at`,
		b.BookingNumber, b.TrainerID, b.ParentID, b.PlayerID,
		b.DateString(), b.StartTime, b.EndTime, b.Location,
		b.Status, b.PaymentStatus,
		b.TotalAmountCents, b.TrainerPayoutCents, b.PlatformFeeCents,
		b.SessionType, b.SessionCount, b.SessionsRemaining,
		b.RecurringSeriesID, b.GroupSessionID, b.PackageCreditID, b.PaymentIntentID,
		b.Notes,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return translateBookingInsertError(err, b)
	}
	return nil
}

func translateBookingInsertError(err error, b *models.Booking) error {
	switch {
	case IsUniqueViolation(err, constraintBookingNumber):
		return ErrDuplicateBookingNumber
	case IsUniqueViolation(err, constraintBookingSlot):
		return slotTakenError(b.SessionDate, b.StartTime)
	case IsUniqueViolation(err, constraintGroupPlayer):
		return models.NewConflictError("already_joined", "This player has already joined the group session")
	default:
		return fmt.Errorf("failed to insert booking: %w", err)
	}
}

// ============================================================================
// CREATION
// ============================================================================

// CreateBookings persists one booking, or a whole recurring series when series
// is set, in a single transaction. Every slot is checked under the trainer lock.
func (r *BookingRepository) CreateBookings(ctx context.Context, series *models.RecurringSeries, bookings []*models.Booking) error {
	if len(bookings) == 0 {
		return fmt.Errorf("no bookings to create")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	trainerID := bookings[0].TrainerID
	if err := lockTrainerSlotsTx(ctx, tx, trainerID); err != nil {
		return err
	}

	if series != nil {
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO recurring_series (
				parent_id, trainer_id, player_id, frequency,
				total_sessions, sessions_created, day_of_week, preferred_time, status
			) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
			RETURNING id, created_at`,
			series.ParentID, series.TrainerID, series.PlayerID, series.Frequency,
			series.TotalSessions, series.DayOfWeek, series.PreferredTime, series.Status,
		).Scan(&series.ID, &series.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert recurring series: %w", err)
		}
	}

	for _, b := range bookings {
		held, err := slotHeldTx(ctx, tx, b.TrainerID, b.SessionDate, b.Range())
		if err != nil {
			return err
		}
		if held {
			return slotTakenError(b.SessionDate, b.StartTime)
		}
		if series != nil {
			b.RecurringSeriesID = &series.ID
		}
		if err := insertBookingTx(ctx, tx, b); err != nil {
			return err
		}
	}

	if series != nil {
		series.SessionsCreated = len(bookings)
		_, err = tx.ExecContext(ctx, `UPDATE recurring_series SET sessions_created = $1 WHERE id = $2`,
			series.SessionsCreated, series.ID)
		if err != nil {
			return fmt.Errorf("failed to update recurring series: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetByID returns a booking or nil
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetByNumber returns a booking by its public booking number or nil
func (r *BookingRepository) GetByNumber(ctx context.Context, number string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE booking_number = $1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by number: %w", err)
	}
	return &booking, nil
}

// ListBySeries returns the bookings of a recurring series in date order
func (r *BookingRepository) ListBySeries(ctx context.Context, seriesID int64) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings,
		`SELECT `+bookingColumns+` FROM bookings WHERE recurring_series_id = $1 ORDER BY session_date, start_time`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series bookings: %w", err)
	}
	return bookings, nil
}

// PayableAmount returns the amount an intent for this booking must cover.
// A recurring series is paid as a whole.
func (r *BookingRepository) PayableAmount(ctx context.Context, b *models.Booking) (int64, error) {
	if b.RecurringSeriesID == nil {
		return b.TotalAmountCents, nil
	}
	var total int64
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(total_amount_cents), 0) FROM bookings
		WHERE recurring_series_id = $1 AND status <> 'cancelled'`, *b.RecurringSeriesID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum series amount: %w", err)
	}
	return total, nil
}

// ListHolds returns the windows held by active bookings and group sessions between two dates inclusive
func (r *BookingRepository) ListHolds(ctx context.Context, trainerID int64, from, to time.Time) ([]models.SlotHold, error) {
	holds := []models.SlotHold{}
	err := r.db.SelectContext(ctx, &holds, `
		SELECT session_date, start_time, end_time FROM bookings
		WHERE trainer_id = $1 AND session_date BETWEEN $2::date AND $3::date
		  AND status IN ('pending', 'confirmed', 'completed')
		  AND session_type <> 'group'
		UNION ALL
		SELECT session_date, start_time, end_time FROM group_sessions
		WHERE trainer_id = $1 AND session_date BETWEEN $2::date AND $3::date
		  AND status <> 'cancelled'
		ORDER BY session_date, start_time`,
		trainerID, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list slot holds: %w", err)
	}
	return holds, nil
}

// ListStalePending returns unpaid pending bookings created before cutoff.
// Series are represented by their first booking only. Bookings with an open
// reconciliation case are left out.
func (r *BookingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE status = 'pending' AND payment_status = 'pending' AND created_at < $1
		  AND (recurring_series_id IS NULL OR id = (
			SELECT MIN(id) FROM bookings s WHERE s.recurring_series_id = b.recurring_series_id))
		  AND NOT EXISTS (
			SELECT 1 FROM payment_reconciliations pr WHERE pr.booking_id = b.id AND pr.status = 'open')
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// STATE TRANSITIONS (compare-and-set on the current status)
// ============================================================================

// AttachPaymentIntent records the intent that will pay for the booking (and its series)
func (r *BookingRepository) AttachPaymentIntent(ctx context.Context, b *models.Booking, intentID string) error {
	var err error
	if b.RecurringSeriesID != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE bookings SET payment_intent_id = $1, updated_at = NOW()
			WHERE recurring_series_id = $2 AND payment_status = 'pending'`, intentID, *b.RecurringSeriesID)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE bookings SET payment_intent_id = $1, updated_at = NOW()
			WHERE id = $2 AND payment_status = 'pending'`, intentID, b.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to attach payment intent: %w", err)
	}
	return nil
}

// MarkPaid moves a pending booking (or its whole series) to confirmed/paid.
// It returns false when nothing was pending, so repeated calls transition once.
func (r *BookingRepository) MarkPaid(ctx context.Context, b *models.Booking, intentID string) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if b.RecurringSeriesID != nil {
		result, err = r.db.ExecContext(ctx, `
			UPDATE bookings
			SET status = 'confirmed', payment_status = 'paid', payment_intent_id = $1, updated_at = NOW()
			WHERE recurring_series_id = $2 AND status = 'pending' AND payment_status = 'pending'`,
			intentID, *b.RecurringSeriesID)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE bookings
			SET status = 'confirmed', payment_status = 'paid', payment_intent_id = $1, updated_at = NOW()
			WHERE id = $2 AND status = 'pending' AND payment_status = 'pending'`,
			intentID, b.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark booking paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Cancel moves a pending or confirmed booking to cancelled
func (r *BookingRepository) Cancel(ctx context.Context, id int64, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = 'cancelled', cancel_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'confirmed')`, reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CancelUnpaid cancels a still-unpaid pending booking, or every unpaid booking
// of its series. A group booking gives its seat back in the same transaction.
func (r *BookingRepository) CancelUnpaid(ctx context.Context, b *models.Booking, reason string) (int64, error) {
	if b.GroupSessionID != nil {
		return r.cancelUnpaidGroupSeat(ctx, b, reason)
	}

	var (
		result sql.Result
		err    error
	)
	if b.RecurringSeriesID != nil {
		result, err = r.db.ExecContext(ctx, `
			UPDATE bookings SET status = 'cancelled', cancel_reason = $1, updated_at = NOW()
			WHERE recurring_series_id = $2 AND status = 'pending' AND payment_status = 'pending'`,
			reason, *b.RecurringSeriesID)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE bookings SET status = 'cancelled', cancel_reason = $1, updated_at = NOW()
			WHERE id = $2 AND status = 'pending' AND payment_status = 'pending'`,
			reason, b.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to cancel unpaid booking: %w", err)
	}
	return result.RowsAffected()
}

func (r *BookingRepository) cancelUnpaidGroupSeat(ctx context.Context, b *models.Booking, reason string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = 'cancelled', cancel_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending' AND payment_status = 'pending'`,
		reason, b.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel unpaid group booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE group_sessions SET current_players = current_players - 1
		WHERE id = $1 AND current_players > 0`, *b.GroupSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release group seat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rows, nil
}

// Complete moves a confirmed booking to completed
func (r *BookingRepository) Complete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
