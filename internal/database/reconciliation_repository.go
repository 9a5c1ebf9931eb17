package database

import (
	"context"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// ReconciliationRepository tracks payments that succeeded without the booking state following
type ReconciliationRepository struct {
	db DBTX
}

// NewReconciliationRepository creates a new ReconciliationRepository
func NewReconciliationRepository(db DBTX) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Open records a reconciliation case. Reopening the same intent bumps the attempt counter.
func (r *ReconciliationRepository) Open(ctx context.Context, rec *models.PaymentReconciliation) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO payment_reconciliations (booking_id, intent_id, amount_cents, status, attempts, last_error)
		VALUES ($1, $2, $3, 'open', 1, $4)
		ON CONFLICT (intent_id) WHERE status = 'open'
		DO UPDATE SET attempts = payment_reconciliations.attempts + 1, last_error = EXCLUDED.last_error
		RETURNING id, status, attempts, created_at`,
		rec.BookingID, rec.IntentID, rec.AmountCents, rec.LastError,
	).Scan(&rec.ID, &rec.Status, &rec.Attempts, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to open reconciliation: %w", err)
	}
	return nil
}

// ListOpen returns the oldest open cases
func (r *ReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error) {
	recs := []models.PaymentReconciliation{}
	err := r.db.SelectContext(ctx, &recs, `
		SELECT id, booking_id, intent_id, amount_cents, status, attempts, last_error, created_at, resolved_at
		FROM payment_reconciliations
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open reconciliations: %w", err)
	}
	return recs, nil
}

// HasOpenForBooking reports whether a booking has an unresolved case
func (r *ReconciliationRepository) HasOpenForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var open bool
	err := r.db.GetContext(ctx, &open, `
		SELECT EXISTS (
			SELECT 1 FROM payment_reconciliations WHERE booking_id = $1 AND status = 'open'
		)`, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to check open reconciliations: %w", err)
	}
	return open, nil
}

// RecordAttempt notes a failed automatic resolution attempt
func (r *ReconciliationRepository) RecordAttempt(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_reconciliations SET attempts = attempts + 1, last_error = $1
		WHERE id = $2 AND status = 'open'`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation attempt: %w", err)
	}
	return nil
}

// Resolve closes a case
func (r *ReconciliationRepository) Resolve(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_reconciliations SET status = 'resolved', resolved_at = NOW()
		WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation: %w", err)
	}
	return nil
}
