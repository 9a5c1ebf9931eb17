package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// PaymentIntentRepository stores local snapshots of gateway payment intents
type PaymentIntentRepository struct {
	db DBTX
}

// NewPaymentIntentRepository creates a new PaymentIntentRepository
func NewPaymentIntentRepository(db DBTX) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

const intentColumns = `
	id, intent_id, client_secret, purpose, booking_id, parent_id, trainer_id,
	package_size, amount_cents, currency, status, created_at, updated_at`

// Save inserts the record, or refreshes its status if the gateway returned an intent we already know
func (r *PaymentIntentRepository) Save(ctx context.Context, rec *models.PaymentIntentRecord) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO payment_intents (
			intent_id, client_secret, purpose, booking_id, parent_id, trainer_id,
			package_size, amount_cents, currency, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (intent_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		rec.IntentID, rec.ClientSecret, rec.Purpose, rec.BookingID, rec.ParentID, rec.TrainerID,
		rec.PackageSize, rec.AmountCents, rec.Currency, rec.Status,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	return nil
}

// GetByIntentID returns the record for a gateway intent id or nil
func (r *PaymentIntentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.PaymentIntentRecord, error) {
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE intent_id = $1`, intentID)
}

// FindLatestForBooking returns the newest intent of a booking whatever its status, or nil
func (r *PaymentIntentRepository) FindLatestForBooking(ctx context.Context, bookingID int64) (*models.PaymentIntentRecord, error) {
	return r.getOne(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE booking_id = $1 AND purpose = 'booking'
		ORDER BY created_at DESC, id DESC LIMIT 1`, bookingID)
}

// FindOpenForPackage returns the newest non-terminal package intent of a parent with a trainer or nil
func (r *PaymentIntentRepository) FindOpenForPackage(ctx context.Context, parentID, trainerID int64, size int) (*models.PaymentIntentRecord, error) {
	return r.getOne(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE parent_id = $1 AND trainer_id = $2 AND package_size = $3 AND purpose = 'package'
		  AND status NOT IN ('succeeded', 'canceled')
		ORDER BY created_at DESC LIMIT 1`, parentID, trainerID, size)
}

// UpdateStatus records the last status seen at the gateway
func (r *PaymentIntentRepository) UpdateStatus(ctx context.Context, intentID string, status models.IntentStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $1, updated_at = NOW() WHERE intent_id = $2`, status, intentID)
	if err != nil {
		return fmt.Errorf("failed to update payment intent status: %w", err)
	}
	return nil
}

func (r *PaymentIntentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.PaymentIntentRecord, error) {
	var rec models.PaymentIntentRecord
	err := r.db.GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &rec, nil
}
