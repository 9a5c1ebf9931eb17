package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// PackageCreditRepository handles prepaid session credits
type PackageCreditRepository struct {
	db DB
}

// NewPackageCreditRepository creates a new PackageCreditRepository
func NewPackageCreditRepository(db DB) *PackageCreditRepository {
	return &PackageCreditRepository{db: db}
}

const creditColumns = `
	id, parent_id, trainer_id, total_credits, remaining, price_per_session_cents,
	status, expires_at, payment_intent_id, created_at, updated_at`

// GetByID returns the credit if it belongs to parentID, otherwise nil
func (r *PackageCreditRepository) GetByID(ctx context.Context, id, parentID int64) (*models.PackageCredit, error) {
	var credit models.PackageCredit
	err := r.db.GetContext(ctx, &credit,
		`SELECT `+creditColumns+` FROM package_credits WHERE id = $1 AND parent_id = $2`, id, parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package credit: %w", err)
	}
	return &credit, nil
}

// ListByParent returns all credits of a parent, newest first
func (r *PackageCreditRepository) ListByParent(ctx context.Context, parentID int64) ([]models.PackageCredit, error) {
	credits := []models.PackageCredit{}
	err := r.db.SelectContext(ctx, &credits,
		`SELECT `+creditColumns+` FROM package_credits WHERE parent_id = $1 ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list package credits: %w", err)
	}
	return credits, nil
}

// Grant inserts a credit paid by a payment intent. Granting the same intent
// twice returns the existing credit and created=false.
func (r *PackageCreditRepository) Grant(ctx context.Context, credit *models.PackageCredit) (bool, error) {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO package_credits (
			parent_id, trainer_id, total_credits, remaining, price_per_session_cents,
			status, expires_at, payment_intent_id
		) VALUES ($1, $2, $3, $3, $4, 'active', $5, $6)
		ON CONFLICT (payment_intent_id) DO NOTHING
		RETURNING id, remaining, status, created_at, updated_at`,
		credit.ParentID, credit.TrainerID, credit.TotalCredits, credit.PricePerSessionCents,
		credit.ExpiresAt, credit.PaymentIntentID,
	).Scan(&credit.ID, &credit.Remaining, &credit.Status, &credit.CreatedAt, &credit.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to grant package credit: %w", err)
	}

	// already granted for this intent
	err = r.db.GetContext(ctx, credit,
		`SELECT `+creditColumns+` FROM package_credits WHERE payment_intent_id = $1`, credit.PaymentIntentID)
	if err != nil {
		return false, fmt.Errorf("failed to load existing package credit: %w", err)
	}
	return false, nil
}

// RedeemForBooking consumes one credit and inserts the prepaid booking in one
// transaction. The conditional decrement serializes concurrent redemptions on
// the credit row, so with remaining = 1 only one caller gets a row back.
func (r *PackageCreditRepository) RedeemForBooking(ctx context.Context, creditID, parentID int64, b *models.Booking) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int
	err = tx.GetContext(ctx, &remaining, `
		UPDATE package_credits
		SET remaining = remaining - 1,
			status = CASE WHEN remaining - 1 = 0 THEN 'exhausted' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND parent_id = $2 AND trainer_id = $3
		  AND status = 'active' AND remaining > 0
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING remaining`, creditID, parentID, b.TrainerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewInsufficientCreditError("No redeemable sessions left on this package")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume package credit: %w", err)
	}

	if err := takeSlotTx(ctx, tx, b.TrainerID, b.SessionDate, b.Range()); err != nil {
		return 0, err
	}

	b.PackageCreditID = &creditID
	b.SessionsRemaining = remaining
	if err := insertBookingTx(ctx, tx, b); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return remaining, nil
}
