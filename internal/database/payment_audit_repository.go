package database

import (
	"context"
	"fmt"
	"time"

	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DBTX
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DBTX, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment audit entry. Entries are never updated or deleted.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_audits (
			id, intent_id, booking_id, event_type, event_source,
			expected_amount_cents, received_amount_cents, amounts_match,
			gateway_status, error_message, idempotency_key, correlation_id,
			details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		audit.ID, audit.IntentID, audit.BookingID, audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.AmountsMatch,
		audit.GatewayStatus, audit.ErrorMessage, audit.IdempotencyKey, audit.CorrelationID,
		audit.Details, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"audit_id":   audit.ID,
			"event_type": audit.EventType,
			"booking_id": audit.BookingID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"intent_id":  audit.IntentID,
	}).Debug("Payment audit logged")
	return nil
}

// ListByIntentID returns the audit trail of a gateway intent in order
func (r *PaymentAuditRepository) ListByIntentID(ctx context.Context, intentID string) ([]models.PaymentAudit, error) {
	audits := []models.PaymentAudit{}
	err := r.db.SelectContext(ctx, &audits, `
		SELECT id, intent_id, booking_id, event_type, event_source,
		       expected_amount_cents, received_amount_cents, amounts_match,
		       gateway_status, error_message, idempotency_key, correlation_id,
		       details, created_at
		FROM payment_audits
		WHERE intent_id = $1
		ORDER BY created_at`, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
