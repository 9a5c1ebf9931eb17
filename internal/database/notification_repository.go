package database

import (
	"context"
	"fmt"

	"github.com/coachconnect/booking-engine/internal/models"
)

// NotificationRepository writes booking events to the outbox table read by the notification and payout workers
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert appends an event to the outbox. Replaying the same event id is a no-op.
func (r *NotificationRepository) Insert(ctx context.Context, event *models.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_events (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.EventType, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification event: %w", err)
	}
	return nil
}
