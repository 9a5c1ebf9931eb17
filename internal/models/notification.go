package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted on booking state transitions
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventCreditGranted    = "credit.granted"
	EventCreditRedeemed   = "credit.redeemed"
	EventGroupJoined      = "group.joined"
	EventGroupLeft        = "group.left"
)

// NotificationEvent is an outbox row consumed by the notification and payout workers
type NotificationEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	Payload   JSONMap   `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
