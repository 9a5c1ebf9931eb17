package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated          PaymentEventType = "intent_created"
	PaymentEventIntentReused           PaymentEventType = "intent_reused"
	PaymentEventStatusCheckRequest     PaymentEventType = "status_check_request"
	PaymentEventStatusCheckResponse    PaymentEventType = "status_check_response"
	PaymentEventGatewayError           PaymentEventType = "gateway_error"
	PaymentEventBookingConfirmed       PaymentEventType = "booking_confirmed"
	PaymentEventBookingConfirmFailed   PaymentEventType = "booking_confirmation_failed"
	PaymentEventCreditGranted          PaymentEventType = "credit_granted"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventReconciliationResolved PaymentEventType = "reconciliation_resolved"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend    PaymentEventSource = "backend"
	PaymentSourceGatewayAPI PaymentEventSource = "gateway_api"
	PaymentSourceUser       PaymentEventSource = "user"
	PaymentSourceSystem     PaymentEventSource = "system"
)

// PaymentAudit is an append-only log entry of one payment interaction
type PaymentAudit struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	IntentID       *string            `json:"intent_id,omitempty" db:"intent_id"`
	BookingID      *int64             `json:"booking_id,omitempty" db:"booking_id"`
	EventType      PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource    PaymentEventSource `json:"event_source" db:"event_source"`
	ExpectedAmount *int64             `json:"expected_amount_cents,omitempty" db:"expected_amount_cents"`
	ReceivedAmount *int64             `json:"received_amount_cents,omitempty" db:"received_amount_cents"`
	AmountsMatch   *bool              `json:"amounts_match,omitempty" db:"amounts_match"`
	GatewayStatus  *string            `json:"gateway_status,omitempty" db:"gateway_status"`
	ErrorMessage   *string            `json:"error_message,omitempty" db:"error_message"`
	IdempotencyKey *string            `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CorrelationID  *string            `json:"correlation_id,omitempty" db:"correlation_id"`
	Details        JSONMap            `json:"details,omitempty" db:"details"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetIntent sets the gateway intent id
func (pa *PaymentAudit) SetIntent(intentID string) *PaymentAudit {
	if intentID != "" {
		pa.IntentID = &intentID
	}
	return pa
}

// SetBooking sets the booking the event belongs to
func (pa *PaymentAudit) SetBooking(bookingID int64) *PaymentAudit {
	if bookingID != 0 {
		pa.BookingID = &bookingID
	}
	return pa
}

// SetAmounts records both amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetGatewayStatus sets the status reported by the gateway
func (pa *PaymentAudit) SetGatewayStatus(status IntentStatus) *PaymentAudit {
	s := string(status)
	pa.GatewayStatus = &s
	return pa
}

// SetError records an error message
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetIdempotencyKey sets the key sent to the gateway
func (pa *PaymentAudit) SetIdempotencyKey(key string) *PaymentAudit {
	pa.IdempotencyKey = &key
	return pa
}

// WithDetail adds a free-form detail
func (pa *PaymentAudit) WithDetail(key string, value interface{}) *PaymentAudit {
	if pa.Details == nil {
		pa.Details = JSONMap{}
	}
	pa.Details[key] = value
	return pa
}
