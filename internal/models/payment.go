package models

import "time"

// IntentStatus is the gateway-side status of a payment intent
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// IsTerminal reports whether the intent can no longer change
func (s IntentStatus) IsTerminal() bool {
	return s == IntentSucceeded || s == IntentCanceled
}

// IsAccepted reports whether the payment counts as received. Processing is
// provisionally accepted.
func (s IntentStatus) IsAccepted() bool {
	return s == IntentSucceeded || s == IntentProcessing
}

// IntentPurpose says what an intent pays for
type IntentPurpose string

const (
	PurposeBooking IntentPurpose = "booking"
	PurposePackage IntentPurpose = "package"
)

// PaymentIntentRecord is the local snapshot of a gateway intent
type PaymentIntentRecord struct {
	ID           int64         `json:"id" db:"id"`
	IntentID     string        `json:"intent_id" db:"intent_id"`
	ClientSecret string        `json:"-" db:"client_secret"`
	Purpose      IntentPurpose `json:"purpose" db:"purpose"`
	BookingID    *int64        `json:"booking_id,omitempty" db:"booking_id"`
	ParentID     int64         `json:"parent_id" db:"parent_id"`
	TrainerID    int64         `json:"trainer_id" db:"trainer_id"`
	PackageSize  int           `json:"package_size" db:"package_size"`
	AmountCents  int64         `json:"amount_cents" db:"amount_cents"`
	Currency     string        `json:"currency" db:"currency"`
	Status       IntentStatus  `json:"status" db:"status"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// GatewayIntent is what the payment gateway reports about an intent
type GatewayIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	AmountCents  int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       IntentStatus      `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// CreateIntentRequest is the input of create_payment_intent. A booking is
// named by BookingNumber, or by BookingID for its signed-in parent or trainer.
// A package purchase sets TrainerID with PackageSize.
type CreateIntentRequest struct {
	BookingNumber string `json:"booking_number" validate:"required_without_all=BookingID TrainerID,omitempty,max=40"`
	BookingID     int64  `json:"booking_id"`
	TrainerID     int64  `json:"trainer_id"`
	PackageSize   int    `json:"package_size" validate:"required_with=TrainerID,omitempty,oneof=5 10"`
}

// IntentResponse is returned by create_payment_intent
type IntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Reused       bool   `json:"reused"`
}

// ConfirmPaymentRequest is the input of confirm_payment
type ConfirmPaymentRequest struct {
	BookingID int64  `json:"booking_id" validate:"required,gt=0"`
	IntentID  string `json:"intent_id" validate:"required,max=255"`
}

// ConfirmPackageRequest is the input of confirm_package_purchase
type ConfirmPackageRequest struct {
	IntentID string `json:"intent_id" validate:"required,max=255"`
}

// ReconciliationStatus is the state of a reconciliation case
type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

// PaymentReconciliation records money that moved without the booking state following
type PaymentReconciliation struct {
	ID          int64                `json:"id" db:"id"`
	BookingID   int64                `json:"booking_id" db:"booking_id"`
	IntentID    string               `json:"intent_id" db:"intent_id"`
	AmountCents int64                `json:"amount_cents" db:"amount_cents"`
	Status      ReconciliationStatus `json:"status" db:"status"`
	Attempts    int                  `json:"attempts" db:"attempts"`
	LastError   string               `json:"last_error" db:"last_error"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty" db:"resolved_at"`
}
