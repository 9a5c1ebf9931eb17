package models

import "time"

// CreditStatus is the status of a package credit
type CreditStatus string

const (
	CreditStatusActive    CreditStatus = "active"
	CreditStatusExhausted CreditStatus = "exhausted"
)

// PackageCredit is a prepaid pool of sessions a parent holds with a trainer.
// 0 <= Remaining <= TotalCredits always holds, enforced by a table CHECK.
type PackageCredit struct {
	ID                   int64        `json:"id" db:"id"`
	ParentID             int64        `json:"parent_id" db:"parent_id"`
	TrainerID            int64        `json:"trainer_id" db:"trainer_id"`
	TotalCredits         int          `json:"total_credits" db:"total_credits"`
	Remaining            int          `json:"remaining" db:"remaining"`
	PricePerSessionCents int64        `json:"price_per_session_cents" db:"price_per_session_cents"`
	Status               CreditStatus `json:"status" db:"status"`
	ExpiresAt            *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	PaymentIntentID      *string      `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
}

// IsRedeemable reports whether the credit can back another booking at now
func (c *PackageCredit) IsRedeemable(now time.Time) bool {
	if c.Status != CreditStatusActive || c.Remaining <= 0 {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// RedeemCreditRequest describes the session booked against a credit
type RedeemCreditRequest struct {
	SessionDate string `json:"session_date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	Location    string `json:"location" validate:"max=255"`
	PlayerID    int64  `json:"player_id" validate:"required,gt=0"`
	Notes       string `json:"notes" validate:"max=1000"`
}

// RedeemCreditResponse is returned by redeem_credit
type RedeemCreditResponse struct {
	BookingID         int64  `json:"booking_id"`
	BookingNumber     string `json:"booking_number"`
	SessionsRemaining int    `json:"sessions_remaining"`
}
