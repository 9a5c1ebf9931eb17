package models

import "time"

// ============================================================================
// BOOKING STATUSES (match DB CHECK constraints)
// ============================================================================

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// ActiveBookingStatuses are the statuses that hold a trainer's slot
var ActiveBookingStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted}

// CanCancel reports whether a booking in this status may be cancelled
func (s BookingStatus) CanCancel() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// CanComplete reports whether a booking in this status may be completed
func (s BookingStatus) CanComplete() bool {
	return s == BookingStatusConfirmed
}

// IsTerminal reports whether no further transitions are allowed
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// PaymentStatus tracks whether the booking has been paid for
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// SessionType is the commercial shape of a booking
type SessionType string

const (
	SessionSingle    SessionType = "single"
	SessionPackage5  SessionType = "package_5"
	SessionPackage10 SessionType = "package_10"
	SessionGroup     SessionType = "group"
	SessionCredit    SessionType = "credit"
)

// PackageSessions returns the number of sessions a package session type covers
func (t SessionType) PackageSessions() int {
	switch t {
	case SessionPackage5:
		return 5
	case SessionPackage10:
		return 10
	default:
		return 1
	}
}

// IsPackage reports whether the booking is the first session of a prepaid package
func (t SessionType) IsPackage() bool {
	return t == SessionPackage5 || t == SessionPackage10
}

// Booking is one scheduled session between a trainer and a player.
// ParentID and PlayerID are 0 for guest bookings without a profile.
type Booking struct {
	ID                 int64         `json:"id" db:"id"`
	BookingNumber      string        `json:"booking_number" db:"booking_number"`
	TrainerID          int64         `json:"trainer_id" db:"trainer_id"`
	ParentID           int64         `json:"parent_id" db:"parent_id"`
	PlayerID           int64         `json:"player_id" db:"player_id"`
	SessionDate        time.Time     `json:"session_date" db:"session_date"`
	StartTime          TimeOfDay     `json:"start_time" db:"start_time"`
	EndTime            TimeOfDay     `json:"end_time" db:"end_time"`
	Location           string        `json:"location" db:"location"`
	Status             BookingStatus `json:"status" db:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status" db:"payment_status"`
	TotalAmountCents   int64         `json:"total_amount_cents" db:"total_amount_cents"`
	TrainerPayoutCents int64         `json:"trainer_payout_cents" db:"trainer_payout_cents"`
	PlatformFeeCents   int64         `json:"platform_fee_cents" db:"platform_fee_cents"`
	SessionType        SessionType   `json:"session_type" db:"session_type"`
	SessionCount       int           `json:"session_count" db:"session_count"`
	SessionsRemaining  int           `json:"sessions_remaining" db:"sessions_remaining"`
	RecurringSeriesID  *int64        `json:"recurring_series_id,omitempty" db:"recurring_series_id"`
	GroupSessionID     *int64        `json:"group_session_id,omitempty" db:"group_session_id"`
	PackageCreditID    *int64        `json:"package_credit_id,omitempty" db:"package_credit_id"`
	PaymentIntentID    *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CancelReason       *string       `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Notes              string        `json:"notes" db:"notes"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// DateString returns the session date in DateLayout
func (b *Booking) DateString() string {
	return b.SessionDate.Format(DateLayout)
}

// Range returns the booked time window
func (b *Booking) Range() TimeRange {
	return TimeRange{Start: b.StartTime, End: b.EndTime}
}

// IsPaidWith reports whether the booking was already settled by intentID
func (b *Booking) IsPaidWith(intentID string) bool {
	return b.PaymentStatus == PaymentStatusPaid && b.PaymentIntentID != nil && *b.PaymentIntentID == intentID
}

// RecurringFrequency is the cadence of a recurring series
type RecurringFrequency string

const (
	FrequencyWeekly   RecurringFrequency = "weekly"
	FrequencyBiweekly RecurringFrequency = "biweekly"
)

// IntervalDays returns the number of calendar days between occurrences
func (f RecurringFrequency) IntervalDays() int {
	if f == FrequencyBiweekly {
		return 14
	}
	return 7
}

// CreateBookingRequest is the input of create_booking.
// Authenticated callers supply PlayerID, guests supply Guest.
type CreateBookingRequest struct {
	TrainerID      int64              `json:"trainer_id" validate:"required,gt=0"`
	SessionDate    string             `json:"session_date" validate:"required_unless=SessionType group,omitempty,datetime=2006-01-02"`
	StartTime      string             `json:"start_time" validate:"required_unless=SessionType group,omitempty,datetime=15:04"`
	Location       string             `json:"location" validate:"max=255"`
	SessionType    SessionType        `json:"session_type" validate:"required,oneof=single package_5 package_10 group"`
	SessionCount   int                `json:"session_count" validate:"omitempty,min=1,max=52"`
	Recurring      RecurringFrequency `json:"recurring" validate:"omitempty,oneof=weekly biweekly"`
	RecurringCount int                `json:"recurring_count" validate:"required_with=Recurring,omitempty,min=2,max=52"`
	GroupSessionID int64              `json:"group_session_id" validate:"required_if=SessionType group"`
	PlayerID       int64              `json:"player_id"`
	Guest          *GuestInfo         `json:"guest,omitempty"`
	Notes          string             `json:"notes" validate:"max=1000"`
}

// CreateBookingResponse is returned by create_booking
type CreateBookingResponse struct {
	BookingID         int64         `json:"booking_id"`
	BookingNumber     string        `json:"booking_number"`
	Status            BookingStatus `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	TotalAmountCents  int64         `json:"total_amount_cents"`
	RecurringSeriesID *int64        `json:"recurring_series_id,omitempty"`
	SessionsCreated   int           `json:"sessions_created,omitempty"`
}

// QuoteRequest asks for the price of a number of sessions with a trainer
type QuoteRequest struct {
	TrainerID    int64 `json:"trainer_id" validate:"required,gt=0"`
	SessionCount int   `json:"session_count" validate:"required,min=1,max=52"`
}

// PriceQuote is the breakdown charged for a number of sessions
type PriceQuote struct {
	HourlyRateCents    int64   `json:"hourly_rate_cents"`
	SessionCount       int     `json:"session_count"`
	SubtotalCents      int64   `json:"subtotal_cents"`
	DiscountPercent    float64 `json:"discount_percent"`
	DiscountCents      int64   `json:"discount_cents"`
	TotalAmountCents   int64   `json:"total_amount_cents"`
	PlatformFeeCents   int64   `json:"platform_fee_cents"`
	TrainerPayoutCents int64   `json:"trainer_payout_cents"`
}

// CancelBookingRequest is the input of cancel_booking
type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// StatusResponse is returned by state transitions
type StatusResponse struct {
	BookingID     int64         `json:"booking_id"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}
