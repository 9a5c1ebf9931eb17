package models

import "time"

// TrainerStatus is the soft lifecycle status of a trainer. Trainers are never deleted.
type TrainerStatus string

const (
	TrainerStatusActive    TrainerStatus = "active"
	TrainerStatusPending   TrainerStatus = "pending"
	TrainerStatusSuspended TrainerStatus = "suspended"
)

// Trainer is a bookable coach
type Trainer struct {
	ID              int64         `json:"id" db:"id"`
	AccountID       int64         `json:"account_id" db:"account_id"`
	DisplayName     string        `json:"display_name" db:"display_name"`
	HourlyRateCents int64         `json:"hourly_rate_cents" db:"hourly_rate_cents"`
	Status          TrainerStatus `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// IsBookable reports whether the trainer accepts new bookings
func (t *Trainer) IsBookable() bool {
	return t.Status == TrainerStatusActive
}
