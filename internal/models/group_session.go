package models

import "time"

// GroupSessionStatus is the status of a group session
type GroupSessionStatus string

const (
	GroupSessionOpen      GroupSessionStatus = "open"
	GroupSessionCancelled GroupSessionStatus = "cancelled"
	GroupSessionCompleted GroupSessionStatus = "completed"
)

// GroupSession is a multi-player session that occupies one trainer slot
type GroupSession struct {
	ID                  int64              `json:"id" db:"id"`
	TrainerID           int64              `json:"trainer_id" db:"trainer_id"`
	SessionDate         time.Time          `json:"session_date" db:"session_date"`
	StartTime           TimeOfDay          `json:"start_time" db:"start_time"`
	EndTime             TimeOfDay          `json:"end_time" db:"end_time"`
	Location            string             `json:"location" db:"location"`
	MaxPlayers          int                `json:"max_players" db:"max_players"`
	CurrentPlayers      int                `json:"current_players" db:"current_players"`
	PricePerPlayerCents int64              `json:"price_per_player_cents" db:"price_per_player_cents"`
	Status              GroupSessionStatus `json:"status" db:"status"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
}

// OpenSpots returns remaining capacity
func (g *GroupSession) OpenSpots() int {
	if g.CurrentPlayers >= g.MaxPlayers {
		return 0
	}
	return g.MaxPlayers - g.CurrentPlayers
}

// CreateGroupSessionRequest is submitted by a trainer to open a group session
type CreateGroupSessionRequest struct {
	SessionDate         string `json:"session_date" validate:"required,datetime=2006-01-02"`
	StartTime           string `json:"start_time" validate:"required,datetime=15:04"`
	Location            string `json:"location" validate:"max=255"`
	MaxPlayers          int    `json:"max_players" validate:"required,min=2,max=50"`
	PricePerPlayerCents int64  `json:"price_per_player_cents" validate:"required,gt=0"`
}
