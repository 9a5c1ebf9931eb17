package models

import "time"

// MaxPlayersPerParent caps how many players one parent may register
const MaxPlayersPerParent = 20

// Roles carried in account tokens
const (
	RoleParent  = "parent"
	RoleTrainer = "trainer"
	RoleAdmin   = "admin"
)

// Account is a login identity. Guest accounts carry an unusable password hash.
type Account struct {
	ID           int64       `json:"id" db:"id"`
	Email        string      `json:"email" db:"email"`
	PasswordHash string      `json:"-" db:"password_hash"`
	DisplayName  string      `json:"display_name" db:"display_name"`
	IsGuest      bool        `json:"is_guest" db:"is_guest"`
	Roles        StringArray `json:"roles" db:"roles"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Parent is the booking owner profile attached to an account
type Parent struct {
	ID        int64     `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Player belongs to exactly one parent
type Player struct {
	ID         int64     `json:"id" db:"id"`
	ParentID   int64     `json:"parent_id" db:"parent_id"`
	FirstName  string    `json:"first_name" db:"first_name"`
	LastName   string    `json:"last_name" db:"last_name"`
	Age        int       `json:"age" db:"age"`
	SkillLevel string    `json:"skill_level" db:"skill_level"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IdentityMode selects how an unknown email is provisioned
type IdentityMode string

const (
	IdentityGuest IdentityMode = "guest"
	IdentityFull  IdentityMode = "full"
)

// ProfileFields is the identity information supplied with a booking or signup
type ProfileFields struct {
	Email     string       `json:"email" validate:"required,email,max=255"`
	FirstName string       `json:"first_name" validate:"required,max=100"`
	LastName  string       `json:"last_name" validate:"required,max=100"`
	Phone     string       `json:"phone" validate:"max=32"`
	Mode      IdentityMode `json:"mode" validate:"omitempty,oneof=guest full"`
	Password  string       `json:"password,omitempty" validate:"required_if=Mode full,omitempty,min=8,max=72"`
}

// DisplayName joins first and last name
func (p ProfileFields) DisplayName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PlayerFields describes a player supplied inline with a guest booking
type PlayerFields struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	Age        int    `json:"age" validate:"min=3,max=99"`
	SkillLevel string `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
}

// GuestInfo is the identity block of an unauthenticated booking
type GuestInfo struct {
	Profile ProfileFields `json:"profile"`
	Player  PlayerFields  `json:"player"`
}

// Actor is the authenticated caller of an operation. A nil *Actor is an anonymous guest.
type Actor struct {
	AccountID int64
	Email     string
	Roles     []string
}

// HasRole reports whether the actor carries role
func (a *Actor) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
