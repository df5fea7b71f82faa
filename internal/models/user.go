package models

import "github.com/google/uuid"

// UserStatus gates matchmaking eligibility; only active users may queue.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserBanned    UserStatus = "banned"
)

type User struct {
	ID       uuid.UUID  `json:"id"`
	Email    string     `json:"email"`
	Password string     `json:"password,omitempty"`
	Username string     `json:"username"`
	Status   UserStatus `json:"status"`
	IsAdmin  bool       `json:"isAdmin"`

	// Karma is a community score in [0,100] fed into compatibility scoring.
	Karma int `json:"karma"`
}

// GameProfile is the per-user, per-game projection the scorer consumes.
// Skill is consumed here, never computed (ranking is out of scope).
type GameProfile struct {
	UserID     uuid.UUID `json:"userId"`
	GameID     uuid.UUID `json:"gameId"`
	SkillLevel int       `json:"skillLevel"`
}

// DefaultSkillLevel is assumed when a user has no profile for a game.
const DefaultSkillLevel = 50
