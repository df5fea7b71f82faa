package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchHistory records one finalized match for status/history queries and
// for seeding the rolling wait-time average after restart.
type MatchHistory struct {
	ID           uuid.UUID   `json:"id"`
	GameID       uuid.UUID   `json:"gameId"`
	GameMode     GameMode    `json:"gameMode"`
	Region       Region      `json:"region"`
	LobbyID      uuid.UUID   `json:"lobbyId"`
	Participants []uuid.UUID `json:"participants"`
	GroupScore   float64     `json:"groupScore"`

	// AvgWait is the mean search duration of the participants at formation.
	AvgWait   time.Duration `json:"avgWait"`
	CreatedAt time.Time     `json:"createdAt"`
}
