package models

import "github.com/google/uuid"

// Game is a catalogue entry. The catalogue itself is ingested elsewhere;
// submit only needs to know the game exists and its supported modes.
type Game struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Slug  string    `json:"slug"`
	Modes []GameMode `json:"modes"`
}
