package models

import (
	"time"

	"github.com/google/uuid"
)

type ContentType string

const (
	ContentText   ContentType = "text"
	ContentSystem ContentType = "system"
	ContentImage  ContentType = "image"
)

// MaxMessageBytes caps chat message content after trimming.
const MaxMessageBytes = 2000

// ChatMessage is one entry in a lobby's append-only channel. IDs are a
// per-lobby strictly increasing sequence; system messages carry a nil sender.
type ChatMessage struct {
	ID          int64       `json:"id"`
	LobbyID     uuid.UUID   `json:"lobbyId"`
	SenderID    *uuid.UUID  `json:"senderId,omitempty"`
	ContentType ContentType `json:"contentType"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
}
