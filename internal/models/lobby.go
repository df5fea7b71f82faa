package models

import (
	"time"

	"github.com/google/uuid"
)

// LobbyStatus is monotone along forming -> ready -> active -> closed.
type LobbyStatus string

const (
	LobbyForming LobbyStatus = "forming"
	LobbyReady   LobbyStatus = "ready"
	LobbyActive  LobbyStatus = "active"
	LobbyClosed  LobbyStatus = "closed"
)

// statusRank orders the four lifecycle states for monotonicity checks.
func (s LobbyStatus) rank() int {
	switch s {
	case LobbyForming:
		return 0
	case LobbyReady:
		return 1
	case LobbyActive:
		return 2
	case LobbyClosed:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether moving to next respects the lifecycle order.
func (s LobbyStatus) CanAdvanceTo(next LobbyStatus) bool {
	return next.rank() > s.rank()
}

type MemberStatus string

const (
	MemberJoined MemberStatus = "joined"
	MemberReady  MemberStatus = "ready"
	MemberLeft   MemberStatus = "left"
	MemberKicked MemberStatus = "kicked"
)

// LobbyMember is one user's slot in a lobby. Rejoining reuses the slot.
type LobbyMember struct {
	UserID   uuid.UUID    `json:"userId"`
	Username string       `json:"username"`
	Status   MemberStatus `json:"status"`
	IsHost   bool         `json:"isHost"`
	Ready    bool         `json:"ready"`
	JoinedAt time.Time    `json:"joinedAt"`
	LeftAt   *time.Time   `json:"leftAt,omitempty"`
}

// Present reports whether the member currently occupies a seat.
func (m *LobbyMember) Present() bool {
	return m.Status == MemberJoined || m.Status == MemberReady
}

type LobbySettings struct {
	IsPrivate       bool `json:"isPrivate"`
	AllowSpectators bool `json:"allowSpectators"`
	AutoStart       bool `json:"autoStart"`
	AutoClose       bool `json:"autoClose"`
}

// Lobby is the persisted/wire shape of a lobby. The live state machine in
// internal/lobby mutates an instance of this under its own lock.
type Lobby struct {
	ID       uuid.UUID     `json:"id"`
	GameID   uuid.UUID     `json:"gameId"`
	GameMode GameMode      `json:"gameMode"`
	Region   Region        `json:"region"`
	HostID   uuid.UUID     `json:"hostId"`
	Capacity GroupSize     `json:"capacity"`
	Status   LobbyStatus   `json:"status"`
	Members  []LobbyMember `json:"members"`
	Settings LobbySettings `json:"settings"`

	// Version increments on every membership or status change so clients
	// can drop out-of-order snapshots.
	Version int64 `json:"version"`

	FormedAt time.Time  `json:"formedAt"`
	ReadyAt  *time.Time `json:"readyAt,omitempty"`
	ActiveAt *time.Time `json:"activeAt,omitempty"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}

// MemberCount counts members currently joined or ready. Never persisted.
func (l *Lobby) MemberCount() int {
	n := 0
	for i := range l.Members {
		if l.Members[i].Present() {
			n++
		}
	}
	return n
}

// ReadyCount counts present members with the ready flag set.
func (l *Lobby) ReadyCount() int {
	n := 0
	for i := range l.Members {
		if l.Members[i].Present() && l.Members[i].Ready {
			n++
		}
	}
	return n
}

// ReadyPredicate is true when every present member is ready and the count
// sits inside the capacity window.
func (l *Lobby) ReadyPredicate() bool {
	mc := l.MemberCount()
	return mc >= l.Capacity.Min && mc <= l.Capacity.Max && l.ReadyCount() == mc
}

// Member returns the slot for userID, or nil.
func (l *Lobby) Member(userID uuid.UUID) *LobbyMember {
	for i := range l.Members {
		if l.Members[i].UserID == userID {
			return &l.Members[i]
		}
	}
	return nil
}
