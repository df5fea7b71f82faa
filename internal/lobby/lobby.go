// internal/lobby/lobby.go
package lobby

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcadehall/arena/internal/models"
)

// Lobby wraps the persisted lobby state with the mutable machinery of the
// live state machine: a lock serializing all mutations and the auto-start
// timer. Methods with a Locked suffix assume the caller holds mu.
type Lobby struct {
	mu    sync.Mutex
	state models.Lobby

	autoStartTimer *time.Timer
}

func newLobby(state models.Lobby) *Lobby {
	return &Lobby{state: state}
}

// Snapshot returns a copy of the current state safe to hand to callers and
// the push fabric.
func (l *Lobby) Snapshot() models.Lobby {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Lobby) snapshotLocked() models.Lobby {
	out := l.state
	out.Members = make([]models.LobbyMember, len(l.state.Members))
	copy(out.Members, l.state.Members)
	return out
}

// bump increments the snapshot version. Every membership or status change
// bumps exactly once so clients can drop out-of-order snapshots.
func (l *Lobby) bumpLocked() {
	l.state.Version++
}

// transitionLocked advances the status along the monotone lifecycle order.
// The one sanctioned reversal, ready -> forming when a member unreadies, is
// handled by revertToFormingLocked instead.
func (l *Lobby) transitionLocked(next models.LobbyStatus, now time.Time) bool {
	if !l.state.Status.CanAdvanceTo(next) {
		return false
	}
	l.state.Status = next
	switch next {
	case models.LobbyReady:
		l.state.ReadyAt = &now
	case models.LobbyActive:
		l.state.ActiveAt = &now
	case models.LobbyClosed:
		l.state.ClosedAt = &now
	}
	l.bumpLocked()
	return true
}

func (l *Lobby) revertToFormingLocked() {
	l.state.Status = models.LobbyForming
	l.state.ReadyAt = nil
	l.bumpLocked()
}

// cancelAutoStartLocked stops a pending auto-start timer, if any.
func (l *Lobby) cancelAutoStartLocked() {
	if l.autoStartTimer != nil {
		l.autoStartTimer.Stop()
		l.autoStartTimer = nil
	}
}

// electHostLocked transfers host to the longest-joined present member,
// ties broken by userId ascending. Returns the new host id and whether a
// transfer happened.
func (l *Lobby) electHostLocked() (uuid.UUID, bool) {
	candidates := make([]*models.LobbyMember, 0, len(l.state.Members))
	for i := range l.state.Members {
		if l.state.Members[i].Present() {
			candidates = append(candidates, &l.state.Members[i])
		}
	}
	if len(candidates) == 0 {
		return uuid.Nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].UserID.String() < candidates[j].UserID.String()
		}
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})

	newHost := candidates[0]
	if newHost.IsHost {
		return newHost.UserID, false
	}
	for i := range l.state.Members {
		l.state.Members[i].IsHost = false
	}
	newHost.IsHost = true
	l.state.HostID = newHost.UserID
	return newHost.UserID, true
}
