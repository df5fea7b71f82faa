// internal/lobby/manager.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/models"
)

var (
	// ErrNotFound covers unknown lobbies and lobbies the caller may not see.
	ErrNotFound = errors.New("lobby not found")
	// ErrLobbyFull rejects joins at capacity.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrLobbyClosed rejects joins once the lobby left forming.
	ErrLobbyClosed = errors.New("lobby is not accepting members")
	// ErrIllegalState rejects operations invalid for the current status.
	ErrIllegalState = errors.New("operation not allowed in current lobby state")
	// ErrNotHost rejects host-only operations from other members.
	ErrNotHost = errors.New("only the host may do that")
	// ErrNotMember rejects operations from users outside the lobby.
	ErrNotMember = errors.New("user is not a member of this lobby")
)

// DefaultAutoStartDelay is how long a fully-ready lobby waits before
// starting on its own.
const DefaultAutoStartDelay = 5 * time.Second

// Events is the push fabric surface the lobby layer publishes on.
type Events interface {
	ToRoom(room, event string, payload any)
	JoinRoom(userID uuid.UUID, room string)
	LeaveRoom(userID uuid.UUID, room string)
}

// SystemChat lets the state machine inject system messages into the
// lobby's chat channel. Implemented by internal/chat.
type SystemChat interface {
	SystemPost(ctx context.Context, lobbyID uuid.UUID, text string)
}

// Store persists lobby snapshots so state survives restarts.
type Store interface {
	InsertLobby(ctx context.Context, l *models.Lobby) error
	UpdateLobby(ctx context.Context, l *models.Lobby) error
	LobbiesByUser(ctx context.Context, userID uuid.UUID, includeHistory bool, closedSince time.Time) ([]models.Lobby, error)
}

// Manager owns every live lobby and implements the four-state lifecycle:
// forming -> ready -> active -> closed, with host transfer and auto-start.
type Manager struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*Lobby

	store  Store
	events Events
	chat   SystemChat
	log    *logrus.Logger

	// AutoStartDelay is shortened by tests.
	AutoStartDelay time.Duration
}

func NewManager(store Store, events Events, chat SystemChat, log *logrus.Logger) *Manager {
	return &Manager{
		lobbies:        make(map[uuid.UUID]*Lobby),
		store:          store,
		events:         events,
		chat:           chat,
		log:            log,
		AutoStartDelay: DefaultAutoStartDelay,
	}
}

// SetChat wires the chat service in after construction. The chat layer
// needs the manager for membership checks, so the two are built in
// sequence; SetChat must run before the first lobby is created.
func (m *Manager) SetChat(chat SystemChat) { m.chat = chat }

func lobbyRoom(id uuid.UUID) string { return "lobby:" + id.String() }

// get returns the live lobby or ErrNotFound.
func (m *Manager) get(id uuid.UUID) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

// publishLocked persists and broadcasts the current snapshot. Caller holds
// the lobby's lock. Persist failures are logged; the in-memory state is
// authoritative until the next successful write.
func (m *Manager) publishLocked(ctx context.Context, l *Lobby) {
	snap := l.snapshotLocked()
	if err := m.store.UpdateLobby(ctx, &snap); err != nil {
		m.log.WithError(err).WithField("lobby", snap.ID).Warn("failed to persist lobby snapshot")
	}
	m.events.ToRoom(lobbyRoom(snap.ID), "lobby:update", map[string]any{"lobby": snap})
}

// CreateFromMatch opens a lobby for a finalized match. Members arrive in
// joined state, not ready; the seed participant is host. Implements
// match.LobbyCreator.
func (m *Manager) CreateFromMatch(ctx context.Context, spec match.LobbySpec) (*models.Lobby, error) {
	now := time.Now()
	members := make([]models.LobbyMember, 0, len(spec.Members))
	for _, ms := range spec.Members {
		members = append(members, models.LobbyMember{
			UserID:   ms.UserID,
			Username: ms.Username,
			Status:   models.MemberJoined,
			IsHost:   ms.UserID == spec.HostID,
			JoinedAt: now,
		})
	}

	state := models.Lobby{
		ID:       spec.ID,
		GameID:   spec.GameID,
		GameMode: spec.GameMode,
		Region:   spec.Region,
		HostID:   spec.HostID,
		Capacity: spec.Capacity,
		Status:   models.LobbyForming,
		Members:  members,
		Settings: models.LobbySettings{AutoStart: true, AutoClose: true},
		Version:  1,
		FormedAt: now,
	}

	if err := m.store.InsertLobby(ctx, &state); err != nil {
		return nil, fmt.Errorf("persist lobby: %w", err)
	}

	l := newLobby(state)
	m.mu.Lock()
	m.lobbies[state.ID] = l
	m.mu.Unlock()

	snap := l.Snapshot()
	m.log.WithFields(logrus.Fields{"lobby": state.ID, "members": len(members)}).Info("lobby created")
	return &snap, nil
}

// Get returns a snapshot of one lobby.
func (m *Manager) Get(lobbyID uuid.UUID) (*models.Lobby, error) {
	l, err := m.get(lobbyID)
	if err != nil {
		return nil, err
	}
	snap := l.Snapshot()
	return &snap, nil
}

// List returns lobbies the user belongs to, optionally with lobbies closed
// in the last 24 h.
func (m *Manager) List(ctx context.Context, userID uuid.UUID, includeHistory bool) ([]models.Lobby, error) {
	return m.store.LobbiesByUser(ctx, userID, includeHistory, time.Now().Add(-24*time.Hour))
}

// IsMember reports whether the user holds a slot (past or present) in the
// lobby. Used by the chat layer for history ACLs.
func (m *Manager) IsMember(lobbyID, userID uuid.UUID) bool {
	l, err := m.get(lobbyID)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Member(userID) != nil
}

// IsActiveMember reports whether the user currently occupies a seat.
func (m *Manager) IsActiveMember(lobbyID, userID uuid.UUID) bool {
	l, err := m.get(lobbyID)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	member := l.state.Member(userID)
	return member != nil && member.Present()
}

// Join adds a user to a forming lobby. Rejoining a left or kicked slot
// resets it to joined with the ready flag cleared.
func (m *Manager) Join(ctx context.Context, lobbyID, userID uuid.UUID, username string) (*models.Lobby, error) {
	l, err := m.get(lobbyID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Status != models.LobbyForming {
		return nil, ErrLobbyClosed
	}
	if l.state.MemberCount() >= l.state.Capacity.Max {
		return nil, ErrLobbyFull
	}

	now := time.Now()
	member := l.state.Member(userID)
	if member != nil {
		if member.Present() {
			// Already in; treat as a no-op snapshot read.
			snap := l.snapshotLocked()
			return &snap, nil
		}
		member.Status = models.MemberJoined
		member.Ready = false
		member.LeftAt = nil
		if username != "" {
			member.Username = username
		}
	} else {
		l.state.Members = append(l.state.Members, models.LobbyMember{
			UserID:   userID,
			Username: username,
			Status:   models.MemberJoined,
			JoinedAt: now,
		})
		member = &l.state.Members[len(l.state.Members)-1]
	}

	// A join can only break full readiness, never complete it.
	l.cancelAutoStartLocked()
	l.bumpLocked()

	m.events.JoinRoom(userID, lobbyRoom(lobbyID))
	m.events.ToRoom(lobbyRoom(lobbyID), "lobby:member:joined", map[string]any{
		"lobbyId": lobbyID.String(), "userId": userID.String(), "username": member.Username,
	})
	m.chat.SystemPost(ctx, lobbyID, fmt.Sprintf("%s joined", displayName(member)))
	m.publishLocked(ctx, l)

	snap := l.snapshotLocked()
	return &snap, nil
}

// Leave removes a user's seat. The host role transfers to the
// longest-joined remaining member; an emptied lobby closes.
func (m *Manager) Leave(ctx context.Context, lobbyID, userID uuid.UUID) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	member := l.state.Member(userID)
	if member == nil || !member.Present() {
		return ErrNotMember
	}

	now := time.Now()
	wasHost := member.IsHost
	member.Status = models.MemberLeft
	member.Ready = false
	member.IsHost = false
	member.LeftAt = &now
	l.bumpLocked()

	m.events.LeaveRoom(userID, lobbyRoom(lobbyID))
	m.events.ToRoom(lobbyRoom(lobbyID), "lobby:member:left", map[string]any{
		"lobbyId": lobbyID.String(), "userId": userID.String(),
	})
	m.chat.SystemPost(ctx, lobbyID, fmt.Sprintf("%s left", displayName(member)))

	remaining := l.state.MemberCount()
	switch {
	case remaining == 0:
		l.cancelAutoStartLocked()
		m.closeLocked(ctx, l, now)
		return nil
	case l.state.Status == models.LobbyActive && remaining < l.state.Capacity.Min:
		l.cancelAutoStartLocked()
		m.closeLocked(ctx, l, now)
		return nil
	}

	if wasHost {
		if newHost, transferred := l.electHostLocked(); transferred {
			l.bumpLocked()
			hostMember := l.state.Member(newHost)
			m.chat.SystemPost(ctx, lobbyID, fmt.Sprintf("Host is now %s", displayName(hostMember)))
		}
	}

	// Leaving may break or complete the ready predicate.
	m.reconcileReadyLocked(ctx, l, now)
	m.publishLocked(ctx, l)
	return nil
}

// SetReady flips a member's ready flag. Allowed only while forming or
// ready; flipping to false in ready reverts the lobby to forming.
func (m *Manager) SetReady(ctx context.Context, lobbyID, userID uuid.UUID, ready bool) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Status != models.LobbyForming && l.state.Status != models.LobbyReady {
		return ErrIllegalState
	}
	member := l.state.Member(userID)
	if member == nil || !member.Present() {
		return ErrNotMember
	}
	if member.Ready == ready {
		return nil
	}

	member.Ready = ready
	if ready {
		member.Status = models.MemberReady
	} else {
		member.Status = models.MemberJoined
	}
	l.bumpLocked()

	m.events.ToRoom(lobbyRoom(lobbyID), "lobby:member:ready", map[string]any{
		"lobbyId": lobbyID.String(), "userId": userID.String(), "ready": ready,
	})

	m.reconcileReadyLocked(ctx, l, time.Now())
	m.publishLocked(ctx, l)
	return nil
}

// reconcileReadyLocked moves the lobby between forming and ready according
// to the ready predicate, scheduling or cancelling the auto-start timer.
func (m *Manager) reconcileReadyLocked(ctx context.Context, l *Lobby, now time.Time) {
	switch l.state.Status {
	case models.LobbyForming:
		if l.state.ReadyPredicate() {
			l.transitionLocked(models.LobbyReady, now)
			m.chat.SystemPost(ctx, l.state.ID, "All players ready!")
			if l.state.Settings.AutoStart {
				m.scheduleAutoStartLocked(l)
			}
		}
	case models.LobbyReady:
		if !l.state.ReadyPredicate() {
			l.cancelAutoStartLocked()
			l.revertToFormingLocked()
		}
	}
}

// scheduleAutoStartLocked arms the auto-start timer. On fire it starts the
// lobby as if the host had.
func (m *Manager) scheduleAutoStartLocked(l *Lobby) {
	l.cancelAutoStartLocked()
	lobbyID := l.state.ID
	l.autoStartTimer = time.AfterFunc(m.AutoStartDelay, func() {
		if err := m.startInternal(context.Background(), lobbyID); err != nil {
			m.log.WithError(err).WithField("lobby", lobbyID).Debug("auto-start skipped")
		}
	})
}

// Start transitions ready -> active. Host only.
func (m *Manager) Start(ctx context.Context, lobbyID, userID uuid.UUID) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.HostID != userID {
		return ErrNotHost
	}
	return m.startLocked(ctx, l)
}

// startInternal is the auto-start path: same transition, no host check.
func (m *Manager) startInternal(ctx context.Context, lobbyID uuid.UUID) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.startLocked(ctx, l)
}

func (m *Manager) startLocked(ctx context.Context, l *Lobby) error {
	if l.state.Status != models.LobbyReady {
		return ErrIllegalState
	}
	l.cancelAutoStartLocked()
	l.transitionLocked(models.LobbyActive, time.Now())
	m.chat.SystemPost(ctx, l.state.ID, "Game started!")
	m.publishLocked(ctx, l)
	m.log.WithField("lobby", l.state.ID).Info("lobby started")
	return nil
}

// Close ends a lobby. Host only for external callers.
func (m *Manager) Close(ctx context.Context, lobbyID, userID uuid.UUID) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.HostID != userID {
		return ErrNotHost
	}
	if l.state.Status == models.LobbyClosed {
		return ErrIllegalState
	}
	l.cancelAutoStartLocked()
	m.closeLocked(ctx, l, time.Now())
	return nil
}

// CloseInternal closes a lobby on behalf of a trusted internal caller
// (finalize compensation, shutdown). Implements match.LobbyCreator.
func (m *Manager) CloseInternal(ctx context.Context, lobbyID uuid.UUID, reason string) error {
	l, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status == models.LobbyClosed {
		return nil
	}
	l.cancelAutoStartLocked()
	m.log.WithFields(logrus.Fields{"lobby": lobbyID, "reason": reason}).Info("closing lobby internally")
	m.closeLocked(ctx, l, time.Now())
	return nil
}

// closeLocked performs the terminal transition and drops the live lobby
// from the manager.
func (m *Manager) closeLocked(ctx context.Context, l *Lobby, now time.Time) {
	l.transitionLocked(models.LobbyClosed, now)
	m.publishLocked(ctx, l)

	m.mu.Lock()
	delete(m.lobbies, l.state.ID)
	m.mu.Unlock()
	m.log.WithField("lobby", l.state.ID).Info("lobby closed")
}

func displayName(member *models.LobbyMember) string {
	if member == nil {
		return "Unknown"
	}
	if member.Username != "" {
		return member.Username
	}
	return member.UserID.String()[:8]
}
