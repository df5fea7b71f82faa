// internal/socket/hub.go
package socket

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is the wire envelope for every server -> client push.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// UserRoom, LobbyRoom, and RequestRoom name the three broadcast groups.
func UserRoom(id uuid.UUID) string    { return "user:" + id.String() }
func LobbyRoom(id uuid.UUID) string   { return "lobby:" + id.String() }
func RequestRoom(id uuid.UUID) string { return "matchrequest:" + id.String() }

// Hub is the per-user connection multiset and room registry. A user may
// hold several live sockets; every one of them receives events for each
// room the user is in. Delivery is best-effort: a slow consumer's events
// are dropped and logged, never buffered unboundedly (durable delivery is
// out of scope).
type Hub struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[*Conn]bool
	rooms map[string]map[*Conn]bool
	// byUser remembers room membership per user so a reconnecting socket
	// rejoins the user's rooms automatically.
	byUser map[uuid.UUID]map[string]bool

	log *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]map[*Conn]bool),
		rooms:  make(map[string]map[*Conn]bool),
		byUser: make(map[uuid.UUID]map[string]bool),
		log:    log,
	}
}

// Register adds an authenticated connection. The connection joins the
// user's personal room plus any rooms the user already belongs to.
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[conn.UserID] == nil {
		h.conns[conn.UserID] = make(map[*Conn]bool)
	}
	h.conns[conn.UserID][conn] = true

	if h.byUser[conn.UserID] == nil {
		h.byUser[conn.UserID] = make(map[string]bool)
	}
	h.byUser[conn.UserID][UserRoom(conn.UserID)] = true

	for room := range h.byUser[conn.UserID] {
		h.joinLocked(conn, room)
	}
	h.log.WithField("user", conn.UserID).Debug("socket registered")
}

// Unregister removes a closed connection from every room. Room membership
// for the user is kept so a reconnect resumes it.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.conns[conn.UserID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, conn.UserID)
		}
	}
	for room, set := range h.rooms {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	conn.close()
	h.log.WithField("user", conn.UserID).Debug("socket unregistered")
}

func (h *Hub) joinLocked(conn *Conn, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]bool)
	}
	h.rooms[room][conn] = true
}

// JoinRoom subscribes every current and future connection of a user to a
// room.
func (h *Hub) JoinRoom(userID uuid.UUID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]bool)
	}
	h.byUser[userID][room] = true
	for conn := range h.conns[userID] {
		h.joinLocked(conn, room)
	}
}

// LeaveRoom removes a user (all connections) from a room.
func (h *Hub) LeaveRoom(userID uuid.UUID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.byUser[userID], room)
	for conn := range h.conns[userID] {
		if set, ok := h.rooms[room]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// ToRoom pushes an event to every connection in a room.
func (h *Hub) ToRoom(room, event string, payload any) {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for conn := range h.rooms[room] {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	ev := Event{Event: event, Data: payload}
	for _, conn := range targets {
		conn.Write(ev)
	}
}

// ToUser pushes an event to every connection a user holds.
func (h *Hub) ToUser(userID uuid.UUID, event string, payload any) {
	h.ToRoom(UserRoom(userID), event, payload)
}

// ConnectionCount reports live connections for a user (used in tests and
// the admin stats endpoint).
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// InRoom reports whether a user has at least one connection in the room.
func (h *Hub) InRoom(userID uuid.UUID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns[userID] {
		if h.rooms[room][conn] {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for debug logging.
func (h *Hub) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("hub{users:%d rooms:%d}", len(h.conns), len(h.rooms))
}
