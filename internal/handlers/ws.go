// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/arcadehall/arena/internal/middleware"
	"github.com/arcadehall/arena/internal/socket"
)

// clientMessage is the envelope for client -> server socket events.
type clientMessage struct {
	Event string `json:"event"`
	Data  struct {
		RequestID string `json:"requestId,omitempty"`
		LobbyID   string `json:"lobbyId,omitempty"`
	} `json:"data"`
}

// ServeWS handles GET /ws: authenticates, upgrades, registers the socket on
// the hub, and runs the read loop until the client goes away.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required", nil)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"arena"},
	})
	if err != nil {
		h.Log.WithError(err).Warn("websocket accept failed")
		return
	}
	if ws.Subprotocol() != "arena" {
		ws.Close(websocket.StatusPolicyViolation, "client must speak the arena subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := socket.NewConn(id.UserID, cancel)
	h.Hub.Register(conn)
	middleware.LogWebSocketConnect(h.Log, r.RemoteAddr, r.URL.Path)

	go conn.WritePump(ctx, ws)

	readErr := h.readPump(ctx, ws, id.UserID)
	h.Hub.Unregister(conn)
	ws.Close(websocket.StatusNormalClosure, "bye")
	middleware.LogWebSocketDisconnect(h.Log, r.RemoteAddr, r.URL.Path, readErr)
}

// readPump consumes client events until the socket closes. Subscription
// targets are authorized against ownership/membership; failed checks are
// ignored silently (the client learns nothing about foreign resources).
func (h *Handlers) readPump(ctx context.Context, ws *websocket.Conn, userID uuid.UUID) error {
	// The most recent explicit subscriptions, so unsubscribe needs no args.
	var requestRoom, lobbyRoom string

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "matchmaking:subscribe":
			reqID, err := uuid.Parse(msg.Data.RequestID)
			if err != nil || !h.Match.OwnsRequest(ctx, userID, reqID) {
				continue
			}
			requestRoom = socket.RequestRoom(reqID)
			h.Hub.JoinRoom(userID, requestRoom)

		case "matchmaking:unsubscribe":
			if requestRoom != "" {
				h.Hub.LeaveRoom(userID, requestRoom)
				requestRoom = ""
			}

		case "lobby:subscribe":
			lobbyID, err := uuid.Parse(msg.Data.LobbyID)
			if err != nil || !h.Lobbies.IsMember(lobbyID, userID) {
				continue
			}
			lobbyRoom = socket.LobbyRoom(lobbyID)
			h.Hub.JoinRoom(userID, lobbyRoom)

		case "lobby:unsubscribe":
			if lobbyRoom != "" {
				h.Hub.LeaveRoom(userID, lobbyRoom)
				lobbyRoom = ""
			}

		case "chat:typing":
			lobbyID, err := uuid.Parse(msg.Data.LobbyID)
			if err != nil {
				continue
			}
			if err := h.Chat.Typing(lobbyID, userID); err != nil {
				continue
			}

		default:
			h.Log.WithField("event", msg.Event).Debug("unknown socket event")
		}
	}
}
