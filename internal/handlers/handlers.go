// internal/handlers/handlers.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/auth"
	"github.com/arcadehall/arena/internal/chat"
	"github.com/arcadehall/arena/internal/lobby"
	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/models"
	"github.com/arcadehall/arena/internal/notify"
	"github.com/arcadehall/arena/internal/socket"
)

// UserStore is the slice of account storage the HTTP layer needs:
// registration, login lookup, and display-name resolution.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Handlers wires the HTTP surface onto the services.
type Handlers struct {
	Match   *match.Coordinator
	Lobbies *lobby.Manager
	Chat    *chat.Service
	Notify  *notify.Service
	Store   UserStore
	Hub     *socket.Hub
	Log     *logrus.Logger
}

type ctxKey int

const claimsKey ctxKey = iota

// identity is the authenticated caller attached to the request context.
type identity struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// caller extracts the authenticated identity; zero value if unauthenticated.
func caller(r *http.Request) identity {
	id, _ := r.Context().Value(claimsKey).(identity)
	return id
}

// authenticate resolves the bearer token on a request into an identity.
func authenticate(r *http.Request) (identity, error) {
	token, err := auth.BearerToken(r)
	if err != nil {
		return identity{}, err
	}
	claims, err := auth.AuthenticateJWT(token)
	if err != nil {
		return identity{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return identity{}, err
	}
	return identity{UserID: userID, IsAdmin: claims.IsAdmin}, nil
}

// RequireAuth rejects unauthenticated requests with 401.
func (h *Handlers) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required", nil)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, id)))
	}
}

// RequireAdmin additionally requires the admin claim.
func (h *Handlers) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).IsAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
			return
		}
		next(w, r)
	})
}

// pathUUID parses a {name} path segment as a UUID, writing 404 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

// Routes builds the full route table.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)

	mux.HandleFunc("POST /matchmaking", h.RequireAuth(h.SubmitMatchRequest))
	mux.HandleFunc("GET /matchmaking/status", h.RequireAuth(h.MatchmakingStatus))
	mux.HandleFunc("GET /matchmaking/history", h.RequireAuth(h.MatchHistory))
	mux.HandleFunc("GET /matchmaking/stats", h.RequireAdmin(h.MatchmakingStats))
	mux.HandleFunc("DELETE /matchmaking/{requestId}", h.RequireAuth(h.CancelMatchRequest))

	mux.HandleFunc("GET /lobbies", h.RequireAuth(h.ListLobbies))
	mux.HandleFunc("GET /lobbies/{id}", h.RequireAuth(h.GetLobby))
	mux.HandleFunc("POST /lobbies/{id}/join", h.RequireAuth(h.JoinLobby))
	mux.HandleFunc("POST /lobbies/{id}/leave", h.RequireAuth(h.LeaveLobby))
	mux.HandleFunc("POST /lobbies/{id}/ready", h.RequireAuth(h.SetLobbyReady))
	mux.HandleFunc("POST /lobbies/{id}/start", h.RequireAuth(h.StartLobby))
	mux.HandleFunc("POST /lobbies/{id}/close", h.RequireAuth(h.CloseLobby))

	mux.HandleFunc("POST /chat/lobby/{id}/messages", h.RequireAuth(h.PostChatMessage))
	mux.HandleFunc("GET /chat/lobby/{id}/messages", h.RequireAuth(h.ChatHistory))

	mux.HandleFunc("GET /notifications", h.RequireAuth(h.ListNotifications))
	mux.HandleFunc("GET /notifications/count", h.RequireAuth(h.NotificationCount))
	mux.HandleFunc("PATCH /notifications/{id}/read", h.RequireAuth(h.MarkNotificationRead))
	mux.HandleFunc("POST /notifications/mark-read", h.RequireAuth(h.MarkNotificationsRead))
	mux.HandleFunc("POST /notifications/mark-all-read", h.RequireAuth(h.MarkAllNotificationsRead))
	mux.HandleFunc("DELETE /notifications/{id}", h.RequireAuth(h.DeleteNotification))
	mux.HandleFunc("GET /notifications/settings", h.RequireAuth(h.GetNotificationSettings))
	mux.HandleFunc("PUT /notifications/settings", h.RequireAuth(h.PutNotificationSettings))

	mux.HandleFunc("GET /ws", h.ServeWS)

	return mux
}
