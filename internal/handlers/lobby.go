// internal/handlers/lobby.go
package handlers

import (
	"net/http"
)

// ListLobbies handles GET /lobbies?includeHistory=bool.
func (h *Handlers) ListLobbies(w http.ResponseWriter, r *http.Request) {
	includeHistory := r.URL.Query().Get("includeHistory") == "true"
	lobbies, err := h.Lobbies.List(r.Context(), caller(r).UserID, includeHistory)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"lobbies": lobbies})
}

// GetLobby handles GET /lobbies/{id}.
func (h *Handlers) GetLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.Lobbies.Get(lobbyID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"lobby": snap})
}

// JoinLobby handles POST /lobbies/{id}/join.
func (h *Handlers) JoinLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	id := caller(r)

	username := ""
	if user, err := h.Store.GetUser(r.Context(), id.UserID); err == nil {
		username = user.Username
	}

	snap, err := h.Lobbies.Join(r.Context(), lobbyID, id.UserID, username)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"lobby": snap})
}

// LeaveLobby handles POST /lobbies/{id}/leave.
func (h *Handlers) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Lobbies.Leave(r.Context(), lobbyID, caller(r).UserID); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"left": true})
}

// SetLobbyReady handles POST /lobbies/{id}/ready {ready:bool}.
func (h *Handlers) SetLobbyReady(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Ready bool `json:"ready"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.Lobbies.SetReady(r.Context(), lobbyID, caller(r).UserID, body.Ready); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"ready": body.Ready})
}

// StartLobby handles POST /lobbies/{id}/start.
func (h *Handlers) StartLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Lobbies.Start(r.Context(), lobbyID, caller(r).UserID); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"started": true})
}

// CloseLobby handles POST /lobbies/{id}/close.
func (h *Handlers) CloseLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Lobbies.Close(r.Context(), lobbyID, caller(r).UserID); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"closed": true})
}
