// internal/handlers/chat.go
package handlers

import (
	"net/http"
	"time"

	"github.com/arcadehall/arena/internal/models"
)

// PostChatMessage handles POST /chat/lobby/{id}/messages.
func (h *Handlers) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Content     string             `json:"content"`
		ContentType models.ContentType `json:"contentType"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	msg, err := h.Chat.Post(r.Context(), lobbyID, caller(r).UserID, body.Content, body.ContentType)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"message": msg})
}

// ChatHistory handles GET /chat/lobby/{id}/messages?limit&before.
func (h *Handlers) ChatHistory(w http.ResponseWriter, r *http.Request) {
	lobbyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := intQuery(q.Get("limit"), 50)
	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "before must be RFC3339", nil)
			return
		}
		before = &t
	}

	messages, hasMore, err := h.Chat.History(r.Context(), lobbyID, caller(r).UserID, limit, before)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"chatId":   lobbyID.String(),
		"messages": messages,
		"hasMore":  hasMore,
	})
}
