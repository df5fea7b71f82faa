// internal/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/chat"
	"github.com/arcadehall/arena/internal/database"
	"github.com/arcadehall/arena/internal/lobby"
	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/notify"
)

// APIError is the error half of the response envelope. Codes are part of
// the wire contract.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type envelope struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, envelope{Status: "error", Error: &APIError{
		Code: code, Message: message, Details: details,
	}})
}

// writeDomainError maps service-layer errors onto wire codes. Anything
// unrecognised is a programming error: logged, surfaced as 500.
func writeDomainError(w http.ResponseWriter, log *logrus.Logger, err error) {
	var verr *match.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid criteria", verr.Fields)
		return
	}

	switch {
	case errors.Is(err, match.ErrActiveRequestExists):
		writeError(w, http.StatusConflict, "ACTIVE_REQUEST_EXISTS", "an active match request already exists", nil)
	case errors.Is(err, match.ErrUserIneligible):
		writeError(w, http.StatusBadRequest, "USER_INELIGIBLE", "user is not eligible for matchmaking", nil)
	case errors.Is(err, match.ErrUnknownGame):
		writeError(w, http.StatusBadRequest, "INVALID_GAME", "unknown game in criteria", nil)
	case errors.Is(err, match.ErrNotFound),
		errors.Is(err, lobby.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, database.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, lobby.ErrLobbyFull):
		writeError(w, http.StatusConflict, "LOBBY_FULL", "lobby is full", nil)
	case errors.Is(err, lobby.ErrLobbyClosed), errors.Is(err, lobby.ErrIllegalState):
		writeError(w, http.StatusBadRequest, "ILLEGAL_STATE", err.Error(), nil)
	case errors.Is(err, lobby.ErrNotHost),
		errors.Is(err, lobby.ErrNotMember),
		errors.Is(err, chat.ErrNotMember):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrBadContentType):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	default:
		log.WithError(err).Error("unhandled error")
		writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body", nil)
		return false
	}
	return true
}
