// internal/handlers/matchmaking.go
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/models"
)

// SubmitMatchRequest handles POST /matchmaking.
func (h *Handlers) SubmitMatchRequest(w http.ResponseWriter, r *http.Request) {
	var criteria models.MatchCriteria
	if !decodeBody(w, r, &criteria) {
		return
	}

	req, err := h.Match.Submit(r.Context(), caller(r).UserID, criteria)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"matchRequest": req})
}

// MatchmakingStatus handles GET /matchmaking/status.
func (h *Handlers) MatchmakingStatus(w http.ResponseWriter, r *http.Request) {
	req, info, err := h.Match.Status(r.Context(), caller(r).UserID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	if req == nil {
		writeSuccess(w, http.StatusOK, map[string]any{"matchRequest": nil})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"request": req, "queueInfo": info})
}

// CancelMatchRequest handles DELETE /matchmaking/{requestId}.
func (h *Handlers) CancelMatchRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "requestId")
	if !ok {
		return
	}
	req, err := h.Match.Cancel(r.Context(), caller(r).UserID, requestID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"matchRequest": req})
}

// MatchHistory handles GET /matchmaking/history.
func (h *Handlers) MatchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := match.HistoryFilter{
		Page:   intQuery(q.Get("page"), 1),
		Limit:  intQuery(q.Get("limit"), 20),
		Status: q.Get("status"),
	}
	if raw := q.Get("gameId"); raw != "" {
		gameID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid gameId", nil)
			return
		}
		f.GameID = &gameID
	}

	history, total, err := h.Match.History(r.Context(), caller(r).UserID, f)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"matches": history,
		"pagination": map[string]any{
			"page": f.Page, "limit": f.Limit, "total": total,
		},
	})
}

// MatchmakingStats handles GET /matchmaking/stats (admin).
func (h *Handlers) MatchmakingStats(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r.URL.Query().Get("hours"), 24)
	if hours < 1 || hours > 168 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "hours must be between 1 and 168", nil)
		return
	}

	stats := h.Match.Stats()
	writeSuccess(w, http.StatusOK, map[string]any{
		"queues": h.Match.QueueSnapshot(),
		"matches": map[string]any{
			"formed":      stats.MatchesFormed(),
			"avgWaitSecs": stats.AvgWait().Seconds(),
			"windowHours": hours,
		},
		"timestamp": time.Now().UTC(),
	})
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
