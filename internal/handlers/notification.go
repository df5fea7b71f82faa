// internal/handlers/notification.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/arcadehall/arena/internal/models"
	"github.com/arcadehall/arena/internal/notify"
)

// ListNotifications handles GET /notifications.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notify.ListFilter{
		Page:     intQuery(q.Get("page"), 1),
		Limit:    intQuery(q.Get("limit"), 20),
		Status:   models.NotificationStatus(q.Get("status")),
		Type:     q.Get("type"),
		Priority: models.NotificationPriority(q.Get("priority")),
	}

	notifications, total, err := h.Notify.List(r.Context(), caller(r).UserID, f)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"pagination": map[string]any{
			"page": f.Page, "limit": f.Limit, "total": total,
		},
	})
}

// NotificationCount handles GET /notifications/count.
func (h *Handlers) NotificationCount(w http.ResponseWriter, r *http.Request) {
	unread, err := h.Notify.CountUnread(r.Context(), caller(r).UserID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"unread": unread})
}

// MarkNotificationRead handles PATCH /notifications/{id}/read.
func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	modified, err := h.Notify.MarkRead(r.Context(), caller(r).UserID, []uuid.UUID{id})
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"modifiedCount": modified})
}

// MarkNotificationsRead handles POST /notifications/mark-read.
func (h *Handlers) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NotificationIDs []uuid.UUID `json:"notificationIds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.NotificationIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "notificationIds is required", nil)
		return
	}

	modified, err := h.Notify.MarkRead(r.Context(), caller(r).UserID, body.NotificationIDs)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"modifiedCount": modified})
}

// MarkAllNotificationsRead handles POST /notifications/mark-all-read.
func (h *Handlers) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	modified, err := h.Notify.MarkAllRead(r.Context(), caller(r).UserID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"modifiedCount": modified})
}

// DeleteNotification handles DELETE /notifications/{id}.
func (h *Handlers) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Notify.Delete(r.Context(), caller(r).UserID, id); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"deleted": true})
}

// GetNotificationSettings handles GET /notifications/settings.
func (h *Handlers) GetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.Notify.Prefs(r.Context(), caller(r).UserID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"settings": prefs})
}

// PutNotificationSettings handles PUT /notifications/settings.
func (h *Handlers) PutNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channels map[string][]models.DeliveryChannel `json:"channels"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	prefs := &models.NotificationPrefs{
		UserID:   caller(r).UserID,
		Channels: body.Channels,
	}
	if err := h.Notify.SetPrefs(r.Context(), prefs); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"settings": prefs})
}
