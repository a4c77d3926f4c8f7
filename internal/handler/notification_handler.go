package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/hitoshi/vulnerametrics/internal/notification"
)

// NotificationHandler は通知バナーの取得と削除を扱う。
type NotificationHandler struct {
	now func() time.Time
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{now: time.Now}
}

type notificationsResponse struct {
	Notifications []notification.Notification `json:"notifications"`
}

// List は表示中の通知を追加順に返す。表示時間を過ぎた通知は先に取り除く。
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	ws.Notifications.PruneExpired(h.now())
	list := ws.Notifications.List()
	if list == nil {
		list = []notification.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: list})
}

// Delete は通知を1件削除する。
// DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("Invalid notification id"))
		return
	}

	if !ws.Notifications.Remove(id) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Notification"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
