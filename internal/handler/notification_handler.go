// Package handler はHTTP APIのハンドラー層を提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/furima/internal/middleware"
	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/notify"
)

// defaultNotificationsPerPage は通知一覧の1ページあたりの件数（デフォルト）。
const defaultNotificationsPerPage = 20

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	// List は受信者の通知一覧をフィルタ・ページネーション付きで返す。
	List(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error)
	// UnreadCount は受信者の未読通知数を返す。
	UnreadCount(ctx context.Context, recipient string) (int, error)
	// MarkRead は受信者スコープで通知を既読にする（冪等）。
	MarkRead(ctx context.Context, recipient, id string) error
	// MarkAllRead は受信者の全未読通知を既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	// Delete は受信者スコープで通知を削除する。
	Delete(ctx context.Context, recipient, id string) error
}

// NotificationHandler は通知管理のHTTPハンドラー。
type NotificationHandler struct {
	service        NotificationServiceInterface
	defaultPerPage int
}

// NewNotificationHandler はNotificationHandlerを生成する。
// defaultPerPageが0以下の場合は標準のページサイズを使用する。
func NewNotificationHandler(service NotificationServiceInterface, defaultPerPage int) *NotificationHandler {
	if defaultPerPage <= 0 {
		defaultPerPage = defaultNotificationsPerPage
	}
	return &NotificationHandler{service: service, defaultPerPage: defaultPerPage}
}

// --- レスポンス型 ---

// notificationResponse は通知1件のレスポンス。
type notificationResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// notificationListResponse は通知一覧のページネーションレスポンス。
type notificationListResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	PerPage       int                    `json:"per_page"`
}

// toNotificationResponse はドメインのNotificationをレスポンス型に変換する。
func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

// List は通知一覧を取得する。
// GET /api/notifications?page=1&per_page=20&read=false&type=NEW_OFFER
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}

	perPage := h.defaultPerPage
	if v := r.URL.Query().Get("per_page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}

	var filter model.NotificationFilter
	if v := r.URL.Query().Get("read"); v != "" {
		if read, err := strconv.ParseBool(v); err == nil {
			filter.Read = &read
		}
	}
	if v := r.URL.Query().Get("type"); v != "" {
		filter.Type = model.NotificationType(v)
	}

	result, err := h.service.List(r.Context(), userID, filter, page, perPage)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	notifications := make([]notificationResponse, len(result.Notifications))
	for i, n := range result.Notifications {
		notifications[i] = toNotificationResponse(n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notificationListResponse{
		Notifications: notifications,
		Total:         result.Total,
		Page:          result.Page,
		PerPage:       result.PerPage,
	})
}

// UnreadCount は未読通知数を取得する。
// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"unread_count": count})
}

// MarkRead は通知を既読にする。既読済みの通知にも成功を返す（冪等）。
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.service.MarkRead(r.Context(), userID, id); err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead は全未読通知を既読にする。
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"updated": updated})
}

// Delete は通知を削除する。
// DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
