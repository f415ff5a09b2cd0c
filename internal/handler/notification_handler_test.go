package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/notify"
)

// mockNotificationService はNotificationServiceInterfaceのモック実装。
type mockNotificationService struct {
	listFn        func(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error)
	unreadCountFn func(ctx context.Context, recipient string) (int, error)
	markReadFn    func(ctx context.Context, recipient, id string) error
	markAllReadFn func(ctx context.Context, recipient string) (int64, error)
	deleteFn      func(ctx context.Context, recipient, id string) error
}

func (m *mockNotificationService) List(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, recipient, filter, page, perPage)
	}
	return &notify.ListResult{}, nil
}

func (m *mockNotificationService) UnreadCount(ctx context.Context, recipient string) (int, error) {
	if m.unreadCountFn != nil {
		return m.unreadCountFn(ctx, recipient)
	}
	return 0, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, recipient, id string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, recipient, id)
	}
	return nil
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, recipient)
	}
	return 0, nil
}

func (m *mockNotificationService) Delete(ctx context.Context, recipient, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, recipient, id)
	}
	return nil
}

func sampleNotification() *model.Notification {
	return &model.Notification{
		ID:        "notif-1",
		Recipient: "alice",
		Type:      model.NotificationNewOffer,
		Title:     "新しいオファー",
		Message:   "デニムジャケットに4500円のオファーが届きました。",
		Data:      map[string]any{"offer_id": "offer-1"},
		Read:      false,
		CreatedAt: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// TestNotificationHandler_List はクエリパラメータの解釈と一覧レスポンスを検証する。
func TestNotificationHandler_List(t *testing.T) {
	service := &mockNotificationService{
		listFn: func(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error) {
			if recipient != "alice" {
				t.Errorf("recipient = %q, want alice", recipient)
			}
			if page != 2 || perPage != 10 {
				t.Errorf("page = %d, perPage = %d, want 2, 10", page, perPage)
			}
			if filter.Read == nil || *filter.Read {
				t.Errorf("filter.Read = %v, want false", filter.Read)
			}
			if filter.Type != model.NotificationNewOffer {
				t.Errorf("filter.Type = %q, want NEW_OFFER", filter.Type)
			}
			return &notify.ListResult{
				Notifications: []*model.Notification{sampleNotification()},
				Total:         21,
				Page:          page,
				PerPage:       perPage,
			}, nil
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?page=2&per_page=10&read=false&type=NEW_OFFER", nil)
	req = withUserID(req, "alice")
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp notificationListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if len(resp.Notifications) != 1 || resp.Notifications[0].ID != "notif-1" {
		t.Errorf("notifications = %+v", resp.Notifications)
	}
	if resp.Total != 21 || resp.Page != 2 || resp.PerPage != 10 {
		t.Errorf("total = %d, page = %d, per_page = %d", resp.Total, resp.Page, resp.PerPage)
	}
}

// TestNotificationHandler_List_InvalidParams は不正なクエリパラメータがデフォルトに丸められることを検証する。
func TestNotificationHandler_List_InvalidParams(t *testing.T) {
	service := &mockNotificationService{
		listFn: func(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error) {
			if page != 1 {
				t.Errorf("page = %d, want 1", page)
			}
			if perPage != defaultNotificationsPerPage {
				t.Errorf("perPage = %d, want %d", perPage, defaultNotificationsPerPage)
			}
			if filter.Read != nil {
				t.Errorf("filter.Read = %v, want nil", filter.Read)
			}
			return &notify.ListResult{Page: page, PerPage: perPage}, nil
		},
	}
	h := NewNotificationHandler(service, 0)

	// per_page上限超過、負のpage、解釈不能なreadはすべて無視される
	req := httptest.NewRequest(http.MethodGet, "/api/notifications?page=-3&per_page=500&read=maybe", nil)
	req = withUserID(req, "alice")
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestNotificationHandler_List_ConfiguredPageSize は設定されたデフォルト
// ページサイズがper_page未指定のリクエストに適用されることを検証する。
func TestNotificationHandler_List_ConfiguredPageSize(t *testing.T) {
	service := &mockNotificationService{
		listFn: func(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*notify.ListResult, error) {
			if perPage != 50 {
				t.Errorf("perPage = %d, want 50", perPage)
			}
			return &notify.ListResult{Page: page, PerPage: perPage}, nil
		},
	}
	h := NewNotificationHandler(service, 50)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req = withUserID(req, "alice")
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestNotificationHandler_UnreadCount は未読数の取得を検証する。
func TestNotificationHandler_UnreadCount(t *testing.T) {
	service := &mockNotificationService{
		unreadCountFn: func(ctx context.Context, recipient string) (int, error) {
			return 5, nil
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/unread-count", nil)
	req = withUserID(req, "alice")
	rec := httptest.NewRecorder()

	h.UnreadCount(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp["unread_count"] != 5 {
		t.Errorf("unread_count = %d, want 5", resp["unread_count"])
	}
}

// TestNotificationHandler_MarkRead は既読化が204を返すことを検証する。
func TestNotificationHandler_MarkRead(t *testing.T) {
	called := false
	service := &mockNotificationService{
		markReadFn: func(ctx context.Context, recipient, id string) error {
			called = true
			if recipient != "alice" || id != "notif-1" {
				t.Errorf("MarkRead(%q, %q) の引数が期待と異なる", recipient, id)
			}
			return nil
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/notif-1/read", nil)
	req = withUserID(req, "alice")
	req = withChiURLParam(req, "id", "notif-1")
	rec := httptest.NewRecorder()

	h.MarkRead(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if !called {
		t.Error("MarkReadが呼ばれていない")
	}
}

// TestNotificationHandler_MarkRead_NotFound は他人の通知の既読化が404になることを検証する。
func TestNotificationHandler_MarkRead_NotFound(t *testing.T) {
	service := &mockNotificationService{
		markReadFn: func(ctx context.Context, recipient, id string) error {
			return model.NewNotificationNotFoundError(id)
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/notif-x/read", nil)
	req = withUserID(req, "alice")
	req = withChiURLParam(req, "id", "notif-x")
	rec := httptest.NewRecorder()

	h.MarkRead(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != model.ErrCodeNotificationNotFound {
		t.Errorf("code = %q, want NOTIFICATION_NOT_FOUND", code)
	}
}

// TestNotificationHandler_MarkAllRead は全既読化が更新件数を返すことを検証する。
func TestNotificationHandler_MarkAllRead(t *testing.T) {
	service := &mockNotificationService{
		markAllReadFn: func(ctx context.Context, recipient string) (int64, error) {
			return 7, nil
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/read-all", nil)
	req = withUserID(req, "alice")
	rec := httptest.NewRecorder()

	h.MarkAllRead(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp["updated"] != 7 {
		t.Errorf("updated = %d, want 7", resp["updated"])
	}
}

// TestNotificationHandler_Delete は削除が204を返すことを検証する。
func TestNotificationHandler_Delete(t *testing.T) {
	service := &mockNotificationService{
		deleteFn: func(ctx context.Context, recipient, id string) error {
			if recipient != "alice" || id != "notif-1" {
				t.Errorf("Delete(%q, %q) の引数が期待と異なる", recipient, id)
			}
			return nil
		},
	}
	h := NewNotificationHandler(service, 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/notifications/notif-1", nil)
	req = withUserID(req, "alice")
	req = withChiURLParam(req, "id", "notif-1")
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

// TestNotificationHandler_Unauthenticated は未認証リクエストが401になることを検証する。
func TestNotificationHandler_Unauthenticated(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationService{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
