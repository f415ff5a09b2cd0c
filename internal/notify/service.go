// Package notify は通知レコードの永続化とライブ配信を提供する。
// 永続化が常に先行し、ライブ配信はその上のベストエフォートとして扱う。
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/realtime"
	"github.com/hitoshi/furima/internal/repository"
)

// Publisher はライブ配信のインターフェース。
// realtime.Registryの部分集合として定義する。
type Publisher interface {
	Publish(recipient string, ev realtime.Event) bool
}

// Metrics は通知処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordNotificationStored(typ string)
	RecordLiveDelivery(delivered bool)
}

// Service は通知の作成・照会・既読管理を提供する。
type Service struct {
	repo      repository.NotificationRepository
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する（テスト用）。
func NewService(repo repository.NotificationRepository, publisher Publisher, metrics Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Notify は通知レコードを永続化し、その後ライブ配信を試みる。
// 永続化の失敗のみがエラーとして返る。
// ライブ配信の失敗や接続の不在はレコードに影響せず、ログに記録するだけで成功扱いとする。
func (s *Service) Notify(ctx context.Context, recipient string, typ model.NotificationType, title, message string, data map[string]any) (*model.Notification, error) {
	now := time.Now().UTC()
	n := &model.Notification{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		Read:      false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 永続化が先。配信はその上のベストエフォート。
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordNotificationStored(string(typ))
	}

	payload := map[string]any{
		"notification_id": n.ID,
		"title":           n.Title,
		"message":         n.Message,
	}
	for k, v := range data {
		payload[k] = v
	}

	// publisherがnilの場合（ライブ配信を持たないワーカー等）は永続化のみ行う
	delivered := false
	if s.publisher != nil {
		delivered = s.publisher.Publish(recipient, realtime.Event{
			Type:    string(typ),
			At:      now,
			Payload: payload,
		})
	}

	if s.metrics != nil {
		s.metrics.RecordLiveDelivery(delivered)
	}

	s.logger.Debug("通知を作成しました",
		slog.String("notification_id", n.ID),
		slog.String("recipient", recipient),
		slog.String("type", string(typ)),
		slog.Bool("delivered_live", delivered),
	)

	return n, nil
}

// ListResult は通知一覧のページネーション結果を表す。
type ListResult struct {
	Notifications []*model.Notification
	Total         int
	Page          int
	PerPage       int
}

// List は受信者の通知一覧をページネーション付きで返す。
// pageは1始まり。perPageが0以下の場合は20を使用する。
func (s *Service) List(ctx context.Context, recipient string, filter model.NotificationFilter, page, perPage int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	notifications, total, err := s.repo.ListByRecipient(ctx, recipient, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Notifications: notifications,
		Total:         total,
		Page:          page,
		PerPage:       perPage,
	}, nil
}

// UnreadCount は受信者の未読通知数を返す。
func (s *Service) UnreadCount(ctx context.Context, recipient string) (int, error) {
	return s.repo.UnreadCount(ctx, recipient)
}

// MarkRead は受信者スコープで通知を既読にする。
// 既読済みの通知への呼び出しも成功として扱う（冪等）。
// 受信者の通知として存在しない場合はNotFoundエラーを返す。
func (s *Service) MarkRead(ctx context.Context, recipient, id string) error {
	ok, err := s.repo.MarkRead(ctx, id, recipient)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotificationNotFoundError(id)
	}
	return nil
}

// MarkAllRead は受信者の全未読通知を既読にし、更新件数を返す。
func (s *Service) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipient)
}

// Delete は受信者スコープで通知を削除する。
// 受信者の通知として存在しない場合はNotFoundエラーを返す。
func (s *Service) Delete(ctx context.Context, recipient, id string) error {
	ok, err := s.repo.Delete(ctx, id, recipient)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotificationNotFoundError(id)
	}
	return nil
}
