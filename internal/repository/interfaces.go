// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// ArticleRepository は商品データの永続化インターフェース。
// カタログのCRUDは外部コラボレータの責務であり、ここでは取引コアが必要とする操作のみを定義する。
type ArticleRepository interface {
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// MarkPurchased は商品を購入済みにする。
	// bought_byに買い手を設定し、同時に非公開にする。
	MarkPurchased(ctx context.Context, articleID, buyer string) error

	// Unpublish は商品を非公開にする。
	Unpublish(ctx context.Context, articleID string) error
}

// OfferRepository はオファーデータの永続化インターフェース。
type OfferRepository interface {
	// FindByID は指定IDのオファーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Offer, error)

	// FindByArticleAndBuyer は(article_id, username)でオファーを検索する。
	// 一意性不変条件により高々1件。見つからない場合はnilを返す。
	FindByArticleAndBuyer(ctx context.Context, articleID, username string) (*model.Offer, error)

	// Create は新規オファーを作成する。
	// (article_id, username)のUNIQUE制約に違反した場合はエラーを返す。
	Create(ctx context.Context, offer *model.Offer) error

	// Reprice は既存オファーの価格を上書きし、状態を無条件にPENDINGへ戻す。
	// 再オファーは以前の状態に関わらず交渉を再開する。
	Reprice(ctx context.Context, id string, price float64) error

	// UpdateStatus は status = from の場合のみ to へ遷移させる条件付き更新を行う。
	// 遷移が適用された場合はtrueを返す。0行更新はfalse（競合か状態不一致）。
	UpdateStatus(ctx context.Context, id string, from, to model.OfferStatus) (bool, error)

	// UpdateStatusFromAny は現在状態がfromのいずれかの場合のみtoへ遷移させる。
	UpdateStatusFromAny(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error)

	// ListForUser は指定ユーザーが買い手または売り手であるオファー一覧を返す。
	ListForUser(ctx context.Context, username string) ([]*model.Offer, error)
}

// TransactionRepository は取引データの永続化インターフェース。
// 状態遷移はすべて期待事前状態を条件とする単一のUPDATE文で行い、
// 適用された場合のみtrueを返す。
type TransactionRepository interface {
	// FindByID は指定IDの取引を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Transaction, error)

	// FindByOfferID は指定オファーの取引を取得する。見つからない場合はnilを返す。
	// オファーごとの取引一意性の作成前チェックに使用する。
	FindByOfferID(ctx context.Context, offerID string) (*model.Transaction, error)

	// Create は新規取引をPAYMENT_PENDINGで作成する。
	// offer_idのUNIQUE制約に違反した場合はエラーを返す。
	Create(ctx context.Context, tx *model.Transaction) error

	// ConfirmPayment は PAYMENT_PENDING -> PAYMENT_CONFIRMED の条件付き遷移を行う。
	ConfirmPayment(ctx context.Context, id string) (bool, error)

	// MarkShipped は PAYMENT_CONFIRMED -> SHIPPED の条件付き遷移を行い、
	// 配送業者・追跡番号・発送日時を記録する。
	MarkShipped(ctx context.Context, id, carrier, trackingNumber string, shippedAt time.Time) (bool, error)

	// Complete は SHIPPED -> COMPLETED の条件付き遷移を行い、
	// 受取確認日時・支払いリリース日時・リリース参照を記録する。
	Complete(ctx context.Context, id, releaseReference string, at time.Time) (bool, error)

	// Cancel は現在状態がfromの場合のみCANCELLEDへ遷移させる。
	Cancel(ctx context.Context, id string, from model.TransactionStatus) (bool, error)

	// OpenDispute は現在状態がCOMPLETEDでもDISPUTEDでもない場合のみDISPUTEDへ遷移させ、
	// 紛争メタデータを記録する。
	OpenDispute(ctx context.Context, id string, reason model.DisputeReason, description, openedBy string, at time.Time) (bool, error)

	// ListStalePending はolderThanより前に作成されたPAYMENT_PENDINGの取引を返す。
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error)

	// ListStaleShipped はolderThanより前に発送されたSHIPPEDの取引を返す。
	ListStaleShipped(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error)

	// ListForUser は指定ユーザーが買い手または売り手である取引一覧を返す。
	ListForUser(ctx context.Context, username string) ([]*model.Transaction, error)
}

// NotificationRepository は通知データの永続化インターフェース。
type NotificationRepository interface {
	// Create は通知レコードを作成する。
	Create(ctx context.Context, n *model.Notification) error

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// ListByRecipient は受信者の通知をcreated_at降順・ページネーション付きで返す。
	// 2番目の戻り値はフィルタ適用後の総件数。
	ListByRecipient(ctx context.Context, recipient string, filter model.NotificationFilter, limit, offset int) ([]*model.Notification, int, error)

	// UnreadCount は受信者の未読通知数を返す。
	UnreadCount(ctx context.Context, recipient string) (int, error)

	// MarkRead は受信者スコープで通知を既読にする。
	// 対象が存在した場合はtrueを返す。既読済みでもtrue（冪等）。
	MarkRead(ctx context.Context, id, recipient string) (bool, error)

	// MarkAllRead は受信者の全未読通知を既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, recipient string) (int64, error)

	// Delete は受信者スコープで通知を削除する。対象が存在した場合はtrueを返す。
	Delete(ctx context.Context, id, recipient string) (bool, error)

	// DeleteReadOlderThan は指定年齢を超えた既読通知を削除し、削除件数を返す。
	DeleteReadOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// TokenRepository は認証トークンの永続化インターフェース。
type TokenRepository interface {
	// FindByToken は指定トークンを取得する。期限切れまたは未知の場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.AuthToken, error)

	// Create はトークンを作成する。
	Create(ctx context.Context, t *model.AuthToken) error

	// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
