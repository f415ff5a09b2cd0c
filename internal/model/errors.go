// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, trade, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeArticleNotFound      = "ARTICLE_NOT_FOUND"
	ErrCodeOfferNotFound        = "OFFER_NOT_FOUND"
	ErrCodeTransactionNotFound  = "TRANSACTION_NOT_FOUND"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeDuplicateTransaction = "DUPLICATE_TRANSACTION"
	ErrCodeInvalidPrice         = "INVALID_PRICE"
	ErrCodeInvalidShipping      = "INVALID_SHIPPING_ADDRESS"
	ErrCodeInvalidDisputeReason = "INVALID_DISPUTE_REASON"
	ErrCodeArticleNotPublished  = "ARTICLE_NOT_PUBLISHED"
	ErrCodeOwnArticle           = "OWN_ARTICLE"
	ErrCodeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

// NewInternalServerError は詳細を伏せた内部エラーを生成する。
func NewInternalServerError() *APIError {
	return &APIError{
		Code:     ErrCodeInternalServerError,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく時間をおいてから再度お試しください。",
	}
}

// NewUnauthenticatedError は認証情報が欠落している場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証情報がありません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は呼び出し元に操作権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "対象の取引の当事者であることを確認してください。",
	}
}

// NewArticleNotFoundError は商品未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", articleID),
		Category: "trade",
		Action:   "商品IDを確認してください。",
	}
}

// NewOfferNotFoundError はオファー未検出エラーを生成する。
func NewOfferNotFoundError(offerID string) *APIError {
	return &APIError{
		Code:     ErrCodeOfferNotFound,
		Message:  fmt.Sprintf("指定されたオファーが見つかりません: %s", offerID),
		Category: "trade",
		Action:   "オファーIDを確認してください。",
	}
}

// NewTransactionNotFoundError は取引未検出エラーを生成する。
func NewTransactionNotFoundError(transactionID string) *APIError {
	return &APIError{
		Code:     ErrCodeTransactionNotFound,
		Message:  fmt.Sprintf("指定された取引が見つかりません: %s", transactionID),
		Category: "trade",
		Action:   "取引IDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "trade",
		Action:   "通知IDを確認してください。",
	}
}

// NewInvalidTransitionError は現在の状態から許可されない遷移が要求された場合のエラーを生成する。
func NewInvalidTransitionError(current, requested string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("現在の状態（%s）からは %s に遷移できません。", current, requested),
		Category: "trade",
		Action:   "最新の状態を取得してから再度お試しください。",
	}
}

// NewDuplicateTransactionError は同一オファーから2件目の取引を作成しようとした場合のエラーを生成する。
func NewDuplicateTransactionError(offerID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateTransaction,
		Message:  fmt.Sprintf("このオファーには既に取引が存在します: %s", offerID),
		Category: "trade",
		Action:   "既存の取引の状態を確認してください。",
	}
}

// NewInvalidPriceError は0以下の価格が指定された場合のエラーを生成する。
func NewInvalidPriceError(price float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrice,
		Message:  fmt.Sprintf("無効な価格です: %.2f", price),
		Category: "validation",
		Action:   "価格には0より大きい値を指定してください。",
	}
}

// NewInvalidShippingError は配送先の必須項目が欠落している場合のエラーを生成する。
func NewInvalidShippingError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidShipping,
		Message:  fmt.Sprintf("配送先の必須項目が未入力です: %s", field),
		Category: "validation",
		Action:   "氏名・住所・郵便番号・国をすべて入力してください。",
	}
}

// NewInvalidDisputeReasonError は未定義の紛争理由が指定された場合のエラーを生成する。
func NewInvalidDisputeReasonError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDisputeReason,
		Message:  fmt.Sprintf("無効な紛争理由です: %s", reason),
		Category: "validation",
		Action:   "紛争理由には ITEM_NOT_RECEIVED、ITEM_NOT_AS_DESCRIBED、PAYMENT_ISSUE、OTHER のいずれかを指定してください。",
	}
}

// NewArticleNotPublishedError は非公開の商品へのオファーを生成する。
func NewArticleNotPublishedError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotPublished,
		Message:  fmt.Sprintf("この商品は現在公開されていません: %s", articleID),
		Category: "trade",
		Action:   "公開中の商品に対してオファーしてください。",
	}
}

// NewOwnArticleError は自分の出品商品へのオファーを拒否するエラーを生成する。
func NewOwnArticleError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnArticle,
		Message:  "自分の出品商品にはオファーできません。",
		Category: "validation",
		Action:   "他のユーザーの商品に対してオファーしてください。",
	}
}
