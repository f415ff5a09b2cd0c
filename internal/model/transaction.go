package model

import "time"

// TransactionStatus はエスクロー取引の状態を表す。
type TransactionStatus string

const (
	// TransactionStatusPaymentPending は支払い確認待ちの状態。
	TransactionStatusPaymentPending TransactionStatus = "PAYMENT_PENDING"
	// TransactionStatusPaymentConfirmed は支払いが確認された状態。
	TransactionStatusPaymentConfirmed TransactionStatus = "PAYMENT_CONFIRMED"
	// TransactionStatusShipped は売り手が発送済みの状態。
	TransactionStatusShipped TransactionStatus = "SHIPPED"
	// TransactionStatusCompleted は受取確認と支払いリリースが完了した状態。
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	// TransactionStatusCancelled は取引が中止された状態。
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
	// TransactionStatusDisputed は紛争中の状態。エンジン定義の遷移はここから存在しない。
	TransactionStatusDisputed TransactionStatus = "DISPUTED"
)

// Valid は定義済みの取引状態かどうかを返す。
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPaymentPending, TransactionStatusPaymentConfirmed,
		TransactionStatusShipped, TransactionStatusCompleted,
		TransactionStatusCancelled, TransactionStatusDisputed:
		return true
	}
	return false
}

// Disputable はこの状態から紛争を開始できるかどうかを返す。
// COMPLETEDとDISPUTEDからは開始できない。
func (s TransactionStatus) Disputable() bool {
	return s != TransactionStatusCompleted && s != TransactionStatusDisputed
}

// DisputeReason は紛争の理由を表す。
type DisputeReason string

const (
	DisputeReasonItemNotReceived    DisputeReason = "ITEM_NOT_RECEIVED"
	DisputeReasonItemNotAsDescribed DisputeReason = "ITEM_NOT_AS_DESCRIBED"
	DisputeReasonPaymentIssue       DisputeReason = "PAYMENT_ISSUE"
	DisputeReasonOther              DisputeReason = "OTHER"
)

// Valid は定義済みの紛争理由かどうかを返す。
func (r DisputeReason) Valid() bool {
	switch r {
	case DisputeReasonItemNotReceived, DisputeReasonItemNotAsDescribed,
		DisputeReasonPaymentIssue, DisputeReasonOther:
		return true
	}
	return false
}

// ShippingAddress は取引の配送先を表す。
type ShippingAddress struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Validate は必須項目が入力されているかを検証する。
// 欠落している場合は最初に見つかった項目名のバリデーションエラーを返す。
func (a ShippingAddress) Validate() error {
	switch {
	case a.Name == "":
		return NewInvalidShippingError("name")
	case a.Street == "":
		return NewInvalidShippingError("street")
	case a.City == "":
		return NewInvalidShippingError("city")
	case a.PostalCode == "":
		return NewInvalidShippingError("postal_code")
	case a.Country == "":
		return NewInvalidShippingError("country")
	}
	return nil
}

// Transaction は承諾済みオファーから生成されるエスクロー型の購入記録を表す。
// 1件のオファーにつき高々1件しか存在しない。
// 状態の変更はすべてTransactionEngineの条件付き更新を通じてのみ行われる。
type Transaction struct {
	ID                      string
	OfferID                 string
	ArticleID               string
	BuyerUsername           string
	SellerUsername          string
	Amount                  float64
	Status                  TransactionStatus
	PaymentReference        string
	Shipping                ShippingAddress
	Carrier                 string
	TrackingNumber          string
	ShippedAt               *time.Time
	DeliveryConfirmedAt     *time.Time
	PaymentReleasedAt       *time.Time
	PaymentReleaseReference string
	DisputeReason           DisputeReason
	DisputeDescription      string
	DisputeOpenedBy         string
	DisputeOpenedAt         *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// IsParty は指定ユーザーがこの取引の当事者かどうかを返す。
func (t *Transaction) IsParty(username string) bool {
	return t.BuyerUsername == username || t.SellerUsername == username
}

// Counterpart は指定ユーザーから見た相手方のユーザー名を返す。
func (t *Transaction) Counterpart(username string) string {
	if t.BuyerUsername == username {
		return t.SellerUsername
	}
	return t.BuyerUsername
}
