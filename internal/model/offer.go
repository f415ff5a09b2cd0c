// Package model はドメインモデルを定義する。
package model

import "time"

// OfferStatus はオファーの状態を表す。
type OfferStatus string

const (
	// OfferStatusPending は売り手の判断待ちの状態。
	OfferStatusPending OfferStatus = "PENDING"
	// OfferStatusAccepted は売り手が承諾した状態。
	OfferStatusAccepted OfferStatus = "ACCEPTED"
	// OfferStatusDenied は売り手が拒否した状態。
	OfferStatusDenied OfferStatus = "DENIED"
	// OfferStatusCancelled は当事者が取り下げた状態。
	OfferStatusCancelled OfferStatus = "CANCELLED"
	// OfferStatusDone は取引成立により完了した状態。
	OfferStatusDone OfferStatus = "DONE"
)

// Valid は定義済みのオファー状態かどうかを返す。
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusPending, OfferStatusAccepted, OfferStatusDenied,
		OfferStatusCancelled, OfferStatusDone:
		return true
	}
	return false
}

// Cancellable はこの状態からキャンセルへ遷移できるかどうかを返す。
// キャンセルはPENDINGまたはACCEPTEDからのみ許可される。
func (s OfferStatus) Cancellable() bool {
	return s == OfferStatusPending || s == OfferStatusAccepted
}

// Offer は商品に対する買い手の価格提案を表す。
// (ArticleID, Username) の組につき常に高々1件存在する。
// 再オファーは既存行の価格を上書きし、状態をPENDINGに戻す。
type Offer struct {
	ID        string
	ArticleID string
	Seller    string
	Username  string // 買い手
	Price     float64
	Status    OfferStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParty は指定ユーザーがこのオファーの当事者（買い手または売り手）かどうかを返す。
func (o *Offer) IsParty(username string) bool {
	return o.Username == username || o.Seller == username
}

// Counterpart は指定ユーザーから見た相手方のユーザー名を返す。
func (o *Offer) Counterpart(username string) string {
	if o.Username == username {
		return o.Seller
	}
	return o.Username
}
