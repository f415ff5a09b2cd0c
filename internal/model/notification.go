package model

import "time"

// NotificationType は通知の種別タグを表す。
type NotificationType string

const (
	NotificationNewOffer             NotificationType = "NEW_OFFER"
	NotificationOfferUpdated         NotificationType = "OFFER_UPDATED"
	NotificationOfferAccepted        NotificationType = "OFFER_ACCEPTED"
	NotificationOfferDenied          NotificationType = "OFFER_DENIED"
	NotificationOfferCancelled       NotificationType = "OFFER_CANCELLED"
	NotificationOfferConcluded       NotificationType = "OFFER_CONCLUDED"
	NotificationTransactionInitiated NotificationType = "TRANSACTION_INITIATED"
	NotificationPaymentConfirmed     NotificationType = "PAYMENT_CONFIRMED"
	NotificationPaymentFailed        NotificationType = "PAYMENT_FAILED"
	NotificationTransactionShipped   NotificationType = "TRANSACTION_SHIPPED"
	NotificationTransactionCompleted NotificationType = "TRANSACTION_COMPLETED"
	NotificationPaymentReleased      NotificationType = "PAYMENT_RELEASED"
	NotificationTransactionCancelled NotificationType = "TRANSACTION_CANCELLED"
	NotificationTransactionExpired   NotificationType = "TRANSACTION_EXPIRED"
	NotificationTransactionDisputed  NotificationType = "TRANSACTION_DISPUTED"
)

// Notification はユーザー宛の通知レコードを表す。
// 作成後はreadフラグ以外は変更されない。
// Dataには関連レコードのID等の識別子のみを含め、オブジェクト全体は含めない。
type Notification struct {
	ID        string
	Recipient string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationFilter は通知一覧の検索条件を表す。
// nil / 空文字のフィールドは条件に含めない。
type NotificationFilter struct {
	Read *bool
	Type NotificationType
}
