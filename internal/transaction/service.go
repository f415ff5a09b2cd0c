// Package transaction はエスクロー型購入フローの状態機械を提供する。
// すべての遷移は期待事前状態を条件とする条件付き更新であり、
// 2つのバックグラウンドスイープと手動操作が同一取引上で競合しても安全に動作する。
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/repository"
)

// opsRecipient は紛争発生時に通知する運用チャンネルの受信者名。
const opsRecipient = "ops"

// sweepOpTimeout はバックグラウンド処理1件あたりのDB操作タイムアウト。
const sweepOpTimeout = 30 * time.Second

// Notifier は通知作成のインターフェース。notify.Serviceの部分集合として定義する。
type Notifier interface {
	Notify(ctx context.Context, recipient string, typ model.NotificationType, title, message string, data map[string]any) (*model.Notification, error)
}

// Sanitizer はユーザー入力の自由テキストを無害化するインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Metrics は状態遷移とスイープのメトリクス記録インターフェース。
type Metrics interface {
	RecordTransition(entity, toState string)
	RecordSweep(name string, processed, failed int)
}

// ServiceConfig はTransactionエンジンの時間パラメータを保持する。
type ServiceConfig struct {
	PendingExpiryAge time.Duration // PAYMENT_PENDINGの期限切れ年齢
	AutoCompleteAge  time.Duration // SHIPPEDの自動完了年齢
}

// Service は取引エンジンのサービス層。
type Service struct {
	txRepo      repository.TransactionRepository
	offerRepo   repository.OfferRepository
	articleRepo repository.ArticleRepository
	notifier    Notifier
	payments    PaymentSimulator
	sanitizer   Sanitizer
	metrics     Metrics
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する（テスト用）。
func NewService(
	txRepo repository.TransactionRepository,
	offerRepo repository.OfferRepository,
	articleRepo repository.ArticleRepository,
	notifier Notifier,
	payments PaymentSimulator,
	sanitizer Sanitizer,
	metrics Metrics,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		txRepo:      txRepo,
		offerRepo:   offerRepo,
		articleRepo: articleRepo,
		notifier:    notifier,
		payments:    payments,
		sanitizer:   sanitizer,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Initiate は承諾済みオファーから取引を開始する。
// オファーにつき取引は高々1件（2件目の作成はDUPLICATE_TRANSACTIONで失敗する）。
// 取引はPAYMENT_PENDINGで作成され、模擬決済の確認が遅延実行として予約される。
func (s *Service) Initiate(ctx context.Context, buyer, offerID string, shipping model.ShippingAddress) (*model.Transaction, error) {
	if err := shipping.Validate(); err != nil {
		return nil, err
	}

	offer, err := s.offerRepo.FindByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, model.NewOfferNotFoundError(offerID)
	}
	if offer.Username != buyer {
		return nil, model.NewForbiddenError()
	}
	if offer.Status != model.OfferStatusAccepted {
		return nil, model.NewInvalidTransitionError(string(offer.Status), string(model.TransactionStatusPaymentPending))
	}

	existing, err := s.txRepo.FindByOfferID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewDuplicateTransactionError(offerID)
	}

	now := time.Now().UTC()
	tx := &model.Transaction{
		ID:               uuid.New().String(),
		OfferID:          offerID,
		ArticleID:        offer.ArticleID,
		BuyerUsername:    buyer,
		SellerUsername:   offer.Seller,
		Amount:           offer.Price,
		Status:           model.TransactionStatusPaymentPending,
		PaymentReference: "PAY-" + uuid.New().String(),
		Shipping:         shipping,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.recordTransition(string(model.TransactionStatusPaymentPending))
	s.notify(ctx, tx.SellerUsername, model.NotificationTransactionInitiated,
		"取引が開始されました",
		fmt.Sprintf("%.2fの取引が開始されました。支払い確認をお待ちください。", tx.Amount),
		s.payload(tx, nil),
	)

	// 決済確認はリクエストのライフサイクルから切り離して実行される。
	// 確認時点で取引やオファーが既に動いている可能性があるため、
	// finishPayment側の条件付き更新で再検証する。
	s.payments.Schedule(tx.PaymentReference, func(succeeded bool) {
		s.finishPayment(tx.ID, offerID, succeeded)
	})

	return tx, nil
}

// finishPayment は模擬決済確認の結果を取引へ反映する。
// 対象の取引が既にPAYMENT_PENDINGを離れている場合は静かにno-opする。
func (s *Service) finishPayment(txID, offerID string, succeeded bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepOpTimeout)
	defer cancel()

	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		s.logger.Error("決済確認時の取引取得に失敗しました",
			slog.String("transaction_id", txID),
			slog.String("error", err.Error()),
		)
		return
	}
	if tx == nil {
		return
	}

	if !succeeded {
		ok, err := s.txRepo.Cancel(ctx, txID, model.TransactionStatusPaymentPending)
		if err != nil {
			s.logger.Error("決済失敗時の取引キャンセルに失敗しました",
				slog.String("transaction_id", txID),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			return
		}

		s.recordTransition(string(model.TransactionStatusCancelled))
		s.notify(ctx, tx.BuyerUsername, model.NotificationPaymentFailed,
			"支払いに失敗しました",
			"支払い処理に失敗したため、取引はキャンセルされました。",
			s.payload(tx, nil),
		)
		s.notify(ctx, tx.SellerUsername, model.NotificationPaymentFailed,
			"支払いに失敗しました",
			"買い手の支払い処理に失敗したため、取引はキャンセルされました。",
			s.payload(tx, nil),
		)
		return
	}

	ok, err := s.txRepo.ConfirmPayment(ctx, txID)
	if err != nil {
		s.logger.Error("支払い確認の反映に失敗しました",
			slog.String("transaction_id", txID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		// 先にキャンセル等で状態が動いている。確認は破棄する。
		s.logger.Info("支払い確認時には取引が既に別状態でした",
			slog.String("transaction_id", txID),
		)
		return
	}

	// オファーを成立済みへ。オファー側が動いていた場合はno-op。
	if _, err := s.offerRepo.UpdateStatus(ctx, offerID, model.OfferStatusAccepted, model.OfferStatusDone); err != nil {
		s.logger.Error("支払い確認時のオファー更新に失敗しました",
			slog.String("offer_id", offerID),
			slog.String("error", err.Error()),
		)
	}

	s.recordTransition(string(model.TransactionStatusPaymentConfirmed))
	s.notify(ctx, tx.BuyerUsername, model.NotificationPaymentConfirmed,
		"支払いが確認されました",
		fmt.Sprintf("%.2fの支払いが確認されました。発送をお待ちください。", tx.Amount),
		s.payload(tx, nil),
	)
	s.notify(ctx, tx.SellerUsername, model.NotificationPaymentConfirmed,
		"支払いが確認されました",
		fmt.Sprintf("%.2fの支払いが確認されました。商品を発送してください。", tx.Amount),
		s.payload(tx, nil),
	)
}

// MarkShipped は売り手による発送済みマークを行う。
// PAYMENT_CONFIRMEDからのみ許可され、配送業者・追跡番号・発送日時を記録する。
func (s *Service) MarkShipped(ctx context.Context, seller, txID, carrier, trackingNumber string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if tx.SellerUsername != seller {
		return nil, model.NewForbiddenError()
	}

	now := time.Now().UTC()
	ok, err := s.txRepo.MarkShipped(ctx, txID, carrier, trackingNumber, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, txID, model.TransactionStatusShipped)
	}
	tx.Status = model.TransactionStatusShipped
	tx.Carrier = carrier
	tx.TrackingNumber = trackingNumber
	tx.ShippedAt = &now

	s.recordTransition(string(model.TransactionStatusShipped))
	s.notify(ctx, tx.BuyerUsername, model.NotificationTransactionShipped,
		"商品が発送されました",
		shippedMessage(carrier, trackingNumber),
		s.payload(tx, map[string]any{"carrier": carrier, "tracking_number": trackingNumber}),
	)

	return tx, nil
}

// ConfirmDelivery は買い手による受取確認を行う。
// SHIPPEDからのみ許可され、支払いリリースと商品の売約済み化を同時に行う。
func (s *Service) ConfirmDelivery(ctx context.Context, buyer, txID string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if tx.BuyerUsername != buyer {
		return nil, model.NewForbiddenError()
	}

	now := time.Now().UTC()
	releaseRef := "REL-" + uuid.New().String()
	ok, err := s.txRepo.Complete(ctx, txID, releaseRef, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, txID, model.TransactionStatusCompleted)
	}
	tx.Status = model.TransactionStatusCompleted
	tx.DeliveryConfirmedAt = &now
	tx.PaymentReleasedAt = &now
	tx.PaymentReleaseReference = releaseRef

	if err := s.articleRepo.MarkPurchased(ctx, tx.ArticleID, buyer); err != nil {
		return nil, err
	}

	s.recordTransition(string(model.TransactionStatusCompleted))
	s.notify(ctx, tx.SellerUsername, model.NotificationPaymentReleased,
		"支払いがリリースされました",
		fmt.Sprintf("受取が確認され、%.2fの支払いがリリースされました。", tx.Amount),
		s.payload(tx, map[string]any{"release_reference": releaseRef}),
	)
	s.notify(ctx, tx.BuyerUsername, model.NotificationTransactionCompleted,
		"取引が完了しました",
		"受取確認が完了し、取引は終了しました。",
		s.payload(tx, nil),
	)

	return tx, nil
}

// OpenDispute は当事者による紛争の開始を行う。
// COMPLETEDとDISPUTEDからは開始できない。紛争の解決はコア外（手動運用）であり、
// DISPUTEDから離れるエンジン定義の遷移は存在しない。
func (s *Service) OpenDispute(ctx context.Context, caller, txID string, reason model.DisputeReason, description string) (*model.Transaction, error) {
	if !reason.Valid() {
		return nil, model.NewInvalidDisputeReasonError(string(reason))
	}

	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if !tx.IsParty(caller) {
		return nil, model.NewForbiddenError()
	}

	description = s.sanitizer.Sanitize(description)

	now := time.Now().UTC()
	ok, err := s.txRepo.OpenDispute(ctx, txID, reason, description, caller, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, txID, model.TransactionStatusDisputed)
	}
	tx.Status = model.TransactionStatusDisputed
	tx.DisputeReason = reason
	tx.DisputeDescription = description
	tx.DisputeOpenedBy = caller
	tx.DisputeOpenedAt = &now

	data := s.payload(tx, map[string]any{"reason": string(reason), "opened_by": caller})

	s.recordTransition(string(model.TransactionStatusDisputed))
	s.notify(ctx, tx.Counterpart(caller), model.NotificationTransactionDisputed,
		"紛争が開始されました",
		fmt.Sprintf("取引に対して紛争（%s）が開始されました。", reason),
		data,
	)
	s.notify(ctx, opsRecipient, model.NotificationTransactionDisputed,
		"紛争が開始されました",
		fmt.Sprintf("取引 %s に対して紛争（%s）が開始されました。", txID, reason),
		data,
	)

	return tx, nil
}

// Cancel は買い手による取引の中止を行う。
// PAYMENT_PENDINGからのみ許可される。
// オファーが既に成立済み（DONE）であればACCEPTEDへ戻す。
func (s *Service) Cancel(ctx context.Context, buyer, txID string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if tx.BuyerUsername != buyer {
		return nil, model.NewForbiddenError()
	}

	ok, err := s.txRepo.Cancel(ctx, txID, model.TransactionStatusPaymentPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, txID, model.TransactionStatusCancelled)
	}
	tx.Status = model.TransactionStatusCancelled

	if err := s.revertOffer(ctx, tx.OfferID); err != nil {
		s.logger.Error("取引キャンセル時のオファー差し戻しに失敗しました",
			slog.String("offer_id", tx.OfferID),
			slog.String("error", err.Error()),
		)
	}

	s.recordTransition(string(model.TransactionStatusCancelled))
	s.notify(ctx, tx.SellerUsername, model.NotificationTransactionCancelled,
		"取引がキャンセルされました",
		"買い手が取引をキャンセルしました。",
		s.payload(tx, nil),
	)

	return tx, nil
}

// Get は当事者スコープで取引を取得する。
func (s *Service) Get(ctx context.Context, caller, txID string) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if !tx.IsParty(caller) {
		return nil, model.NewForbiddenError()
	}
	return tx, nil
}

// ListForUser は呼び出し元が当事者である取引一覧を返す。
func (s *Service) ListForUser(ctx context.Context, caller string) ([]*model.Transaction, error) {
	return s.txRepo.ListForUser(ctx, caller)
}

// ExpireStalePending はPENDING期限切れスイープを1回実行する。
// PendingExpiryAgeより古いPAYMENT_PENDINGの取引をCANCELLEDへ遷移させ、
// オファーが成立済み（DONE）の場合のみACCEPTEDへ戻す。
// 1件の失敗は他のレコードの処理を妨げない。
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingExpiryAge)
	stale, err := s.txRepo.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れ取引の取得に失敗しました: %w", err)
	}

	processed, failed := 0, 0
	for _, tx := range stale {
		ok, err := s.txRepo.Cancel(ctx, tx.ID, model.TransactionStatusPaymentPending)
		if err != nil {
			failed++
			s.logger.Error("期限切れ取引のキャンセルに失敗しました",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			// 手動キャンセル等と競合して負けた。相手の遷移が有効。
			continue
		}

		if err := s.revertOffer(ctx, tx.OfferID); err != nil {
			s.logger.Error("期限切れ取引のオファー差し戻しに失敗しました",
				slog.String("offer_id", tx.OfferID),
				slog.String("error", err.Error()),
			)
		}

		s.recordTransition(string(model.TransactionStatusCancelled))
		s.notify(ctx, tx.BuyerUsername, model.NotificationTransactionExpired,
			"取引が期限切れになりました",
			"支払いが確認できなかったため、取引はキャンセルされました。",
			s.payload(tx, nil),
		)
		s.notify(ctx, tx.SellerUsername, model.NotificationTransactionExpired,
			"取引が期限切れになりました",
			"支払いが確認できなかったため、取引はキャンセルされました。オファーは承諾済みに戻りました。",
			s.payload(tx, nil),
		)
		processed++
	}

	if s.metrics != nil {
		s.metrics.RecordSweep("expire_stale_pending", processed, failed)
	}

	return processed, nil
}

// AutoCompleteShipped は発送済み自動完了スイープを1回実行する。
// AutoCompleteAgeより前に発送されたSHIPPEDの取引をCOMPLETEDへ遷移させ、
// 買い手起点の完了と区別するためautoフラグ付きで両当事者へ通知する。
func (s *Service) AutoCompleteShipped(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.AutoCompleteAge)
	stale, err := s.txRepo.ListStaleShipped(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("自動完了対象取引の取得に失敗しました: %w", err)
	}

	processed, failed := 0, 0
	for _, tx := range stale {
		now := time.Now().UTC()
		releaseRef := "REL-AUTO-" + uuid.New().String()

		ok, err := s.txRepo.Complete(ctx, tx.ID, releaseRef, now)
		if err != nil {
			failed++
			s.logger.Error("取引の自動完了に失敗しました",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}

		if err := s.articleRepo.MarkPurchased(ctx, tx.ArticleID, tx.BuyerUsername); err != nil {
			s.logger.Error("自動完了時の商品更新に失敗しました",
				slog.String("article_id", tx.ArticleID),
				slog.String("error", err.Error()),
			)
		}

		data := s.payload(tx, map[string]any{"auto": true, "release_reference": releaseRef})

		s.recordTransition(string(model.TransactionStatusCompleted))
		s.notify(ctx, tx.SellerUsername, model.NotificationPaymentReleased,
			"支払いがリリースされました",
			fmt.Sprintf("受取確認期限の経過により、%.2fの支払いが自動リリースされました。", tx.Amount),
			data,
		)
		s.notify(ctx, tx.BuyerUsername, model.NotificationTransactionCompleted,
			"取引が自動完了しました",
			"受取確認期限が経過したため、取引は自動的に完了しました。",
			data,
		)
		processed++
	}

	if s.metrics != nil {
		s.metrics.RecordSweep("auto_complete_shipped", processed, failed)
	}

	return processed, nil
}

// revertOffer はオファーが成立済み（DONE）の場合のみACCEPTEDへ戻す。
// それ以外の状態では何もしない。
func (s *Service) revertOffer(ctx context.Context, offerID string) error {
	_, err := s.offerRepo.UpdateStatus(ctx, offerID, model.OfferStatusDone, model.OfferStatusAccepted)
	return err
}

// resolveStale は条件付き更新が0行だった場合の方針を適用する。
// 再読込して既に目標状態であれば冪等なno-op成功、そうでなければInvalidTransitionを返す。
func (s *Service) resolveStale(ctx context.Context, txID string, target model.TransactionStatus) (*model.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewTransactionNotFoundError(txID)
	}
	if tx.Status == target {
		return tx, nil
	}
	return nil, model.NewInvalidTransitionError(string(tx.Status), string(target))
}

// payload は通知ペイロードの共通部分を構築する。
// 識別子のみを含め、オブジェクト全体は含めない。
func (s *Service) payload(tx *model.Transaction, extra map[string]any) map[string]any {
	data := map[string]any{
		"transaction_id": tx.ID,
		"offer_id":       tx.OfferID,
		"article_id":     tx.ArticleID,
		"amount":         tx.Amount,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// notify は通知を作成する。通知は遷移の副作用であり、
// 失敗しても遷移自体は失敗させずログに記録するだけにとどめる。
func (s *Service) notify(ctx context.Context, recipient string, typ model.NotificationType, title, message string, data map[string]any) {
	if _, err := s.notifier.Notify(ctx, recipient, typ, title, message, data); err != nil {
		s.logger.Error("通知の作成に失敗しました",
			slog.String("recipient", recipient),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) recordTransition(toState string) {
	if s.metrics != nil {
		s.metrics.RecordTransition("transaction", toState)
	}
}

func shippedMessage(carrier, trackingNumber string) string {
	if carrier == "" && trackingNumber == "" {
		return "商品が発送されました。到着後に受取確認をしてください。"
	}
	return fmt.Sprintf("商品が発送されました（%s / %s）。到着後に受取確認をしてください。", carrier, trackingNumber)
}
