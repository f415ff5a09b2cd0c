// Package offer は商品オファーの状態機械を提供する。
// (商品, 買い手) の組につきオファーは常に高々1件であり、
// すべての遷移は期待事前状態を条件とする条件付き更新で行う。
package offer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/repository"
)

// Notifier は通知作成のインターフェース。notify.Serviceの部分集合として定義する。
type Notifier interface {
	Notify(ctx context.Context, recipient string, typ model.NotificationType, title, message string, data map[string]any) (*model.Notification, error)
}

// Metrics は状態遷移のメトリクス記録インターフェース。
type Metrics interface {
	RecordTransition(entity, toState string)
}

// Service はオファーエンジンのサービス層。
type Service struct {
	offerRepo   repository.OfferRepository
	txRepo      repository.TransactionRepository
	articleRepo repository.ArticleRepository
	notifier    Notifier
	metrics     Metrics
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する（テスト用）。
func NewService(
	offerRepo repository.OfferRepository,
	txRepo repository.TransactionRepository,
	articleRepo repository.ArticleRepository,
	notifier Notifier,
	metrics Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		offerRepo:   offerRepo,
		txRepo:      txRepo,
		articleRepo: articleRepo,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Submit はオファーを提出する。
// (商品, 買い手) の組に既存オファーがなければPENDINGで新規作成し、
// 存在する場合は以前の状態に関わらず価格を上書きしてPENDINGへ戻す（再オファーは交渉を再開する）。
func (s *Service) Submit(ctx context.Context, buyer, articleID string, price float64) (*model.Offer, error) {
	if price <= 0 {
		return nil, model.NewInvalidPriceError(price)
	}

	article, err := s.articleRepo.FindByID(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, model.NewArticleNotFoundError(articleID)
	}
	if !article.Published {
		return nil, model.NewArticleNotPublishedError(articleID)
	}
	if article.Owner == buyer {
		return nil, model.NewOwnArticleError()
	}

	existing, err := s.offerRepo.FindByArticleAndBuyer(ctx, articleID, buyer)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		now := time.Now().UTC()
		offer := &model.Offer{
			ID:        uuid.New().String(),
			ArticleID: articleID,
			Seller:    article.Owner,
			Username:  buyer,
			Price:     price,
			Status:    model.OfferStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.offerRepo.Create(ctx, offer); err != nil {
			return nil, err
		}

		s.recordTransition(string(model.OfferStatusPending))
		s.notify(ctx, article.Owner, model.NotificationNewOffer,
			"新しいオファー",
			fmt.Sprintf("「%s」に%.2fのオファーが届きました。", article.Name, price),
			map[string]any{"offer_id": offer.ID, "article_id": articleID, "price": price},
		)

		return offer, nil
	}

	if err := s.offerRepo.Reprice(ctx, existing.ID, price); err != nil {
		return nil, err
	}
	existing.Price = price
	existing.Status = model.OfferStatusPending
	existing.UpdatedAt = time.Now().UTC()

	s.recordTransition(string(model.OfferStatusPending))
	s.notify(ctx, article.Owner, model.NotificationOfferUpdated,
		"オファーが更新されました",
		fmt.Sprintf("「%s」のオファーが%.2fに更新されました。", article.Name, price),
		map[string]any{"offer_id": existing.ID, "article_id": articleID, "price": price},
	)

	return existing, nil
}

// Decide は売り手によるオファーの承諾または拒否を行う。
// PENDING以外からの遷移は拒否される。
func (s *Service) Decide(ctx context.Context, seller, offerID string, accept bool) (*model.Offer, error) {
	offer, err := s.offerRepo.FindByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, model.NewOfferNotFoundError(offerID)
	}
	if offer.Seller != seller {
		return nil, model.NewForbiddenError()
	}

	target := model.OfferStatusAccepted
	typ := model.NotificationOfferAccepted
	title := "オファーが承諾されました"
	if !accept {
		target = model.OfferStatusDenied
		typ = model.NotificationOfferDenied
		title = "オファーが拒否されました"
	}

	ok, err := s.offerRepo.UpdateStatus(ctx, offerID, model.OfferStatusPending, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, offerID, target)
	}
	offer.Status = target

	s.recordTransition(string(target))
	s.notify(ctx, offer.Username, typ, title,
		fmt.Sprintf("%.2fのオファーが%sされました。", offer.Price, decisionLabel(accept)),
		map[string]any{"offer_id": offer.ID, "article_id": offer.ArticleID, "price": offer.Price},
	)

	return offer, nil
}

// Cancel は当事者によるオファーの取り下げを行う。
// PENDINGまたはACCEPTEDからのみ許可される。相手方に通知する。
func (s *Service) Cancel(ctx context.Context, caller, offerID string) (*model.Offer, error) {
	offer, err := s.offerRepo.FindByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, model.NewOfferNotFoundError(offerID)
	}
	if !offer.IsParty(caller) {
		return nil, model.NewForbiddenError()
	}

	// 進行中の取引があるオファーはこの経路では取り下げられない。
	// 取引キャンセル側がオファーをACCEPTEDへ戻すため、そちらを使う。
	existing, err := s.txRepo.FindByOfferID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != model.TransactionStatusCancelled {
		return nil, model.NewDuplicateTransactionError(offerID)
	}

	ok, err := s.offerRepo.UpdateStatusFromAny(ctx, offerID,
		[]model.OfferStatus{model.OfferStatusPending, model.OfferStatusAccepted},
		model.OfferStatusCancelled,
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, offerID, model.OfferStatusCancelled)
	}
	offer.Status = model.OfferStatusCancelled

	s.recordTransition(string(model.OfferStatusCancelled))
	s.notify(ctx, offer.Counterpart(caller), model.NotificationOfferCancelled,
		"オファーがキャンセルされました",
		fmt.Sprintf("%.2fのオファーがキャンセルされました。", offer.Price),
		map[string]any{"offer_id": offer.ID, "article_id": offer.ArticleID},
	)

	return offer, nil
}

// Conclude は買い手によるオファーの直接成立を行う。
// エスクロー取引を経由しない完了経路であり、取引が存在するオファーでは使用できない
// （どちらか一方の経路でDONEに達したオファーはもう一方の経路から再訪されない）。
// 成立時に商品を購入済み・非公開にする。
func (s *Service) Conclude(ctx context.Context, buyer, offerID string) (*model.Offer, error) {
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

	existing, err := s.txRepo.FindByOfferID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewDuplicateTransactionError(offerID)
	}

	ok, err := s.offerRepo.UpdateStatus(ctx, offerID, model.OfferStatusAccepted, model.OfferStatusDone)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolveStale(ctx, offerID, model.OfferStatusDone)
	}
	offer.Status = model.OfferStatusDone

	if err := s.articleRepo.MarkPurchased(ctx, offer.ArticleID, buyer); err != nil {
		return nil, err
	}

	s.recordTransition(string(model.OfferStatusDone))
	s.notify(ctx, offer.Seller, model.NotificationOfferConcluded,
		"オファーが成立しました",
		fmt.Sprintf("%.2fのオファーが成立し、商品は売約済みになりました。", offer.Price),
		map[string]any{"offer_id": offer.ID, "article_id": offer.ArticleID, "price": offer.Price},
	)

	return offer, nil
}

// Get は当事者スコープでオファーを取得する。
func (s *Service) Get(ctx context.Context, caller, offerID string) (*model.Offer, error) {
	offer, err := s.offerRepo.FindByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, model.NewOfferNotFoundError(offerID)
	}
	if !offer.IsParty(caller) {
		return nil, model.NewForbiddenError()
	}
	return offer, nil
}

// ListForUser は呼び出し元が当事者であるオファー一覧を返す。
func (s *Service) ListForUser(ctx context.Context, caller string) ([]*model.Offer, error) {
	return s.offerRepo.ListForUser(ctx, caller)
}

// resolveStale は条件付き更新が0行だった場合の方針を適用する。
// 再読込して既に目標状態であれば冪等なno-op成功、そうでなければInvalidTransitionを返す。
func (s *Service) resolveStale(ctx context.Context, offerID string, target model.OfferStatus) (*model.Offer, error) {
	offer, err := s.offerRepo.FindByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, model.NewOfferNotFoundError(offerID)
	}
	if offer.Status == target {
		return offer, nil
	}
	return nil, model.NewInvalidTransitionError(string(offer.Status), string(target))
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
		s.metrics.RecordTransition("offer", toState)
	}
}

func decisionLabel(accept bool) string {
	if accept {
		return "承諾"
	}
	return "拒否"
}
